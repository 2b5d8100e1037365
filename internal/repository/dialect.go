package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	internalerrors "github.com/Schera-ole/shapementor/internal/errors"
	models "github.com/Schera-ole/shapementor/internal/model"
)

// Names of the database/sql drivers registered by pgx and modernc.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

// Constraint names used by the schema in internal/migration.
const (
	constraintUserEmail     = "users_email_key"
	constraintMetricsUser   = "body_metrics_user_id_fkey"
	constraintMetricsLookup = "body_metrics_metric_index_fkey"
)

// errForeignKey marks a foreign key violation the driver could not attribute
// to a single constraint.
var errForeignKey = errors.New("foreign key violation")

// dialect hides the differences between the SQL backends.
type dialect struct {
	driver string

	// classify maps a driver error onto the sentinel errors
	classify func(err error) error

	// timeArg converts a timestamp into a query argument
	timeArg func(t time.Time) any

	// dateArg converts a calendar date into a query argument
	dateArg func(d models.Date) any
}

var postgresDialect = dialect{
	driver:   DriverPostgres,
	classify: classifyPostgres,
	timeArg:  func(t time.Time) any { return t },
	dateArg:  func(d models.Date) any { return d.Time },
}

// SQLite has no date types, so values are stored as text in the canonical layouts.
var sqliteDialect = dialect{
	driver:   DriverSQLite,
	classify: classifySQLite,
	timeArg:  func(t time.Time) any { return models.FormatTimestamp(t) },
	dateArg:  func(d models.Date) any { return d.String() },
}

// rebind rewrites "?" placeholders into the "$n" form expected by Postgres.
func (d dialect) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// wrap classifies err and keeps it in the chain.
func (d dialect) wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if sentinel := d.classify(err); sentinel != nil {
		return fmt.Errorf("%w: %s: %w", sentinel, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func classifyPostgres(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgerrcode.UniqueViolation:
			if pgErr.ConstraintName == constraintUserEmail {
				return internalerrors.ErrDuplicateEmail
			}
			return internalerrors.ErrConflict
		case pgErr.Code == pgerrcode.ForeignKeyViolation:
			switch pgErr.ConstraintName {
			case constraintMetricsLookup:
				return internalerrors.ErrUnknownMetric
			case constraintMetricsUser:
				return internalerrors.ErrUserNotFound
			}
			return errForeignKey
		case pgErr.Code == pgerrcode.StringDataRightTruncationDataException,
			pgErr.Code == pgerrcode.NotNullViolation,
			pgErr.Code == pgerrcode.InvalidDatetimeFormat:
			return internalerrors.ErrInvalidInput
		case pgerrcode.IsConnectionException(pgErr.Code),
			pgerrcode.IsInsufficientResources(pgErr.Code),
			pgerrcode.IsOperatorIntervention(pgErr.Code),
			pgerrcode.IsTransactionRollback(pgErr.Code):
			return internalerrors.ErrStorageUnavailable
		}
		return nil
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return internalerrors.ErrStorageUnavailable
	}
	return classifyConnection(err)
}

func classifySQLite(err error) error {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		msg := liteErr.Error()
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_CONSTRAINT:
			// extended codes are not always reported, the message is
			switch {
			case strings.Contains(msg, "users.email"):
				return internalerrors.ErrDuplicateEmail
			case strings.Contains(msg, "UNIQUE"), strings.Contains(msg, "PRIMARY KEY"):
				return internalerrors.ErrConflict
			case strings.Contains(msg, "FOREIGN KEY"):
				return errForeignKey
			}
			return internalerrors.ErrInvalidInput
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_IOERR,
			sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_FULL:
			return internalerrors.ErrStorageUnavailable
		}
		return nil
	}
	return classifyConnection(err)
}

func classifyConnection(err error) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return internalerrors.ErrStorageUnavailable
	}
	return nil
}

// IsRetryable reports whether err is a transient storage failure worth retrying
// at the caller.
func IsRetryable(err error) bool {
	return errors.Is(err, internalerrors.ErrStorageUnavailable)
}

// sqlTime scans timestamp and date columns from either backend.
type sqlTime struct {
	Time  time.Time
	Valid bool
}

var sqlTimeLayouts = []string{
	models.TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	models.DateLayout,
}

// Scan implements sql.Scanner.
func (t *sqlTime) Scan(src any) error {
	var text string
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		text = v
	case []byte:
		text = string(v)
	default:
		return fmt.Errorf("unsupported time value %T", src)
	}
	for _, layout := range sqlTimeLayouts {
		parsed, err := time.ParseInLocation(layout, text, time.UTC)
		if err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("unsupported time format %q", text)
}
