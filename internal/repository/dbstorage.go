package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	internalerrors "github.com/Schera-ole/shapementor/internal/errors"
	models "github.com/Schera-ole/shapementor/internal/model"
)

const userColumns = "user_id, user_name, email, dob, gender, race, phone_number, activated, hashed_password"

// DBStorage implements the Repository interface on top of database/sql.
// The same queries serve PostgreSQL and SQLite.
type DBStorage struct {
	db      *sql.DB
	dialect dialect
}

// NewDBStorage opens a PostgreSQL store through the pgx driver.
func NewDBStorage(dsn string) (*DBStorage, error) {
	dbConnect, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, err
	}
	return &DBStorage{db: dbConnect, dialect: postgresDialect}, nil
}

// SQLiteDSN returns the connection string for the SQLite file at path with
// foreign keys and WAL enabled on every connection. The path is percent-encoded
// so that '?', '#' and '%' in file names survive URI parsing.
func SQLiteDSN(path string) string {
	return "file:" + (&url.URL{Path: path}).EscapedPath() + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// NewSQLiteStorage opens a SQLite store at path.
func NewSQLiteStorage(path string) (*DBStorage, error) {
	dbConnect, err := sql.Open(DriverSQLite, SQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite allows a single writer
	dbConnect.SetMaxOpenConns(1)
	return &DBStorage{db: dbConnect, dialect: sqliteDialect}, nil
}

// Driver returns the database/sql driver name of the store.
func (storage *DBStorage) Driver() string {
	return storage.dialect.driver
}

func (storage *DBStorage) Close() error {
	return storage.db.Close()
}

func (storage *DBStorage) Ping(ctx context.Context) error {
	if err := storage.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: database ping failed: %w", internalerrors.ErrStorageUnavailable, err)
	}
	return nil
}

func (storage *DBStorage) scanUser(row interface{ Scan(...any) error }) (models.User, error) {
	var (
		user models.User
		dob  sqlTime
	)
	err := row.Scan(&user.ID, &user.UserName, &user.Email, &dob,
		&user.Gender, &user.Race, &user.PhoneNumber, &user.Activated, &user.HashedPassword)
	if err != nil {
		return models.User{}, err
	}
	if dob.Valid {
		date := models.NewDate(dob.Time)
		user.DOB = &date
	}
	return user, nil
}

func (storage *DBStorage) findUser(ctx context.Context, column string, arg any) (models.User, error) {
	query := storage.dialect.rebind("SELECT " + userColumns + " FROM users WHERE " + column + " = ?")
	user, err := storage.scanUser(storage.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, internalerrors.ErrUserNotFound
	}
	if err != nil {
		return models.User{}, storage.dialect.wrap(err, "error retrieving user")
	}
	return user, nil
}

func (storage *DBStorage) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	return storage.findUser(ctx, "email", email)
}

func (storage *DBStorage) FindUserByID(ctx context.Context, id int64) (models.User, error) {
	return storage.findUser(ctx, "user_id", id)
}

// UpsertUserByEmail relies on the unique email constraint: a concurrent insert
// of the same email turns into a no-op and both callers read the same row.
func (storage *DBStorage) UpsertUserByEmail(ctx context.Context, user models.User) (models.User, error) {
	query := storage.dialect.rebind(`INSERT INTO users (user_name, email, dob, gender, race, phone_number, activated, hashed_password)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO NOTHING`)
	var dob any
	if user.DOB != nil {
		dob = storage.dialect.dateArg(*user.DOB)
	}
	_, err := storage.db.ExecContext(ctx, query, user.UserName, user.Email, dob,
		user.Gender, user.Race, user.PhoneNumber, user.Activated, user.HashedPassword)
	if err != nil {
		return models.User{}, storage.dialect.wrap(err, "error saving user")
	}
	return storage.FindUserByEmail(ctx, user.Email)
}

func (storage *DBStorage) UpdateUser(ctx context.Context, id int64, patch models.UserPatch) (models.User, error) {
	if patch.IsEmpty() {
		return storage.FindUserByID(ctx, id)
	}

	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	optional := func(column string, value *string) {
		if value == nil {
			return
		}
		if *value == "" {
			set(column, nil)
			return
		}
		set(column, *value)
	}

	if patch.UserName != nil {
		set("user_name", *patch.UserName)
	}
	if patch.Email != nil {
		set("email", *patch.Email)
	}
	if patch.DOB != nil {
		if patch.DOB.IsZero() {
			set("dob", nil)
		} else {
			set("dob", storage.dialect.dateArg(*patch.DOB))
		}
	}
	optional("gender", patch.Gender)
	optional("race", patch.Race)
	optional("phone_number", patch.PhoneNumber)
	args = append(args, id)

	query := storage.dialect.rebind("UPDATE users SET " + strings.Join(sets, ", ") +
		" WHERE user_id = ? RETURNING " + userColumns)
	user, err := storage.scanUser(storage.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, internalerrors.ErrUserNotFound
	}
	if err != nil {
		return models.User{}, storage.dialect.wrap(err, "error updating user")
	}
	return user, nil
}

func (storage *DBStorage) LookupMetric(ctx context.Context, index string) (models.MetricDefinition, error) {
	def := models.MetricDefinition{Index: index}
	query := storage.dialect.rebind("SELECT metric_name, metric_unit FROM body_metrics_lookup WHERE metric_index = ?")
	err := storage.db.QueryRowContext(ctx, query, index).Scan(&def.Name, &def.Unit)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MetricDefinition{}, fmt.Errorf("%w: %q", internalerrors.ErrUnknownMetric, index)
	}
	if err != nil {
		return models.MetricDefinition{}, storage.dialect.wrap(err, "error retrieving metric definition")
	}
	return def, nil
}

func (storage *DBStorage) ListDefinitions(ctx context.Context) ([]models.MetricDefinition, error) {
	query := "SELECT metric_index, metric_name, metric_unit FROM body_metrics_lookup ORDER BY metric_index"
	rows, err := storage.db.QueryContext(ctx, query)
	if err != nil {
		return nil, storage.dialect.wrap(err, "error retrieving metric definitions")
	}
	defer rows.Close()

	definitions := []models.MetricDefinition{}
	for rows.Next() {
		var def models.MetricDefinition
		if err = rows.Scan(&def.Index, &def.Name, &def.Unit); err != nil {
			return nil, fmt.Errorf("error scanning metric definition: %w", err)
		}
		definitions = append(definitions, def)
	}
	if err = rows.Err(); err != nil {
		return nil, storage.dialect.wrap(err, "error iterating over metric definitions")
	}
	return definitions, nil
}

func (storage *DBStorage) ListObservations(ctx context.Context, userID int64) ([]models.MetricRecord, error) {
	var exists bool
	query := storage.dialect.rebind("SELECT EXISTS(SELECT 1 FROM users WHERE user_id = ?)")
	if err := storage.db.QueryRowContext(ctx, query, userID).Scan(&exists); err != nil {
		return nil, storage.dialect.wrap(err, "error checking if user exists")
	}
	if !exists {
		return nil, internalerrors.ErrUserNotFound
	}

	query = storage.dialect.rebind(`SELECT m."timestamp", m.metric_index, m.value, l.metric_name, l.metric_unit
		FROM body_metrics m
		JOIN body_metrics_lookup l ON l.metric_index = m.metric_index
		WHERE m.user_id = ?
		ORDER BY m."timestamp", m.metric_index`)
	rows, err := storage.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, storage.dialect.wrap(err, "error retrieving body metrics")
	}
	defer rows.Close()

	records := []models.MetricRecord{}
	for rows.Next() {
		var (
			record models.MetricRecord
			ts     sqlTime
		)
		err = rows.Scan(&ts, &record.MetricIndex, &record.Value, &record.MetricName, &record.MetricUnit)
		if err != nil {
			return nil, fmt.Errorf("error scanning body metric: %w", err)
		}
		record.Timestamp = ts.Time
		records = append(records, record)
	}
	if err = rows.Err(); err != nil {
		return nil, storage.dialect.wrap(err, "error iterating over body metrics")
	}
	return records, nil
}

func (storage *DBStorage) AddObservation(ctx context.Context, obs models.MetricObservation) error {
	query := storage.dialect.rebind(`INSERT INTO body_metrics (user_id, "timestamp", metric_index, value) VALUES (?, ?, ?, ?)`)
	_, err := storage.db.ExecContext(ctx, query,
		obs.UserID, storage.dialect.timeArg(obs.Timestamp), obs.MetricIndex, obs.Value)
	if err == nil {
		return nil
	}
	err = storage.dialect.wrap(err, "error saving body metric")
	if errors.Is(err, errForeignKey) {
		return storage.explainForeignKey(ctx, obs, err)
	}
	return err
}

// explainForeignKey finds which reference of obs is missing.
func (storage *DBStorage) explainForeignKey(ctx context.Context, obs models.MetricObservation, cause error) error {
	if _, err := storage.FindUserByID(ctx, obs.UserID); err != nil {
		return err
	}
	if _, err := storage.LookupMetric(ctx, obs.MetricIndex); err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", internalerrors.ErrInvalidInput, cause)
}

func (storage *DBStorage) DeleteObservation(ctx context.Context, userID int64, ts time.Time, index string) error {
	query := storage.dialect.rebind(`DELETE FROM body_metrics WHERE user_id = ? AND "timestamp" = ? AND metric_index = ?`)
	result, err := storage.db.ExecContext(ctx, query, userID, storage.dialect.timeArg(ts), index)
	if err != nil {
		return storage.dialect.wrap(err, "error deleting body metric")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.dialect.wrap(err, "error deleting body metric")
	}
	if affected == 0 {
		return internalerrors.ErrObservationNotFound
	}
	return nil
}
