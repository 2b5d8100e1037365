package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalerrors "github.com/Schera-ole/shapementor/internal/errors"
	models "github.com/Schera-ole/shapementor/internal/model"
)

func strPtr(s string) *string { return &s }

// testRepository runs the behaviour every Repository implementation shares.
func testRepository(t *testing.T, newRepo func(t *testing.T) Repository) {
	t.Run("catalog", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		defs, err := repo.ListDefinitions(ctx)
		require.NoError(t, err)
		assert.Equal(t, models.DefaultCatalog, defs)

		def, err := repo.LookupMetric(ctx, "weight_kg")
		require.NoError(t, err)
		assert.Equal(t, models.MetricDefinition{Index: "weight_kg", Name: "Weight", Unit: "kg"}, def)

		_, err = repo.LookupMetric(ctx, "shoe_size")
		assert.ErrorIs(t, err, internalerrors.ErrUnknownMetric)
	})

	t.Run("upsert user by email", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		first, err := repo.UpsertUserByEmail(ctx, models.NewUser("a.b@x.com"))
		require.NoError(t, err)
		assert.NotZero(t, first.ID)
		assert.Equal(t, "a.b", first.UserName)
		assert.True(t, first.Activated)
		assert.Equal(t, models.PlaceholderPassword, first.HashedPassword)

		again, err := repo.UpsertUserByEmail(ctx, models.NewUser("a.b@x.com"))
		require.NoError(t, err)
		assert.Equal(t, first, again)

		other, err := repo.UpsertUserByEmail(ctx, models.NewUser("c@x.com"))
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, other.ID)

		byEmail, err := repo.FindUserByEmail(ctx, "a.b@x.com")
		require.NoError(t, err)
		assert.Equal(t, first, byEmail)

		byID, err := repo.FindUserByID(ctx, other.ID)
		require.NoError(t, err)
		assert.Equal(t, other, byID)

		_, err = repo.FindUserByEmail(ctx, "nobody@x.com")
		assert.ErrorIs(t, err, internalerrors.ErrUserNotFound)
		_, err = repo.FindUserByID(ctx, other.ID+100)
		assert.ErrorIs(t, err, internalerrors.ErrUserNotFound)
	})

	t.Run("concurrent upsert creates one user", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		const workers = 8
		ids := make([]int64, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				user, err := repo.UpsertUserByEmail(ctx, models.NewUser("race@x.com"))
				ids[i], errs[i] = user.ID, err
			}(i)
		}
		wg.Wait()

		for i := 0; i < workers; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, ids[0], ids[i])
		}
	})

	t.Run("update user", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		user, err := repo.UpsertUserByEmail(ctx, models.NewUser("old@x.com"))
		require.NoError(t, err)
		bystander, err := repo.UpsertUserByEmail(ctx, models.NewUser("bystander@x.com"))
		require.NoError(t, err)

		dob := models.NewDate(time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC))
		updated, err := repo.UpdateUser(ctx, user.ID, models.UserPatch{
			UserName: strPtr("X"),
			DOB:      &dob,
			Gender:   strPtr("female"),
		})
		require.NoError(t, err)
		assert.Equal(t, "X", updated.UserName)
		assert.Equal(t, "old@x.com", updated.Email)
		require.NotNil(t, updated.DOB)
		assert.Equal(t, "1990-05-17", updated.DOB.String())
		assert.Equal(t, "female", *updated.Gender)
		assert.Nil(t, updated.Race)

		stored, err := repo.FindUserByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, updated, stored)

		cleared, err := repo.UpdateUser(ctx, user.ID, models.UserPatch{Gender: strPtr(""), DOB: &models.Date{}})
		require.NoError(t, err)
		assert.Nil(t, cleared.Gender)
		assert.Nil(t, cleared.DOB)
		assert.Equal(t, "X", cleared.UserName)

		unchanged, err := repo.UpdateUser(ctx, user.ID, models.UserPatch{})
		require.NoError(t, err)
		assert.Equal(t, cleared, unchanged)

		_, err = repo.UpdateUser(ctx, user.ID, models.UserPatch{Email: strPtr("bystander@x.com")})
		assert.ErrorIs(t, err, internalerrors.ErrDuplicateEmail)

		_, err = repo.UpdateUser(ctx, bystander.ID+100, models.UserPatch{UserName: strPtr("ghost")})
		assert.ErrorIs(t, err, internalerrors.ErrUserNotFound)

		after, err := repo.FindUserByID(ctx, bystander.ID)
		require.NoError(t, err)
		assert.Equal(t, bystander, after)
	})

	t.Run("ledger", func(t *testing.T) {
		repo := newRepo(t)
		ctx := context.Background()

		user, err := repo.UpsertUserByEmail(ctx, models.NewUser("ledger@x.com"))
		require.NoError(t, err)
		empty, err := repo.UpsertUserByEmail(ctx, models.NewUser("empty@x.com"))
		require.NoError(t, err)

		t0 := time.Date(2024, 3, 1, 8, 30, 0, 123_456_000, time.UTC)
		t1 := t0.Add(time.Second)
		observations := []models.MetricObservation{
			{UserID: user.ID, Timestamp: t1, MetricIndex: "weight_kg", Value: 70.1},
			{UserID: user.ID, Timestamp: t0, MetricIndex: "weight_kg", Value: 70.5},
			{UserID: user.ID, Timestamp: t0, MetricIndex: "height_cm", Value: 180},
		}
		for _, obs := range observations {
			require.NoError(t, repo.AddObservation(ctx, obs))
		}

		records, err := repo.ListObservations(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, models.MetricRecord{
			Timestamp: t0, MetricIndex: "height_cm", Value: 180, MetricName: "Height", MetricUnit: "cm",
		}, records[0])
		assert.Equal(t, "weight_kg", records[1].MetricIndex)
		assert.True(t, t0.Equal(records[1].Timestamp))
		assert.Equal(t, 70.5, records[1].Value)
		assert.True(t, t1.Equal(records[2].Timestamp))

		err = repo.AddObservation(ctx, models.MetricObservation{UserID: user.ID, Timestamp: t0, MetricIndex: "weight_kg", Value: 99})
		assert.ErrorIs(t, err, internalerrors.ErrConflict)

		err = repo.AddObservation(ctx, models.MetricObservation{UserID: user.ID, Timestamp: t0, MetricIndex: "shoe_size", Value: 42})
		assert.ErrorIs(t, err, internalerrors.ErrUnknownMetric)

		err = repo.AddObservation(ctx, models.MetricObservation{UserID: user.ID + 100, Timestamp: t0, MetricIndex: "weight_kg", Value: 1})
		assert.ErrorIs(t, err, internalerrors.ErrUserNotFound)

		emptyRecords, err := repo.ListObservations(ctx, empty.ID)
		require.NoError(t, err)
		assert.Empty(t, emptyRecords)

		_, err = repo.ListObservations(ctx, user.ID+100)
		assert.ErrorIs(t, err, internalerrors.ErrUserNotFound)

		// A timestamp off by one microsecond is a different key
		err = repo.DeleteObservation(ctx, user.ID, t0.Add(time.Microsecond), "weight_kg")
		assert.ErrorIs(t, err, internalerrors.ErrObservationNotFound)
		err = repo.DeleteObservation(ctx, empty.ID, t0, "weight_kg")
		assert.ErrorIs(t, err, internalerrors.ErrObservationNotFound)

		parsed, err := models.ParseTimestamp(models.FormatTimestamp(t0))
		require.NoError(t, err)
		require.NoError(t, repo.DeleteObservation(ctx, user.ID, parsed, "weight_kg"))
		err = repo.DeleteObservation(ctx, user.ID, parsed, "weight_kg")
		assert.ErrorIs(t, err, internalerrors.ErrObservationNotFound)

		records, err = repo.ListObservations(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, records, 2)
		for _, record := range records {
			assert.False(t, record.MetricIndex == "weight_kg" && record.Timestamp.Equal(t0), fmt.Sprint(record))
		}
	})

	t.Run("ping", func(t *testing.T) {
		repo := newRepo(t)
		assert.NoError(t, repo.Ping(context.Background()))
	})
}
