package postgresql_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	mock_database "gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/db/mocks"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/fbs-tracker/internal/repository/postgresql"
)

func TestSettingsRepo_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("settings found", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewSettingsRepo(mockDB)

		expected := &repository.Settings{
			WBToken:      "wb-token",
			OzonClientID: "client-1",
			OzonAPIKey:   "key-1",
			UpdatedAt:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		}

		mockDB.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, dest *repository.Settings, _ string, _ ...interface{}) error {
				*dest = *expected
				return nil
			})

		settings, err := repo.Get(ctx)
		assert.NoError(t, err)
		assert.Equal(t, expected, settings)
	})

	t.Run("no row yet yields empty settings", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewSettingsRepo(mockDB)

		mockDB.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(pgx.ErrNoRows)

		settings, err := repo.Get(ctx)
		assert.NoError(t, err)
		assert.Equal(t, &repository.Settings{}, settings)
	})

	t.Run("database error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewSettingsRepo(mockDB)

		expectedErr := errors.New("database error")
		mockDB.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(expectedErr)

		settings, err := repo.Get(ctx)
		assert.ErrorIs(t, err, expectedErr)
		assert.Nil(t, settings)
	})
}

func TestSettingsRepo_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewSettingsRepo(mockDB)

		settings := &repository.Settings{
			WBToken:      "wb-token",
			OzonClientID: "client-1",
			OzonAPIKey:   "key-1",
		}

		mockDB.EXPECT().Exec(
			gomock.Any(),
			gomock.Any(),
			gomock.Eq(settings.WBToken),
			gomock.Eq(settings.OzonClientID),
			gomock.Eq(settings.OzonAPIKey),
			gomock.Any(),
		).Return(nil, nil)

		err := repo.Upsert(ctx, settings)
		assert.NoError(t, err)
	})

	t.Run("database error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDB := mock_database.NewMockDB(ctrl)
		repo := postgresql.NewSettingsRepo(mockDB)

		expectedErr := errors.New("database error")
		mockDB.EXPECT().Exec(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(nil, expectedErr)

		err := repo.Upsert(ctx, &repository.Settings{})
		assert.ErrorIs(t, err, expectedErr)
	})
}
