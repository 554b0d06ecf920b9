package users

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/poll-core/internal/common"
)

func TestRepository_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRepository(mock)
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	t.Run("Found", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"id", "username", "avatar", "points", "is_moderator", "created_at", "updated_at"}).
			AddRow(int64(7), "alice", "a.png", int64(120), true, now, now)
		mock.ExpectQuery("SELECT id, username, avatar, points, is_moderator").
			WithArgs(int64(7)).
			WillReturnRows(rows)

		u, err := repo.GetByID(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, "alice", u.Username)
		assert.Equal(t, int64(120), u.Points)
		assert.True(t, u.IsModerator)
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, username, avatar, points, is_moderator").
			WithArgs(int64(404)).
			WillReturnError(pgx.ErrNoRows)

		u, err := repo.GetByID(ctx, 404)
		assert.Nil(t, u)
		assert.ErrorIs(t, err, common.ErrUserNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Leaderboard(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRepository(mock)

	rows := pgxmock.NewRows([]string{"id", "username", "avatar", "points"}).
		AddRow(int64(3), "carol", "", int64(900)).
		AddRow(int64(1), "alice", "a.png", int64(500))
	mock.ExpectQuery(`ORDER BY points DESC, id ASC`).
		WithArgs(2).
		WillReturnRows(rows)

	top, err := repo.Leaderboard(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, int64(3), top[0].ID)
	assert.Equal(t, int64(500), top[1].Points)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_PickModerator(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewRepository(mock)
	ctx := context.Background()

	t.Run("NilExcludeBecomesEmptyArray", func(t *testing.T) {
		mock.ExpectQuery("SELECT u.id").
			WithArgs([]int64{}).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(11)))

		id, found, err := repo.PickModerator(ctx, nil)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(11), id)
	})

	t.Run("NoCandidates", func(t *testing.T) {
		mock.ExpectQuery("SELECT u.id").
			WithArgs([]int64{11}).
			WillReturnError(pgx.ErrNoRows)

		_, found, err := repo.PickModerator(ctx, []int64{11})
		require.NoError(t, err)
		assert.False(t, found)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_PromoteToModerator_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	svc := NewService(NewRepository(mock))

	mock.ExpectExec("UPDATE users SET is_moderator").
		WithArgs(int64(5), true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = svc.PromoteToModerator(context.Background(), 5)
	assert.ErrorIs(t, err, common.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestService_GetByID_MissingIsNil(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	svc := NewService(NewRepository(mock))
	mock.ExpectQuery("SELECT id, username").
		WithArgs(int64(9)).
		WillReturnError(pgx.ErrNoRows)

	u, err := svc.GetByID(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestService_Register_EmptyUsername(t *testing.T) {
	svc := NewService(NewRepository(nil))
	_, err := svc.Register(context.Background(), "   ", "")
	assert.Error(t, err)
}
