package points

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/poll-core/internal/common"
	"serotonyl.ru/poll-core/internal/features/users"
	"serotonyl.ru/poll-core/internal/metrics"
)

// fakeStore: журнал в памяти. Общий мьютекс заменяет блокировку строки в БД,
// записи транзакции применяются только если fn не вернула ошибку.
type fakeStore struct {
	mu     sync.Mutex
	users  map[int64]*users.User
	ledger []*Transaction
	nextID int64
}

func newFakeStore(ids ...int64) *fakeStore {
	s := &fakeStore{users: make(map[int64]*users.User)}
	for _, id := range ids {
		s.users[id] = &users.User{ID: id, Username: fmt.Sprintf("user%d", id)}
	}
	return s
}

type fakeTx struct {
	s       *fakeStore
	pending []*Transaction
	deltas  map[int64]int64
}

func (t *fakeTx) CountActionsSince(_ context.Context, userID int64, action ActionType, since time.Time) (int, error) {
	n := 0
	for _, tr := range t.s.ledger {
		if tr.UserID == userID && tr.ActionType == action && !tr.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) HasTransaction(_ context.Context, userID int64, action ActionType, targetID int64) (bool, error) {
	for _, tr := range t.s.ledger {
		if tr.UserID == userID && tr.ActionType == action && tr.TargetID != nil && *tr.TargetID == targetID {
			return true, nil
		}
	}
	return false, nil
}

func (t *fakeTx) Insert(_ context.Context, tr *Transaction) error {
	t.pending = append(t.pending, tr)
	return nil
}

func (t *fakeTx) AddPoints(_ context.Context, userID int64, delta int64) (int64, error) {
	t.deltas[userID] += delta
	return t.s.users[userID].Points + t.deltas[userID], nil
}

func (s *fakeStore) RunInUserTx(ctx context.Context, userID int64, fn func(ctx context.Context, tx LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return common.ErrUserNotFound
	}
	tx := &fakeTx{s: s, deltas: make(map[int64]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for _, tr := range tx.pending {
		s.nextID++
		tr.ID = s.nextID
		s.ledger = append(s.ledger, tr)
	}
	for id, d := range tx.deltas {
		s.users[id].Points += d
	}
	return nil
}

func (s *fakeStore) History(_ context.Context, userID int64, limit int) ([]*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Transaction
	for i := len(s.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if s.ledger[i].UserID == userID {
			out = append(out, s.ledger[i])
		}
	}
	return out, nil
}

func (s *fakeStore) LedgerSum(_ context.Context, userID int64) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, 0, common.ErrUserNotFound
	}
	var sum int64
	for _, tr := range s.ledger {
		if tr.UserID == userID {
			sum += tr.Points
		}
	}
	return sum, u.Points, nil
}

func (s *fakeStore) GetByID(_ context.Context, userID int64) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *fakeStore) Leaderboard(_ context.Context, limit int) ([]users.RankedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]users.RankedUser, 0, len(s.users))
	for _, u := range s.users {
		list = append(list, users.RankedUser{ID: u.ID, Username: u.Username, Points: u.Points})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Points != list[j].Points {
			return list[i].Points > list[j].Points
		}
		return list[i].ID < list[j].ID
	})
	if len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// fakeCache повторяет поведение Redis-кэша: запись под устаревшим поколением не читается.
type fakeCache struct {
	mu          sync.Mutex
	gen         int64
	entries     map[int][]users.RankedUser
	entryGen    map[int]int64
	invalidated int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		entries:  make(map[int][]users.RankedUser),
		entryGen: make(map[int]int64),
	}
}

func (c *fakeCache) Get(_ context.Context, limit int) ([]users.RankedUser, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.entries[limit]
	if !ok || c.entryGen[limit] != c.gen {
		return nil, c.gen, false, nil
	}
	return l, c.gen, true, nil
}

func (c *fakeCache) Set(_ context.Context, gen int64, limit int, list []users.RankedUser) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[limit] = list
	c.entryGen[limit] = gen
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.entries = make(map[int][]users.RankedUser)
	c.entryGen = make(map[int]int64)
	c.invalidated++
	return nil
}

func (c *fakeCache) has(limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[limit]
	return ok
}

func newTestService(store *fakeStore, cache LeaderboardCache) *Service {
	return NewService(store, store, cache, Rules{DailyCreatePollLimit: 3}, metrics.New(prometheus.NewRegistry()))
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAward_DailyCreatePollLimit(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(1)
	svc := newTestService(store, nil)
	svc.now = fixedClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		res, err := svc.Award(ctx, 1, 50, ActionCreatePoll, nil, nil)
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, "+50 Points", res.Message)
	}

	res, err := svc.Award(ctx, 1, 50, ActionCreatePoll, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgDailyLimit, res.Message)
	assert.Nil(t, res.NewPoints)

	assert.Equal(t, int64(150), store.users[1].Points)
	assert.Len(t, store.ledger, 3)

	assert.Equal(t, float64(3), testutil.ToFloat64(svc.metrics.Awards.WithLabelValues("CREATE_POLL", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(svc.metrics.Awards.WithLabelValues("CREATE_POLL", "rejected")))

	// На следующие сутки лимит снова свободен
	svc.now = fixedClock(time.Date(2026, 3, 11, 0, 0, 1, 0, time.UTC))
	res, err = svc.Award(ctx, 1, 50, ActionCreatePoll, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(200), *res.NewPoints)
}

func TestAward_DailyLimitUsesConfiguredTimezone(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(1)
	svc := newTestService(store, nil)
	moscow := time.FixedZone("MSK", 3*3600)
	svc.rules.Location = moscow

	// 22:00 UTC 10 марта: это уже 01:00 11 марта по Москве
	svc.now = fixedClock(time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		res, err := svc.Award(ctx, 1, 50, ActionCreatePoll, nil, nil)
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	svc.now = fixedClock(time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC))
	res, err := svc.Award(ctx, 1, 50, ActionCreatePoll, nil, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestAward_TrendingBonusOncePerTarget(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(7)
	svc := newTestService(store, nil)

	poll := common.Int64Ptr(42)
	res, err := svc.Award(ctx, 7, 500, ActionTrendingBonus, poll, map[string]any{"pollId": 42})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(500), *res.NewPoints)

	res, err = svc.Award(ctx, 7, 500, ActionTrendingBonus, poll, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgAlreadyAwarded, res.Message)

	// Другой опрос: отдельный бонус
	res, err = svc.Award(ctx, 7, 500, ActionTrendingBonus, common.Int64Ptr(43), nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(1000), store.users[7].Points)

	res, err = svc.Award(ctx, 7, 500, ActionTrendingBonus, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, MsgTargetRequired, res.Message)
}

func TestAward_UserNotFound(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	cache := newFakeCache()
	svc := newTestService(store, cache)

	res, err := svc.Award(ctx, 99, 10, ActionVote, nil, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, MsgUserNotFound, res.Message)
	assert.Empty(t, store.ledger)
	assert.Zero(t, cache.invalidated)
}

func TestAward_PenaltyIsUncappedAndSigned(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(3)
	svc := newTestService(store, nil)

	var last AwardResult
	for i := 0; i < 5; i++ {
		var err error
		last, err = svc.Award(ctx, 3, -10, ActionModerationPenalty, common.Int64Ptr(int64(100+i)), nil)
		require.NoError(t, err)
		require.True(t, last.Success)
	}
	assert.Equal(t, "-10 Points", last.Message)
	assert.Equal(t, int64(-50), *last.NewPoints)

	rank, err := svc.GetUserRank(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, rank.Level)
	assert.Equal(t, TitleNewbie, rank.Title)
}

func TestAward_InvalidInput(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(newFakeStore(1), nil)

	_, err := svc.Award(ctx, 1, 10, ActionType("LOTTERY"), nil, nil)
	assert.ErrorIs(t, err, common.ErrInvalidAction)

	_, err = svc.Award(ctx, 1, 0, ActionVote, nil, nil)
	assert.ErrorIs(t, err, common.ErrZeroPoints)
}

func TestAward_ConcurrentCreatePollRespectsLimit(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(1)
	svc := newTestService(store, nil)

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Award(ctx, 1, 50, ActionCreatePoll, nil, nil)
			if err == nil && res.Success {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int64(150), store.users[1].Points)
	assert.Zero(t, svc.locks.size())
}

func TestReconcile_LedgerMatchesBalance(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(1, 2)
	svc := newTestService(store, nil)

	steps := []struct {
		user   int64
		points int64
		action ActionType
	}{
		{1, 10, ActionVote},
		{1, 50, ActionCreatePoll},
		{2, 10, ActionFollow},
		{1, 5, ActionLikeComment},
		{1, -5, ActionClawback},
		{2, -10, ActionModerationPenalty},
		{1, 15, ActionSwipeBonus},
	}
	for _, st := range steps {
		res, err := svc.Award(ctx, st.user, st.points, st.action, nil, nil)
		require.NoError(t, err)
		require.True(t, res.Success)
	}

	sum, balance, err := svc.Reconcile(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(75), sum)
	assert.Equal(t, sum, balance)

	sum, balance, err = svc.Reconcile(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sum)
	assert.Equal(t, sum, balance)

	hist, err := svc.History(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, hist, 5)
	assert.Equal(t, ActionSwipeBonus, hist[0].ActionType)
}

func TestGetLeaderboard(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(1, 2, 3)
	cache := newFakeCache()
	svc := newTestService(store, cache)

	_, err := svc.Award(ctx, 3, 10, ActionVote, nil, nil)
	require.NoError(t, err)
	_, err = svc.Award(ctx, 2, 10, ActionVote, nil, nil)
	require.NoError(t, err)

	list, err := svc.GetLeaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	// Равные очки: выше меньший id
	assert.Equal(t, []int64{2, 3, 1}, []int64{list[0].ID, list[1].ID, list[2].ID})

	_, cached := cache.entries[DefaultLeaderboardLimit]
	assert.True(t, cached)

	// Повторный запрос отдаётся из кэша и совпадает
	again, err := svc.GetLeaderboard(ctx, -5)
	require.NoError(t, err)
	assert.Equal(t, list, again)

	// Начисление сбрасывает кэш
	_, err = svc.Award(ctx, 1, 100, ActionSurveyComplete, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, cache.entries)

	list, err = svc.GetLeaderboard(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), list[0].ID)
	_, capped := cache.entries[MaxLeaderboardLimit]
	assert.True(t, capped)
}

func TestGetUserRank(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore(1)
	store.users[1].Points = 1500
	svc := newTestService(store, nil)

	rank, err := svc.GetUserRank(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, &UserRank{Points: 1500, Level: 12, Title: TitlePollMaster}, rank)

	rank, err = svc.GetUserRank(ctx, 2)
	require.NoError(t, err)
	assert.Nil(t, rank)
}

func TestUserLocks_CancelledWait(t *testing.T) {
	locks := newUserLocks()

	unlock, err := locks.Lock(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	// Отменённое ожидание не оставляет лишних ссылок
	assert.Equal(t, 1, locks.size())

	unlock()
	assert.Zero(t, locks.size())

	unlock, err = locks.Lock(context.Background(), 1)
	require.NoError(t, err)
	unlock()
}

func TestAward_CancelledWhileWaitingForUserLock(t *testing.T) {
	store := newFakeStore(1)
	svc := newTestService(store, nil)

	unlock, err := svc.locks.Lock(context.Background(), 1)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.Award(ctx, 1, 10, ActionVote, nil, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.users[1].Points)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.metrics.Awards.WithLabelValues(string(ActionVote), "error")))
}

// blockingDir держит запрос лидерборда до закрытия release.
type blockingDir struct {
	*fakeStore
	calls    atomic.Int32
	started  chan struct{}
	release  chan struct{}
	fetchErr chan error
}

func (d *blockingDir) Leaderboard(ctx context.Context, limit int) ([]users.RankedUser, error) {
	if d.calls.Add(1) == 1 {
		close(d.started)
	}
	select {
	case <-ctx.Done():
		d.fetchErr <- ctx.Err()
		return nil, ctx.Err()
	case <-d.release:
	}
	d.fetchErr <- nil
	return d.fakeStore.Leaderboard(ctx, limit)
}

func TestGetLeaderboard_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	store := newFakeStore(1, 2)
	dir := &blockingDir{
		fakeStore: store,
		started:   make(chan struct{}),
		release:   make(chan struct{}),
		fetchErr:  make(chan error, 1),
	}
	cache := newFakeCache()
	svc := NewService(store, dir, cache, Rules{DailyCreatePollLimit: 3}, metrics.New(prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := svc.GetLeaderboard(ctx, 10)
		errA <- err
	}()

	<-dir.started
	cancel()
	require.ErrorIs(t, <-errA, context.Canceled)

	// Отмена первого вызова не отменила запрос в БД
	close(dir.release)
	require.NoError(t, <-dir.fetchErr)
	require.Eventually(t, func() bool { return cache.has(10) }, time.Second, 5*time.Millisecond)

	list, err := svc.GetLeaderboard(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, int32(1), dir.calls.Load())
}

func TestGetLeaderboard_SetAfterAwardIsNotServed(t *testing.T) {
	store := newFakeStore(1, 2)
	dir := &blockingDir{
		fakeStore: store,
		started:   make(chan struct{}),
		release:   make(chan struct{}),
		fetchErr:  make(chan error, 1),
	}
	cache := newFakeCache()
	svc := NewService(store, dir, cache, Rules{DailyCreatePollLimit: 3}, metrics.New(prometheus.NewRegistry()))
	ctx := context.Background()

	done := make(chan []users.RankedUser, 1)
	go func() {
		list, err := svc.GetLeaderboard(ctx, 10)
		assert.NoError(t, err)
		done <- list
	}()

	// Начисление приходит, пока старый список ещё читается
	<-dir.started
	_, err := svc.Award(ctx, 2, 100, ActionSurveyComplete, nil, nil)
	require.NoError(t, err)
	close(dir.release)
	<-dir.fetchErr
	<-done

	// Список, прочитанный до начисления, записан под старым поколением и не отдаётся
	list, err := svc.GetLeaderboard(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, int64(2), list[0].ID)
	assert.Equal(t, int32(2), dir.calls.Load())
}
