package notifications

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	items   []*Notification
	failErr error
}

func (m *memStore) Insert(_ context.Context, n *Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	n.ID = int64(len(m.items) + 1)
	m.items = append(m.items, n)
	return nil
}

func (m *memStore) ListForUser(_ context.Context, userID int64, limit int) ([]*Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.items {
		if n.RecipientID == userID && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) MarkAllRead(_ context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, it := range m.items {
		if it.RecipientID == userID && !it.IsRead {
			it.IsRead = true
			n++
		}
	}
	return n, nil
}

type memPublisher struct {
	channels []string
	payloads []any
	err      error
}

func (p *memPublisher) PublishJSON(_ context.Context, channel string, v any) error {
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, v)
	return p.err
}

func TestNotify(t *testing.T) {
	ctx := context.Background()

	t.Run("PersistsAndPublishes", func(t *testing.T) {
		store := &memStore{}
		pub := &memPublisher{}
		svc := NewService(store, pub)

		svc.Notify(ctx, 2, 1, TypeVote, 10)

		require.Len(t, store.items, 1)
		assert.Equal(t, TypeVote, store.items[0].Type)
		assert.Equal(t, []string{Channel}, pub.channels)
	})

	t.Run("SkipsSelf", func(t *testing.T) {
		store := &memStore{}
		svc := NewService(store, nil)

		svc.Notify(ctx, 5, 5, TypeLike, 10)
		assert.Empty(t, store.items)
	})

	t.Run("StoreFailureIsSwallowed", func(t *testing.T) {
		store := &memStore{failErr: errors.New("db down")}
		pub := &memPublisher{}
		svc := NewService(store, pub)

		assert.NotPanics(t, func() { svc.Notify(ctx, 2, 1, TypeFollow, 1) })
		assert.Empty(t, pub.channels)
	})

	t.Run("PublishFailureKeepsRecord", func(t *testing.T) {
		store := &memStore{}
		pub := &memPublisher{err: errors.New("redis down")}
		svc := NewService(store, pub)

		svc.Notify(ctx, 3, 0, TypePollPublished, 8)
		assert.Len(t, store.items, 1)
	})
}

func TestListAndMarkAllRead(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	svc := NewService(store, nil)

	svc.Notify(ctx, 2, 1, TypeVote, 10)
	svc.Notify(ctx, 2, 3, TypeComment, 10)
	svc.Notify(ctx, 4, 1, TypeFollow, 1)

	list, err := svc.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	n, err := svc.MarkAllRead(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

const testToken = "123456789:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi"

func TestTelegramAlerter(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.URL.Path
		body = string(data)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":1700000000,"chat":{"id":-100500,"type":"supergroup"},"text":"ok"}}`)
	}))
	defer srv.Close()

	alerter, err := NewTelegramAlerter(testToken, -100500,
		telego.WithAPIServer(srv.URL),
		telego.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	require.True(t, alerter.Enabled())

	require.NoError(t, alerter.Alert(context.Background(), "poll #7 escalated"))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasSuffix(path, "/sendMessage"), path)
	assert.Contains(t, body, "-100500")
	assert.Contains(t, body, "poll #7 escalated")
}

func TestTelegramAlerter_RateLimited(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":1,"date":1700000000,"chat":{"id":-100500,"type":"supergroup"},"text":"ok"}}`)
	}))
	defer srv.Close()

	alerter, err := NewTelegramAlerter(testToken, -100500,
		telego.WithAPIServer(srv.URL),
		telego.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	alerter.WithRateLimit(NewRateLimiter(2, time.Hour))
	defer alerter.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, alerter.Alert(context.Background(), "escalated"))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, calls)
}

func TestTelegramAlerter_Disabled(t *testing.T) {
	alerter, err := NewTelegramAlerter("", 0)
	require.NoError(t, err)
	assert.False(t, alerter.Enabled())
	assert.NoError(t, alerter.Alert(context.Background(), "ignored"))
}
