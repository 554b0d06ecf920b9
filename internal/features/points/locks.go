package points

import (
	"context"
	"sync"
)

// userLocks: мьютекс на каждого пользователя.
// Начисления одному пользователю внутри процесса идут по очереди,
// разным пользователям: параллельно. Запись удаляется, когда её никто не держит,
// поэтому карта не растёт бесконечно.
type userLocks struct {
	mu    sync.Mutex
	locks map[int64]*userLock
}

// userLock: канал на одно место вместо sync.Mutex, чтобы ожидание можно было прервать.
type userLock struct {
	ch   chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[int64]*userLock)}
}

// Lock захватывает мьютекс пользователя и возвращает функцию освобождения.
// Если ctx отменён раньше, чем мьютекс освободился: ctx.Err().
func (l *userLocks) Lock(ctx context.Context, userID int64) (func(), error) {
	l.mu.Lock()
	entry, ok := l.locks[userID]
	if !ok {
		entry = &userLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, entry)
		return nil, ctx.Err()
	}

	return func() {
		<-entry.ch
		l.release(userID, entry)
	}, nil
}

func (l *userLocks) release(userID int64, entry *userLock) {
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()
}

// size: сколько пользователей сейчас в карте (для тестов).
func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
