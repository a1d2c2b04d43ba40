package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLock блокировки внутри одного процесса, для запуска без Redis и тестов
type MemoryLock struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

func NewMemoryLock() *MemoryLock {
	return &MemoryLock{
		locks: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

func (m *MemoryLock) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if e, ok := m.locks[key]; ok && now.Before(e.expires) {
		return "", false, nil
	}

	token := uuid.NewString()
	m.locks[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (m *MemoryLock) Unlock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.locks[key]; ok && e.token == token {
		delete(m.locks, key)
	}
	return nil
}
