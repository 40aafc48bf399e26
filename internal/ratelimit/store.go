// Package ratelimit ограничивает частоту запросов фиксированным окном.
//
// Счётчики живут за интерфейсом CounterStore: в памяти процесса для одного
// экземпляра или в Redis, когда экземпляров несколько.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// CounterStore — ключевой счётчик с истечением.
type CounterStore interface {
	// Increment увеличивает счётчик key. Первый инкремент открывает окно
	// длиной window; возвращает значение после инкремента и конец окна.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error)
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryStore хранит окна в памяти процесса.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

var _ CounterStore = (*MemoryStore)(nil)

// NewMemoryStore создаёт MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// Increment реализует CounterStore.
func (s *MemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return 0, time.Time{}, err
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memoryWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt, nil
}

// Sweep удаляет истёкшие окна и возвращает их количество.
func (s *MemoryStore) Sweep() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

// RunSweeper периодически вызывает Sweep до отмены ctx.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len — число живых и ещё не вычищенных окон.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
