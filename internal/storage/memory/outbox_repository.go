package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     domain.OutboxStatus
	attemptCnt int
	seq        int64
	createdAt  time.Time
	updatedAt  time.Time
}

// OutboxRepository — in-memory transactional outbox. Заказы пишут в него
// под той же блокировкой Store, что и сам заказ.
type OutboxRepository struct {
	store *Store
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository(store *Store) *OutboxRepository {
	return &OutboxRepository{store: store}
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxMessage{}, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.enqueueLocked(msg), nil
}

// PullPending возвращает до limit сообщений `pending` в порядке записи.
func (r *OutboxRepository) PullPending(ctx context.Context, limit int) ([]domain.OutboxMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	pending := r.pendingRecords()
	if len(pending) > limit {
		pending = pending[:limit]
	}
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и время самого старого pending-сообщения.
func (r *OutboxRepository) Stats(ctx context.Context) (domain.OutboxStats, error) {
	if err := ctx.Err(); err != nil {
		return domain.OutboxStats{}, err
	}
	pending := r.pendingRecords()
	stats := domain.OutboxStats{PendingCount: len(pending), FailedCount: r.countStatus(domain.OutboxStatusFailed)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].createdAt
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, domain.OutboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string) error {
	return r.markStatus(ctx, id, domain.OutboxStatusFailed)
}

// AllPending возвращает копию всех сообщений со статусом `pending` (используется в тестах).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	pending := r.pendingRecords()
	result := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		result = append(result, rec.msg)
	}
	return result
}

func (r *OutboxRepository) markStatus(ctx context.Context, id string, status domain.OutboxStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	record, ok := r.store.outbox[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = r.store.now()
	return nil
}

func (r *OutboxRepository) pendingRecords() []outboxRecord {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]outboxRecord, 0)
	for _, rec := range r.store.outbox {
		if rec.status == domain.OutboxStatusPending {
			result = append(result, *rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

func (r *OutboxRepository) countStatus(status domain.OutboxStatus) int {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	n := 0
	for _, rec := range r.store.outbox {
		if rec.status == status {
			n++
		}
	}
	return n
}

func (s *Store) enqueueLocked(msg domain.OutboxMessage) domain.OutboxMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)
	now := s.now()
	s.outbox[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    domain.OutboxStatusPending,
		seq:       s.nextSeq(),
		createdAt: now,
		updatedAt: now,
	}
	return msg
}

// recordEventsLocked пишет события заказа; вызывается под s.mu.
func (s *Store) recordEventsLocked(outbox []domain.OutboxMessage, timeline []domain.TimelineEvent) {
	for _, msg := range outbox {
		s.enqueueLocked(msg)
	}
	for _, event := range timeline {
		s.appendTimelineLocked(event)
	}
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
