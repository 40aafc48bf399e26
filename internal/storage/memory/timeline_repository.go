package memory

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type timelineRepositoryInMemory struct {
	store *Store
}

// NewTimelineRepository создаёт in-memory реализацию TimelineRepository
// поверх общего Store.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepositoryInMemory{store: store}
}

func (r *timelineRepositoryInMemory) Append(ctx context.Context, event domain.TimelineEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	r.store.appendTimelineLocked(event)
	return nil
}

// List отдаёт копию истории заказа; неизвестный заказ даёт пустой срез.
func (r *timelineRepositoryInMemory) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return append([]domain.TimelineEvent{}, r.store.timeline[orderID]...), nil
}

// appendTimelineLocked вызывается под s.mu. Событие нормализуется так же,
// как в PostgreSQL: пустой actor становится system, время в UTC.
func (s *Store) appendTimelineLocked(event domain.TimelineEvent) {
	at := event.Occurred
	if at.IsZero() {
		at = s.now()
	}
	event = domain.NewTimelineEvent(event.OrderID, event.Type, event.Actor, event.Reason, at)

	events := append(s.timeline[event.OrderID], event)
	domain.SortTimeline(events)
	s.timeline[event.OrderID] = events
}

var _ domain.TimelineRepository = (*timelineRepositoryInMemory)(nil)
