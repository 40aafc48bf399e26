package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const timelineColumns = `order_id, event_type, actor, reason, occurred_at`

// timelineRepository читает историю заказа. Запись идёт в транзакции
// заказа через appendTimeline, Append нужен для отдельных событий.
type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт PostgreSQL-реализацию TimelineRepository.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(ctx context.Context, event domain.TimelineEvent) error {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return appendTimeline(ctx, r.db, event)
}

func (r *timelineRepository) List(ctx context.Context, orderID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := withOpTimeout(ctx)
	defer cancel()
	return listTimeline(ctx, r.db, orderID)
}

func appendTimeline(ctx context.Context, q queryer, event domain.TimelineEvent) error {
	at := event.Occurred
	if at.IsZero() {
		at = time.Now()
	}
	event = domain.NewTimelineEvent(event.OrderID, event.Type, event.Actor, event.Reason, at)

	_, err := q.ExecContext(ctx,
		`INSERT INTO timeline_events (`+timelineColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		event.OrderID, event.Type, event.Actor, event.Reason, event.Occurred,
	)
	if err != nil {
		return fmt.Errorf("append timeline event %s for order %s: %w", event.Type, event.OrderID, err)
	}
	return nil
}

// listTimeline отдаёт события по возрастанию времени; id разрешает равные
// отметки в порядке вставки.
func listTimeline(ctx context.Context, q queryer, orderID string) ([]domain.TimelineEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+timelineColumns+` FROM timeline_events WHERE order_id = $1 ORDER BY occurred_at, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query timeline of order %s: %w", orderID, err)
	}
	defer rows.Close()

	var events []domain.TimelineEvent
	for rows.Next() {
		var ev domain.TimelineEvent
		if err := rows.Scan(&ev.OrderID, &ev.Type, &ev.Actor, &ev.Reason, &ev.Occurred); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		ev.Occurred = ev.Occurred.UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read timeline of order %s: %w", orderID, err)
	}
	if events == nil {
		events = []domain.TimelineEvent{}
	}
	return events, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
