// Package idempotency обслуживает ключи Idempotency-Key запросов POST /checkout.
//
// HTTP слой резервирует ключ со сроком IdempotencyTTL (STOREFRONT_IDEMPOTENCY_TTL)
// и сохраняет ответ оформления, чтобы повтор с тем же ключом и телом вернул
// тот же заказ. После истечения срока ключ считается свободным: репозиторий
// позволяет занять его заново, даже если запись ещё лежит в хранилище.
// CleanupWorker только освобождает место, удаляя такие записи порциями.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultSweepInterval = 10 * time.Minute
	defaultSweepBatch    = 500
	// Предел порций за один проход; остаток дождётся следующего тика.
	maxBatchesPerSweep = 100
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_idempotency_cleanup_runs_total",
		Help: "Checkout idempotency key sweeps grouped by result.",
	}, []string{"result"})
	sweepDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_idempotency_cleanup_deleted_total",
		Help: "Expired checkout idempotency keys deleted.",
	})
	sweepLastDeleted = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_idempotency_cleanup_last_deleted",
		Help: "Expired checkout idempotency keys deleted by the last sweep.",
	})
)

// SweepResult — итог одного прохода очистки.
type SweepResult struct {
	Deleted int
	Batches int
	// Backlog — проход упёрся в лимит порций, просроченные ключи могли остаться.
	Backlog bool
}

// CleanupOptions задаёт параметры CleanupWorker.
type CleanupOptions struct {
	Logger    *log.Entry
	Interval  time.Duration
	BatchSize int
	KeyTTL    time.Duration
	Clock     func() time.Time
}

// CleanupOption настраивает CleanupWorker.
type CleanupOption func(*CleanupOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) CleanupOption {
	return func(opts *CleanupOptions) { opts.Logger = logger }
}

// WithInterval задаёт период очистки.
func WithInterval(interval time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.Interval = interval }
}

// WithBatchSize задаёт размер одного удаления.
func WithBatchSize(batchSize int) CleanupOption {
	return func(opts *CleanupOptions) { opts.BatchSize = batchSize }
}

// WithKeyTTL сообщает срок жизни ключа оформления. Период очистки не
// превышает его: иначе просроченные ключи копятся дольше собственного срока.
func WithKeyTTL(ttl time.Duration) CleanupOption {
	return func(opts *CleanupOptions) { opts.KeyTTL = ttl }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) CleanupOption {
	return func(opts *CleanupOptions) { opts.Clock = clock }
}

// CleanupWorker периодически удаляет ключи оформления с истёкшим сроком.
type CleanupWorker struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	keyTTL    time.Duration
	now       func() time.Time
}

// NewCleanupWorker создаёт CleanupWorker.
func NewCleanupWorker(repo domain.IdempotencyRepository, options ...CleanupOption) *CleanupWorker {
	opts := CleanupOptions{
		Interval:  defaultSweepInterval,
		BatchSize: defaultSweepBatch,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "idempotency-cleanup")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultSweepInterval
	}
	if opts.KeyTTL > 0 && opts.Interval > opts.KeyTTL {
		opts.Interval = opts.KeyTTL
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatch
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &CleanupWorker{
		repo:      repo,
		logger:    opts.Logger,
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		keyTTL:    opts.KeyTTL,
		now:       opts.Clock,
	}
}

// Interval возвращает фактический период очистки.
func (w *CleanupWorker) Interval() time.Duration { return w.interval }

// Run чистит ключи сразу и затем по таймеру, пока ctx не отменён.
func (w *CleanupWorker) Run(ctx context.Context) {
	if w.repo == nil {
		w.logger.Warn("idempotency cleanup is disabled: repo is nil")
		return
	}
	w.logger.WithFields(log.Fields{
		"interval": w.interval,
		"batch":    w.batchSize,
		"key_ttl":  w.keyTTL,
	}).Info("checkout idempotency cleanup started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *CleanupWorker) runOnce(ctx context.Context) {
	res, err := w.Sweep(ctx, w.now())
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case err != nil:
		sweepRuns.WithLabelValues("error").Inc()
		w.logger.WithError(err).WithField("deleted", res.Deleted).Warn("idempotency cleanup failed")
		return
	}

	sweepLastDeleted.Set(float64(res.Deleted))
	entry := w.logger.WithFields(log.Fields{"deleted": res.Deleted, "batches": res.Batches})
	switch {
	case res.Backlog:
		sweepRuns.WithLabelValues("backlog").Inc()
		entry.Warn("expired checkout keys left for the next sweep")
	case res.Deleted > 0:
		sweepRuns.WithLabelValues("ok").Inc()
		entry.Info("expired checkout keys removed")
	default:
		sweepRuns.WithLabelValues("ok").Inc()
	}
}

// Sweep удаляет ключи со сроком не позже before порциями batchSize.
// Нулевой before означает «сейчас».
func (w *CleanupWorker) Sweep(ctx context.Context, before time.Time) (SweepResult, error) {
	if before.IsZero() {
		before = w.now()
	}

	var res SweepResult
	for res.Batches < maxBatchesPerSweep {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		deleted, err := w.repo.DeleteExpired(ctx, before, w.batchSize)
		if err != nil {
			return res, err
		}
		res.Batches++
		res.Deleted += deleted
		sweepDeleted.Add(float64(deleted))
		if deleted < w.batchSize {
			return res, nil
		}
	}
	res.Backlog = true
	return res, nil
}
