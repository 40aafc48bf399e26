package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "storefront_ratelimit_decisions_total",
	Help: "Rate limit decisions grouped by policy and result.",
}, []string{"policy", "result"})

// Policy — лимит запросов на окно.
type Policy struct {
	Name    string
	Limit   int64
	Window  time.Duration
	Message string
}

// Политики магазина.
var (
	// PolicyAPI — общий лимит чтения и мутаций корзины.
	PolicyAPI = Policy{Name: "api", Limit: 60, Window: time.Minute, Message: "API rate limit exceeded, please slow down."}
	// PolicyCheckout — оформление заказа.
	PolicyCheckout = Policy{Name: "checkout", Limit: 10, Window: time.Hour, Message: "Too many checkout attempts, please try again later."}
	// PolicyStrict — редкие чувствительные операции.
	PolicyStrict = Policy{Name: "strict", Limit: 5, Window: 15 * time.Minute, Message: "Too many attempts, please try again later."}
)

// Decision — результат проверки лимита.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// RetryAfter — сколько ждать до конца окна (не меньше секунды).
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait
}

// Limiter применяет политики поверх CounterStore.
type Limiter struct {
	store   CounterStore
	proxies TrustedProxies
	logger  *log.Entry
}

// Option настраивает Limiter.
type Option func(*Limiter)

// WithTrustedProxies задаёт прокси, которым разрешено сообщать адрес клиента.
func WithTrustedProxies(t TrustedProxies) Option {
	return func(l *Limiter) { l.proxies = t }
}

// NewLimiter создаёт Limiter.
func NewLimiter(store CounterStore, logger *log.Entry, options ...Option) *Limiter {
	if logger == nil {
		logger = log.WithField("component", "ratelimit")
	}
	l := &Limiter{store: store, logger: logger}
	for _, option := range options {
		option(l)
	}
	return l
}

// Allow учитывает запрос по ключу key. Ошибка хранилища возвращается вместе
// с разрешающим решением: вызывающий сам выбирает, пропускать ли запрос.
func (l *Limiter) Allow(ctx context.Context, policy Policy, key string) (Decision, error) {
	count, resetAt, err := l.store.Increment(ctx, policy.Name+":"+key, policy.Window)
	if err != nil {
		decisions.WithLabelValues(policy.Name, "error").Inc()
		return Decision{Allowed: true, Limit: policy.Limit, Remaining: policy.Limit}, err
	}

	d := Decision{
		Allowed:   count <= policy.Limit,
		Limit:     policy.Limit,
		Remaining: max(policy.Limit-count, 0),
		ResetAt:   resetAt,
	}
	if d.Allowed {
		decisions.WithLabelValues(policy.Name, "allowed").Inc()
	} else {
		decisions.WithLabelValues(policy.Name, "limited").Inc()
	}
	return d, nil
}
