package ratelimit

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Заголовки ответа.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Middleware ограничивает запросы по политике; ключ — IP клиента и путь.
// Заголовки прокси учитываются только от адресов из WithTrustedProxies.
// Недоступное хранилище счётчиков не блокирует запросы.
func (l *Limiter) Middleware(policy Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := l.proxies.ClientIP(r) + ":" + r.URL.Path
			d, err := l.Allow(r.Context(), policy, key)
			if err != nil {
				l.logger.WithError(err).WithField("policy", policy.Name).Warn("rate limit store unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
			h.Set(HeaderRemaining, strconv.FormatInt(d.Remaining, 10))
			h.Set(HeaderReset, d.ResetAt.UTC().Format(time.RFC3339))

			if !d.Allowed {
				retry := d.RetryAfter(time.Now())
				h.Set(HeaderRetryAfter, strconv.Itoa(int((retry+time.Second-1)/time.Second)))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				if err := json.NewEncoder(w).Encode(map[string]string{"error": policy.Message}); err != nil {
					l.logger.WithError(err).Debug("failed to write rate limit response")
				}
				l.logger.WithFields(log.Fields{
					"policy": policy.Name,
					"path":   r.URL.Path,
				}).Info("request rate limited")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TrustedProxies — адреса обратных прокси, чьим заголовкам с адресом
// клиента можно верить. Пустой набор означает, что заголовки игнорируются.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies разбирает список IP и CIDR (например, "10.0.0.0/8").
func ParseTrustedProxies(entries []string) (TrustedProxies, error) {
	var t TrustedProxies
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			prefix, err := netip.ParsePrefix(raw)
			if err != nil {
				return TrustedProxies{}, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			t.prefixes = append(t.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return TrustedProxies{}, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		t.prefixes = append(t.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return t, nil
}

// Contains проверяет, что ip принадлежит доверенному прокси.
func (t TrustedProxies) Contains(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP определяет адрес клиента. Заголовки CF-Connecting-IP, X-Real-IP и
// X-Forwarded-For учитываются, только если соединение пришло от доверенного
// прокси; иначе ключом служит адрес соединения.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if !t.Contains(peer) {
		return peer
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	// X-Forwarded-For читается справа налево: левые адреса задаёт клиент.
	if hops := forwardedFor(r); len(hops) > 0 {
		for i := len(hops) - 1; i >= 0; i-- {
			if !t.Contains(hops[i]) {
				return hops[i]
			}
		}
		return hops[0]
	}
	return peer
}

func forwardedFor(r *http.Request) []string {
	var hops []string
	for _, header := range r.Header.Values("X-Forwarded-For") {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				hops = append(hops, ip)
			}
		}
	}
	return hops
}

func remoteHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
