package httpsvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/ratelimit"
)

// Заголовки и cookie HTTP API.
const (
	HeaderRequestID      = "X-Request-ID"
	HeaderIdempotencyKey = "Idempotency-Key"

	SessionCookie = "session_token"
	GuestCookie   = "cart_session"

	guestCookieTTL  = 30 * 24 * time.Hour
	maxRequestIDLen = 128
)

type ctxKey int

const (
	identityKey ctxKey = iota
	loggerKey
)

// IdentityFrom возвращает идентичность, определённую middleware authenticate.
func IdentityFrom(ctx context.Context) domain.Identity {
	if id, ok := ctx.Value(identityKey).(domain.Identity); ok {
		return id
	}
	return domain.Anonymous()
}

// WithIdentity кладёт идентичность в контекст.
func WithIdentity(ctx context.Context, id domain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func requestLogger(r *http.Request) *log.Entry {
	if logger, ok := r.Context().Value(loggerKey).(*log.Entry); ok {
		return logger
	}
	return log.WithField("component", "http")
}

// requestContext выдаёт запросу request id и логгер с этим id.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		logger := s.logger.WithField("request_id", id)
		ctx := context.WithValue(r.Context(), loggerKey, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := requestLogger(r).WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      status,
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(started).Milliseconds(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request completed")
		case status >= http.StatusBadRequest:
			entry.Info("request completed")
		default:
			entry.Debug("request completed")
		}
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			requestLogger(r).WithFields(log.Fields{
				"panic": fmt.Sprint(rec),
				"stack": string(debug.Stack()),
			}).Error("panic in http handler")
			writeMessage(w, http.StatusInternalServerError, internalErrorMessage)
		}()
		next.ServeHTTP(w, r)
	})
}

// authenticate строит Identity запроса: сессия из Bearer-токена или cookie
// session_token, гостевой токен из cookie cart_session. Неизвестная или
// истёкшая сессия означает анонимный запрос.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		guest := guestToken(r)
		id := domain.Anonymous()
		if guest != "" {
			id = domain.Guest(guest)
		}

		if token := sessionToken(r); token != "" && s.deps.Sessions != nil {
			session, err := s.deps.Sessions.Lookup(r.Context(), token)
			switch {
			case err == nil:
				id = domain.Authenticated(session.UserID, guest)
			case errors.Is(err, domain.ErrSessionNotFound):
			default:
				writeError(w, r, fmt.Errorf("lookup session: %w", err))
				return
			}
		}

		logger := requestLogger(r).WithField("identity", id.String())
		ctx := context.WithValue(r.Context(), loggerKey, logger)
		next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, id)))
	})
}

// limit применяет политику, если лимитер настроен.
func (s *Server) limit(policy ratelimit.Policy) func(http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return s.deps.Limiter.Middleware(policy)
}

func sessionToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// guestToken читает гостевой токен. Значения без префикса игнорируются,
// чтобы cookie не мог адресовать корзину пользователя.
func guestToken(r *http.Request) string {
	c, err := r.Cookie(GuestCookie)
	if err != nil {
		return ""
	}
	token := strings.TrimSpace(c.Value)
	if !strings.HasPrefix(token, domain.GuestTokenPrefix) || len(token) == len(domain.GuestTokenPrefix) {
		return ""
	}
	return token
}

func (s *Server) setGuestCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     GuestCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(guestCookieTTL / time.Second),
		Expires:  s.now().Add(guestCookieTTL),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) expireGuestCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     GuestCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}
