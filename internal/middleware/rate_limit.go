package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

type Limiter interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time)
}

// UserRateLimitMiddleware limits requests per {userId} route parameter,
// falling back to the client address on routes without one. A nil limiter
// disables it.
type UserRateLimitMiddleware struct {
	limiter Limiter
	limit   int
	window  time.Duration
	prefix  string
}

func NewUserRateLimitMiddleware(limiter Limiter, limit int, window time.Duration, prefix string) *UserRateLimitMiddleware {
	return &UserRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
	}
}

func (m *UserRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil || m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		subject := chi.URLParam(r, "userId")
		if subject == "" {
			subject = "ip:" + r.RemoteAddr
		}

		allowed, resetAt := m.limiter.CheckLimit(r.Context(), m.prefix+":"+subject, m.limit, m.window)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		if !allowed {
			retryAfter := int(time.Until(resetAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
