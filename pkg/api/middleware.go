package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// requestLogger logs each request and records its status and duration
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = "unmatched"
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)

			metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
			metrics.APIRequestDuration.WithLabelValues(route).Observe(duration.Seconds())

			event := logger.Debug()
			if status >= http.StatusInternalServerError {
				event = logger.Warn()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", duration).
				Str("remote_addr", r.RemoteAddr).
				Msg("request")
		})
	}
}

// appLimiter applies a token bucket per app to publish requests
type appLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newAppLimiter(perSecond float64, burst int) *appLimiter {
	return &appLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *appLimiter) enabled() bool {
	return l.limit > 0
}

func (l *appLimiter) allow(app string) bool {
	if !l.enabled() {
		return true
	}

	l.mu.Lock()
	limiter, ok := l.limiters[app]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[app] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// forget drops the bucket of a deleted app
func (l *appLimiter) forget(app string) {
	l.mu.Lock()
	delete(l.limiters, app)
	l.mu.Unlock()
}

func (l *appLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(chi.URLParam(r, "app")) {
			metrics.PublishRejected.WithLabelValues(metrics.ReasonRateLimited).Inc()
			writeError(w, r, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
