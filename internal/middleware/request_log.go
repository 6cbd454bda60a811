package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/metrics"
)

// RequestLog логирует каждый HTTP-запрос (method, path, время) и пишет латентность в Prometheus по шаблону маршрута.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, start)()
		wrap := recorderFor(w)
		next.ServeHTTP(wrap, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		metrics.HTTPDuration.WithLabelValues(r.Method, route, strconv.Itoa(wrap.status)).Observe(time.Since(start).Seconds())
	})
}
