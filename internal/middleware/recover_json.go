package middleware

import (
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gymhub/chat/internal/logger"
	"github.com/gymhub/chat/internal/metrics"
)

const panicBody = `{"error":"internal server error","code":"internal"}` + "\n"

// RecoverJSON перехватывает панику handler'а: стек и request id уходят в лог,
// клиент получает JSON 500, если заголовки ещё не отправлены.
func RecoverJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorderFor(w)
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if v == http.ErrAbortHandler {
				panic(v)
			}
			metrics.HTTPPanics.Inc()
			logger.Errorf("panic recovered req=%s %s %s from=%s: %v\n%s",
				chimw.GetReqID(r.Context()), r.Method, r.URL.Path, clientIP(r), v, debug.Stack())
			if rec.wrote {
				return
			}
			rec.Header().Set("Content-Type", "application/json; charset=utf-8")
			rec.WriteHeader(http.StatusInternalServerError)
			_, _ = rec.Write([]byte(panicBody))
		}()
		next.ServeHTTP(rec, r)
	})
}
