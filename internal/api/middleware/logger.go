package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"callguard/pkg/logger"
)

// Logger returns a middleware that logs one line per request. Call
// routes carry their call id so a call's API traffic can be correlated
// with its pipeline logs; health checks log at debug to keep the
// request log readable.
func Logger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				event := log.Info()
				switch {
				case ww.Status() >= http.StatusInternalServerError:
					event = log.Error()
				case r.URL.Path == "/health" || r.URL.Path == "/ready":
					event = log.Debug()
				}

				// route params resolve only after the handler ran
				if callID := chi.URLParam(r, "callID"); callID != "" {
					event = event.Str("call_id", callID)
				}

				event.
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		}
		return http.HandlerFunc(fn)
	}
}
