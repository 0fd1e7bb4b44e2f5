package middle

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mstgnz/gamevault/infra/logger"
)

// RequestLoggingMiddleware logs one line per request with its status and duration.
// It expects chi's RequestID middleware to run first.
func RequestLoggingMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipLogging(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			requestID := middleware.GetReqID(r.Context())
			if requestID != "" {
				ww.Header().Set("X-Request-ID", requestID)
			}

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			ctx := logger.LogContext{
				RequestID: requestID,
				Fields: map[string]any{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      status,
					"bytes":       ww.BytesWritten(),
					"duration_ms": time.Since(start).Milliseconds(),
					"client_ip":   GetClientIP(r),
				},
			}
			if requester, ok := GetRequester(r.Context()); ok {
				ctx.Fields["user_id"] = requester.UserID
			}

			switch {
			case status >= 500:
				logger.Error("request failed", nil, ctx)
			case status >= 400:
				logger.Warn("request rejected", ctx)
			default:
				logger.Info("request completed", ctx)
			}
		})
	}
}

func skipLogging(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/favicon")
}
