package middle

import (
	"fmt"
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mstgnz/gamevault/infra/logger"
	"github.com/mstgnz/gamevault/infra/response"
)

// PanicRecoveryMiddleware handles panics and converts them to HTTP 500 errors
func PanicRecoveryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					stack := debug.Stack()

					requestID := middleware.GetReqID(r.Context())
					if requestID == "" {
						requestID = "unknown"
					}
					userID := ""
					if requester, ok := GetRequester(r.Context()); ok {
						userID = requester.UserID
					}

					// standard logger as a fallback in case the system logger is the source
					log.Printf("PANIC RECOVERED: %v | Method: %s | URL: %s | User: %s | Request ID: %s | Time: %s",
						err, r.Method, r.URL.Path, userID, requestID, time.Now().UTC().Format(time.RFC3339))

					logger.Error("Panic recovered", fmt.Errorf("%v", err), logger.LogContext{
						RequestID: requestID,
						Fields: map[string]any{
							"method":  r.Method,
							"path":    r.URL.Path,
							"user_id": userID,
							"stack":   string(stack),
						},
					})

					w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
					w.Header().Set("Pragma", "no-cache")
					w.Header().Set("Expires", "0")

					response.Error(w, http.StatusInternalServerError, "Internal server error", fmt.Errorf("an unexpected error occurred"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
