package middle

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mstgnz/gamevault/infra/response"
	"github.com/mstgnz/gamevault/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPanicRecoveryMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		handler        http.HandlerFunc
		expectedStatus int
		shouldPanic    bool
	}{
		{
			name: "Normal request - no panic",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("success"))
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Handler panics with string",
			handler:        func(w http.ResponseWriter, r *http.Request) { panic("test panic") },
			expectedStatus: http.StatusInternalServerError,
			shouldPanic:    true,
		},
		{
			name:           "Handler panics with error",
			handler:        func(w http.ResponseWriter, r *http.Request) { panic(errors.New("boom")) },
			expectedStatus: http.StatusInternalServerError,
			shouldPanic:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := PanicRecoveryMiddleware()(tt.handler)

			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req = req.WithContext(WithRequester(req.Context(), ledger.Requester{UserID: "buyer-1"}))
			w := httptest.NewRecorder()

			wrapped.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if !tt.shouldPanic {
				return
			}

			assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
			assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))

			var resp response.Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			assert.Equal(t, http.StatusInternalServerError, resp.Code)
			assert.Equal(t, "Internal server error", resp.Message)
			assert.Equal(t, "an unexpected error occurred", resp.Error)
		})
	}
}

func TestPanicRecoveryMiddleware_AbortHandler(t *testing.T) {
	wrapped := PanicRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
