package web

import (
	"net/http"

	"github.com/JonMunkholm/sheetd/internal/core"
)

// withActor records the client IP and User-Agent for the audit log.
// RemoteAddr is already resolved by TrustedRealIP.
func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.ContextWithActor(r.Context(), core.Actor{
			IPAddress: r.RemoteAddr,
			UserAgent: r.UserAgent(),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
