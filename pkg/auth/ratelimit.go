package auth

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/Mindburn-Labs/helm-recovery/pkg/api"
	"github.com/Mindburn-Labs/helm-recovery/pkg/limiter"
)

// RateLimitMiddleware enforces per-caller rate limiting at the HTTP layer.
// It keys on the authenticated Principal and falls back to the remote IP.
// On rate limit exceeded, it returns 429 with a Retry-After header.
func RateLimitMiddleware(store limiter.Store, policy limiter.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Fail open if no store configured (dev mode)
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := "ip:" + remoteHost(r.RemoteAddr)
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actorID = "account:" + string(principal.Account())
			}

			allowed, err := store.Allow(r.Context(), actorID, policy, 1)
			if err != nil {
				// Fail open on limiter errors to avoid blocking all traffic
				slog.Default().WarnContext(r.Context(), "rate limiter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				api.WriteTooManyRequests(w, policy.RetryAfter())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
