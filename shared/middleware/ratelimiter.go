package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/storefront-dev/storefront/shared/api"
	"github.com/storefront-dev/storefront/shared/domain"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
	"github.com/storefront-dev/storefront/shared/middleware/ratelimiter"
	"github.com/storefront-dev/storefront/shared/utils"
)

// KeyFunc picks the identity a request is limited by.
type KeyFunc func(r *http.Request) (string, error)

// RateLimit limits requests per key.
func RateLimit(rl *ratelimiter.KeyedLimiter, keyFn KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := keyFn(r)
			if err != nil {
				utils.WriteErrorAndStatusCode(w, err)
				return
			}
			ok, wait := rl.Allow(key)
			if !ok {
				logger.Warn("rate limit exceeded", "key", key, "path", r.URL.Path)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				utils.WriteErrorAndStatusCode(w, internal_errors.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetIP returns the canonical client address from RemoteAddr. Forwarding
// headers are honoured only when chi's RealIP middleware ran upstream, which
// the router enables for trusted proxies.
func GetIP(r *http.Request) (domain.IP, error) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RealIP stores a bare address without port
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return "", internal_errors.Validation(fmt.Sprintf("Invalid IP address: %s", host))
	}
	return ip.String(), nil
}

// BlockChecker reports whether an IP was blocked by an admin.
type BlockChecker interface {
	IsIPBlocked(ctx context.Context, ip domain.IP) (bool, error)
}

// BlockGate rejects every request from a blocked IP with 403. Lookup errors
// are logged and the flag returned with them still decides, so a checker can
// fall back to a cached answer. A bare false lets the request through.
func BlockGate(checker BlockChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, err := GetIP(r)
			if err != nil {
				utils.WriteErrorAndStatusCode(w, err)
				return
			}
			blocked, err := checker.IsIPBlocked(r.Context(), ip)
			if err != nil {
				logger.Error("ip block lookup failed", "ip", ip, "error", err)
			}
			if blocked {
				utils.WriteJSON(w, http.StatusForbidden, errorBody("Access from this address is blocked", internal_errors.CodeForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func errorBody(msg, code string) api.ErrorResponse {
	return api.ErrorResponse{Errors: []string{msg}, Code: code}
}
