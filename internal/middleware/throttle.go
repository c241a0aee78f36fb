package middleware

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sakif/strategy-hub/internal/apperror"
	"github.com/sakif/strategy-hub/internal/auth"
	"github.com/sakif/strategy-hub/internal/throttle"
)

// Throttle admits at most the limiter's quota per client origin and user.
// It must run after auth.RequireAuth so the user ID is in the context.
//
// A failing counter is logged and the request goes through.
func Throttle(limiter *throttle.Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ThrottleKey(r)

			ok, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Error("throttle counter failed, allowing request",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				logger.Warn("request throttled", slog.String("key", key))
				w.Header().Set("Retry-After", retryAfter(limiter))
				writeRateLimited(w, logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ThrottleKey is "<client origin>:<user ID>". An anonymous request has an
// empty user part.
func ThrottleKey(r *http.Request) string {
	userID, _ := auth.UserIDFromContext(r.Context())
	return ClientOrigin(r) + ":" + userID
}

// ClientOrigin is the first X-Forwarded-For hop, else the host part of
// RemoteAddr, else "unknown". The header is client-controlled unless a
// trusted proxy in front of the server overwrites it.
func ClientOrigin(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}

func retryAfter(l *throttle.Limiter) string {
	secs := int(l.Window().Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// writeRateLimited sends apperror.RateLimited in the same shape as
// handler.ErrorResponse.
func writeRateLimited(w http.ResponseWriter, logger *slog.Logger) {
	appErr := apperror.RateLimited()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	body := struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}{"rate_limited", appErr.Message}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}
