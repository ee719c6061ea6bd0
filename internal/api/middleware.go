package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"opz-funnels/internal/common/auth"
	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/common/metrics"
)

type ctxKey int

const tokenInfoKey ctxKey = iota

// TokenInfoFrom returns the introspected token of an authenticated request.
func TokenInfoFrom(ctx context.Context) (*auth.TokenInfo, bool) {
	info, ok := ctx.Value(tokenInfoKey).(*auth.TokenInfo)
	return info, ok
}

func parseBearer(authorization string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(strings.TrimSpace(authorization), prefix) {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(authorization), prefix))
	if tok == "" {
		return "", false
	}
	return tok, true
}

// requireBearer introspects the bearer token. A nil validator disables the check.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens == nil {
			next.ServeHTTP(w, r)
			return
		}
		tok, ok := parseBearer(r.Header.Get("Authorization"))
		if !ok {
			s.writeStdError(w, r, errors.NewAuthenticationError("bearer token required"))
			return
		}
		info, err := s.tokens.ValidateToken(r.Context(), tok)
		if err != nil {
			s.writeStdError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tokenInfoKey, info)))
	})
}

// instrument records request counts and latency by chi route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
