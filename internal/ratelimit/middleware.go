package ratelimit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"gatekeeper/internal/identity"
	"gatekeeper/internal/models"
	"gatekeeper/internal/policy"
)

// PolicyResolver resolves the budget for a request. *policy.Resolver satisfies it.
type PolicyResolver interface {
	Resolve(ctx context.Context, endpoint, tier string) policy.Resolution
}

type decisionKey struct{}

// DecisionFromContext returns the decision the middleware made for the request.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// Middleware gates every request not matched by the skip list:
// resolve identity, resolve policy, check the limiter, then forward or reject
// with 429. Rate limit headers are set before the downstream handler runs so
// they reach the eventual response. Identity and Decision are stored in the
// request context.
func Middleware(cfg models.RateLimitConfig, limiter *Limiter, policies PolicyResolver, identities identity.Resolver) func(http.Handler) http.Handler {
	skip := newSkipper(cfg.SkipPaths, cfg.SkipPrefixes)

	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			id := identities.Resolve(r)
			endpoint := r.URL.Path
			res := policies.Resolve(r.Context(), endpoint, id.Tier)

			d := limiter.Check(r.Context(), id.Identifier, endpoint, res.Requests, res.Window)
			setHeaders(w.Header(), d)

			if !d.Allowed {
				slog.Warn("Rate limit exceeded",
					"identifier", id.Identifier,
					"endpoint", endpoint,
					"tier", id.Tier,
					"limit", d.Limit,
					"retry_after", d.RetryAfter,
					"policy_source", res.Source)
				writeRejection(w, d)
				return
			}

			ctx := identity.NewContext(r.Context(), id)
			ctx = context.WithValue(ctx, decisionKey{}, d)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func setHeaders(h http.Header, d Decision) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset, 10))
}

func writeRejection(w http.ResponseWriter, d Decision) {
	w.Header().Set("Retry-After", strconv.FormatInt(d.RetryAfter, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	if err := json.NewEncoder(w).Encode(models.NewRateLimitExceededResponse(d.RetryAfter)); err != nil {
		slog.Error("Failed to encode rate limit response", "error", err)
	}
}

// newSkipper matches exact paths and path prefixes. A prefix matches itself
// and anything below it, so "/uploads" covers "/uploads/a.png" but not
// "/uploadsx".
func newSkipper(paths, prefixes []string) func(string) bool {
	exact := make(map[string]bool, len(paths))
	for _, p := range paths {
		exact[p] = true
	}
	trimmed := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSuffix(p, "/"); p != "" {
			trimmed = append(trimmed, p)
		}
	}

	return func(path string) bool {
		if exact[path] {
			return true
		}
		for _, p := range trimmed {
			if path == p || strings.HasPrefix(path, p+"/") {
				return true
			}
		}
		return false
	}
}
