package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/llmshield/shield-gateway/internal/config"
	"github.com/llmshield/shield-gateway/internal/httputil"
	"github.com/llmshield/shield-gateway/internal/identity"
	"github.com/llmshield/shield-gateway/internal/telemetry"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// Middleware enforces the per-fingerprint request rate and, when a
// budget is configured, the daily token allowance. Config is read per
// request so a hot reload takes effect immediately.
func Middleware(limiter *Limiter, usage *UsageTracker, cfg func() *config.Config, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rl := cfg().RateLimit
			if !rl.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			reqID := w.Header().Get("X-Request-ID")
			fp := identity.FromRequest(r).Fingerprint()
			limit := int64(rl.RequestsPerMinute)

			result, _ := limiter.Check(r.Context(), fp, limit, time.Minute)

			w.Header().Set(headerRateLimitRequests, strconv.FormatInt(limit, 10))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"fingerprint", fp,
					"limit", limit,
				)
				if metrics != nil {
					metrics.RecordRateLimited()
				}
				w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Seconds())))
				httputil.WriteRateLimited(w, reqID,
					fmt.Sprintf("Rate limit exceeded: %d requests per minute", limit))
				return
			}

			if rl.DailyTokenBudget > 0 {
				budget, _ := usage.CheckDailyTokens(r.Context(), fp, rl.DailyTokenBudget)
				if !budget.Allowed {
					slog.Warn("daily token budget exceeded",
						"request_id", reqID,
						"fingerprint", fp,
						"used_tokens", budget.UsedTokens,
						"limit_tokens", budget.LimitTokens,
					)
					if metrics != nil {
						metrics.RecordRateLimited()
					}
					httputil.WriteRateLimited(w, reqID,
						fmt.Sprintf("Daily token budget exceeded: used %d of %d tokens", budget.UsedTokens, budget.LimitTokens))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
