package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// UsageResult is the outcome of a daily token budget check.
type UsageResult struct {
	Allowed     bool
	UsedTokens  int64
	LimitTokens int64
}

// UsageTracker accumulates billed upstream tokens per caller
// fingerprint, one redis counter per UTC day. A nil client passes every
// check and drops every record.
type UsageTracker struct {
	rdb *redis.Client
}

func NewUsageTracker(rdb *redis.Client) *UsageTracker {
	return &UsageTracker{rdb: rdb}
}

func dailyUsageKey(fp string) string {
	day := time.Now().UTC().Format("2006-01-02")
	return "shield:usage:" + day + ":" + fp
}

// CheckDailyTokens reports whether fp is still under its daily budget.
func (u *UsageTracker) CheckDailyTokens(ctx context.Context, fp string, limitTokens int64) (UsageResult, error) {
	if u.rdb == nil {
		return UsageResult{Allowed: true, LimitTokens: limitTokens}, nil
	}

	used, err := u.rdb.Get(ctx, dailyUsageKey(fp)).Int64()
	if err != nil && err != redis.Nil {
		// Fail open on redis errors.
		return UsageResult{Allowed: true, LimitTokens: limitTokens}, nil
	}

	return UsageResult{
		Allowed:     used < limitTokens,
		UsedTokens:  used,
		LimitTokens: limitTokens,
	}, nil
}

// RecordTokens adds the billed tokens of a completed request to the
// caller's daily counter. The key expires an hour past UTC midnight so
// late stragglers still land on the right day.
func (u *UsageTracker) RecordTokens(ctx context.Context, fp string, tokens int64) error {
	if u.rdb == nil || tokens <= 0 {
		return nil
	}

	key := dailyUsageKey(fp)
	now := time.Now().UTC()
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

	pipe := u.rdb.Pipeline()
	pipe.IncrBy(ctx, key, tokens)
	pipe.Expire(ctx, key, endOfDay.Sub(now)+time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}
