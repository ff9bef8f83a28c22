package rate

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPolicy = errors.New("invalid rate limit policy")

type Policy struct {
	Max    int
	Window time.Duration

	// FailClosed rejects requests when the counting store is unreachable.
	FailClosed bool
}

func (p Policy) Validate() error {
	if p.Max <= 0 || p.Window < time.Second {
		return fmt.Errorf("%w: max=%d window=%s", ErrInvalidPolicy, p.Max, p.Window)
	}
	return nil
}

type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter time.Duration
}

// Limiter counts attempts per key over a sliding window. Implementations
// return an error only when their backing store fails.
type Limiter interface {
	Allow(ctx context.Context, key string, policy Policy, now time.Time) (Decision, error)
}

func allowed(policy Policy, count int, now time.Time) Decision {
	remaining := policy.Max - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Limit:     policy.Max,
		Remaining: remaining,
		Reset:     ceilSecond(now.Add(policy.Window)),
	}
}

func rejected(policy Policy, oldest, now time.Time) Decision {
	reset := ceilSecond(oldest.Add(policy.Window))
	retry := reset.Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return Decision{
		Limit:      policy.Max,
		Reset:      reset,
		RetryAfter: retry.Round(time.Second),
	}
}

func ceilSecond(t time.Time) time.Time {
	if t.Equal(t.Truncate(time.Second)) {
		return t
	}
	return t.Truncate(time.Second).Add(time.Second)
}

// Presets are the named policies applied across the API surface.
var Presets = map[string]Policy{
	"auth.register":       {Max: 5, Window: time.Hour},
	"auth.login":          {Max: 10, Window: 15 * time.Minute},
	"auth.forgotPassword": {Max: 3, Window: time.Hour},
	"auth.refreshToken":   {Max: 30, Window: time.Hour},

	"read.standard": {Max: 100, Window: time.Minute},
	"read.feed":     {Max: 30, Window: time.Minute},
	"read.search":   {Max: 20, Window: time.Minute},

	"write.post":    {Max: 10, Window: time.Hour},
	"write.comment": {Max: 30, Window: time.Hour},
	"write.update":  {Max: 30, Window: time.Hour},

	"social.like":   {Max: 100, Window: time.Minute},
	"social.follow": {Max: 50, Window: time.Hour},
	"social.share":  {Max: 30, Window: time.Hour},

	"media.upload": {Max: 20, Window: time.Hour},
}

// Preset returns the named policy, or false when no such preset exists.
func Preset(name string) (Policy, bool) {
	p, ok := Presets[name]
	return p, ok
}
