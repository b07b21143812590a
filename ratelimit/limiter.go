package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates outbound sends. Implementations must be safe for
// concurrent use. Wait blocks until a token is available or ctx is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// TokenBucket is the default Limiter, backed by golang.org/x/time/rate.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket returns a Limiter that allows burst immediate sends and
// refills at ratePerSecond thereafter.
func NewTokenBucket(ratePerSecond float64, burst int) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (t *TokenBucket) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

// Unlimited never blocks. Useful as a default when no limiter is configured.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error {
	return ctx.Err()
}

// Group applies every limiter in sequence; the caller waits on all of
// them before a send is allowed. Mirrors the spec's "rate_limiters"
// (plural) client option.
type Group []Limiter

func (g Group) Wait(ctx context.Context) error {
	for _, l := range g {
		if err := l.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
