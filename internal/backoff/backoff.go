package backoff

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

type Kind string

const (
	Fixed       Kind = "fixed"
	Linear      Kind = "linear"
	Exponential Kind = "exponential"
	EqualJitter Kind = "exp_equal_jitter"
	FullJitter  Kind = "exp_full_jitter"
)

// ParseKind accepts the backoffPolicy config values. Empty means FullJitter.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return FullJitter, nil
	case Fixed, Linear, Exponential, EqualJitter, FullJitter:
		return k, nil
	}
	return "", fmt.Errorf("unknown backoff policy %q", s)
}

// Policy spaces out retries of webhook deliveries and store transactions.
type Policy struct {
	Kind Kind
	Base time.Duration
	Max  time.Duration
}

func (p Policy) normalized() Policy {
	if p.Base <= 0 {
		p.Base = time.Second
	}
	if p.Max < p.Base {
		p.Max = p.Base
	}
	if p.Kind == "" {
		p.Kind = FullJitter
	}
	return p
}

// ceiling is Base*2^attempt capped at Max.
func (p Policy) ceiling(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Delay returns the pause before retry number attempt (0 for the first
// retry). A nil rng uses the shared math/rand source.
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	p = p.normalized()
	if attempt < 0 {
		attempt = 0
	}
	switch p.Kind {
	case Fixed:
		return p.Base
	case Linear:
		n := attempt
		if n < 1 {
			n = 1
		}
		if d := p.Base * time.Duration(n); d < p.Max && d > 0 {
			return d
		}
		return p.Max
	case Exponential:
		return p.ceiling(attempt)
	case EqualJitter:
		c := p.ceiling(attempt)
		half := c / 2
		return half + jitter(rng, c-half)
	default:
		return jitter(rng, p.ceiling(attempt))
	}
}

// jitter returns a uniform duration in [0, upTo].
func jitter(rng *rand.Rand, upTo time.Duration) time.Duration {
	if upTo <= 0 {
		return 0
	}
	if rng == nil {
		return time.Duration(rand.Int63n(int64(upTo) + 1))
	}
	return time.Duration(rng.Int63n(int64(upTo) + 1))
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
