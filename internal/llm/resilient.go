package llm

import (
	"context"
	"errors"

	"github.com/nomadcafe/kekiai-japaneseai/internal/apperr"
	"github.com/nomadcafe/kekiai-japaneseai/internal/resilience"
)

// Resilient retries retryable provider failures and fails fast while the
// provider's breaker is open.
type Resilient struct {
	inner   Provider
	breaker *resilience.Breaker
	retry   resilience.RetryConfig
}

// NewResilient wraps p.
func NewResilient(p Provider, b *resilience.Breaker, rc resilience.RetryConfig) *Resilient {
	return &Resilient{inner: p, breaker: b, retry: rc}
}

func (r *Resilient) Name() Kind      { return r.inner.Name() }
func (r *Resilient) Available() bool { return r.inner.Available() }

func (r *Resilient) Generate(ctx context.Context, req Request) (string, error) {
	var out string
	err := resilience.Retry(ctx, r.retry, func() error {
		text, err := resilience.ExecuteWithResult(r.breaker, tripsBreaker, func() (string, error) {
			return r.inner.Generate(ctx, req)
		})
		if errors.Is(err, resilience.ErrOpen) {
			return apperr.Wrapf(err, apperr.Unavailable, "%s temporarily disabled", r.inner.Name())
		}
		out = text
		return err
	})
	return out, err
}

// Auth and configuration failures are the caller's problem, not the provider's.
func tripsBreaker(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.LLMAuthFailed, apperr.LLMNotConfigured, apperr.LLMInvalidResponse, apperr.InvalidArgument:
		return false
	}
	return !errors.Is(err, context.Canceled)
}
