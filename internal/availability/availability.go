// Package availability wraps the external tee-sheet gateway with a bounded
// retry policy. Transient failures are retried a small fixed number of times
// with a fixed delay; a definitive "no availability" answer is final and
// never retried.
package availability

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/fairwaydesk/teeflow/internal/domain"
	"github.com/fairwaydesk/teeflow/internal/observability"
)

// Request describes one availability probe.
type Request struct {
	TenantID string
	Dates    []string
	Players  int
	Slots    int // consecutive slots needed for parties over four
}

// Slot is one open tee time returned by the gateway.
type Slot struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Capacity int    `json:"capacity"`
}

// Gateway is the upstream tee-sheet boundary.
type Gateway interface {
	Check(ctx context.Context, req Request) ([]Slot, error)
}

// Policy retries the gateway on transient failures only.
type Policy struct {
	gateway  Gateway
	attempts int
	backoff  time.Duration
	logger   observability.Logger
}

func NewPolicy(gateway Gateway, attempts int, backoff time.Duration, logger observability.Logger) *Policy {
	if attempts < 1 {
		attempts = 1
	}
	return &Policy{gateway: gateway, attempts: attempts, backoff: backoff, logger: logger}
}

// Check runs the probe under the retry budget. Exhausting the budget returns
// the last transient error; the engine degrades that to a manual follow-up
// outcome rather than failing the booking.
func (p *Policy) Check(ctx context.Context, req Request) ([]Slot, error) {
	var lastErr error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		slots, err := p.gateway.Check(ctx, req)
		if err == nil {
			return slots, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
		observability.AvailabilityRetries.Inc()
		p.logger.WithField("attempt", attempt).Warn("availability gateway transient failure: ", err)
		if attempt == p.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.backoff):
		}
	}
	return nil, errors.Wrapf(lastErr, "availability check failed after %d attempts", p.attempts)
}

func retryable(err error) bool {
	return errors.Is(err, domain.ErrUpstreamTimeout) || errors.Is(err, domain.ErrUpstreamUnavailable)
}
