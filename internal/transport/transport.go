// Package transport is the boundary to the messenger automation drivers.
// The engine only knows this interface; how a message actually reaches
// WhatsApp or Telegram is the driver's concern, including its own
// retries.
package transport

import (
	"context"
	"time"

	"github.com/mtelegin/herald/internal/campaign"
)

// Request is one send attempt handed to a driver
type Request struct {
	ProfileID string
	ContactID string
	PhoneID   string
	Channel   campaign.Channel
	Template  string
}

// Outcome is the driver's verdict for one attempt
type Outcome struct {
	Delivered bool
	Err       string // driver-reported error message when not delivered

	// LoginRequired means the profile's session is gone and sends
	// through it will keep failing until the account is re-linked.
	LoginRequired bool
}

// Driver delivers messages. Send must return within bounded time; the
// engine additionally enforces a timeout and treats overruns as failed.
type Driver interface {
	Send(ctx context.Context, req Request) (Outcome, error)
}

// Bounded wraps a driver with the engine's transport timeout. An attempt
// that neither returns nor errors in time is reported as a failed
// outcome, never as a hang.
type Bounded struct {
	driver  Driver
	timeout time.Duration
}

// NewBounded wraps a driver with a timeout
func NewBounded(d Driver, timeout time.Duration) *Bounded {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Bounded{driver: d, timeout: timeout}
}

// Send delivers with the configured timeout
func (b *Bounded) Send(ctx context.Context, req Request) (Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type result struct {
		out Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := b.driver.Send(ctx, req)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return Outcome{Delivered: false, Err: r.err.Error()}, nil
		}
		return r.out, nil
	case <-ctx.Done():
		return Outcome{Delivered: false, Err: "send timed out"}, nil
	}
}
