package command

import (
	"context"
	"errors"
	"time"
)

// sourceRetryDelay is the pause after a failed Next before trying again.
const sourceRetryDelay = time.Second

// Source yields inbound messages. Next blocks until a message arrives,
// ctx is cancelled, or the source is closed (ErrSourceClosed).
type Source interface {
	Next(ctx context.Context) (Inbound, error)
}

// Serve handles messages from src one at a time until ctx is cancelled
// or src is closed. It returns nil in both cases.
func (r *Router) Serve(ctx context.Context, src Source) error {
	for {
		msg, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrSourceClosed) {
				return nil
			}
			r.logger.Warn("command source error", "error", err, "retry_in", sourceRetryDelay.String())

			timer := time.NewTimer(sourceRetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
			continue
		}
		r.Handle(ctx, msg)
	}
}

// ChanSource adapts a channel to Source. Closing the channel closes the source.
type ChanSource <-chan Inbound

// Next returns the next message from the channel.
func (c ChanSource) Next(ctx context.Context) (Inbound, error) {
	select {
	case <-ctx.Done():
		return Inbound{}, ctx.Err()
	case msg, ok := <-c:
		if !ok {
			return Inbound{}, ErrSourceClosed
		}
		return msg, nil
	}
}
