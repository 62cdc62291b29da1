package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxface/internal/observe"
	"github.com/MrWong99/voxface/pkg/audio"
)

// Default retry parameters.
const (
	defaultMaxRetries = 3
	defaultBackoff    = 2 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// RetryPolicy bounds reconnection attempts.
type RetryPolicy struct {
	// MaxRetries is the total number of connection attempts, the first one
	// included: 3 means one attempt and at most two retries. Defaults to 3
	// if zero.
	MaxRetries int

	// Backoff is the delay after the first failed attempt. Defaults to 2s
	// if zero.
	Backoff time.Duration

	// MaxBackoff caps the delay. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// Multiplier grows the delay after each failure. Zero means 2; use 1 for
	// a constant delay.
	Multiplier float64

	// Fatal reports errors that no retry can fix. Retry returns them
	// unchanged after the attempt that produced them. Nil means
	// [IsDeviceUnavailable].
	Fatal func(error) bool

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// IsDeviceUnavailable reports whether err is an [audio.DeviceUnavailableError].
// A missing or denied microphone does not come back by reconnecting.
func IsDeviceUnavailable(err error) bool {
	var due *audio.DeviceUnavailableError
	return errors.As(err, &due)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaultMaxRetries
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Metrics == nil {
		p.Metrics = observe.DefaultMetrics()
	}
	if p.Fatal == nil {
		p.Fatal = IsDeviceUnavailable
	}
	return p
}

// Retry calls connect until it succeeds, making at most p.MaxRetries
// attempts. The returned error wraps [ErrConnectionLost] and the last
// attempt's error. An error for which p.Fatal holds is returned as is
// without further attempts. A cancelled ctx stops retrying at once and
// returns ctx.Err().
func Retry(ctx context.Context, p RetryPolicy, connect func(context.Context) error) error {
	p = p.withDefaults()
	backoff := p.Backoff
	var lastErr error

	for attempt := 1; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.Metrics.ReconnectAttempts.Add(ctx, 1)
		p.Logger.Info("session: connecting",
			"attempt", attempt,
			"max_retries", p.MaxRetries,
		)

		lastErr = connect(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if p.Fatal(lastErr) {
			p.Logger.Error("session: not retrying", "attempt", attempt, "err", lastErr)
			return lastErr
		}
		p.Logger.Warn("session: connection attempt failed",
			"attempt", attempt,
			"err", lastErr,
		)
		if attempt == p.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(time.Duration(float64(backoff)*p.Multiplier), p.MaxBackoff)
	}

	p.Logger.Error("session: giving up", "attempts", p.MaxRetries, "err", lastErr)
	return fmt.Errorf("%w after %d attempts: %w", ErrConnectionLost, p.MaxRetries, lastErr)
}

// Supervise keeps a conversation running until ctx is done. start must
// return a started Conversation; it is retried per p. When a running
// conversation loses its connection, a new one is started with a fresh
// retry budget. Supervise ends the current conversation on ctx
// cancellation and returns nil, or the error of the last failed Retry.
func Supervise(ctx context.Context, p RetryPolicy, start func(context.Context) (*Conversation, error)) error {
	p = p.withDefaults()
	for {
		var conv *Conversation
		err := Retry(ctx, p, func(ctx context.Context) error {
			c, err := start(ctx)
			if err != nil {
				return err
			}
			conv = c
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		err = conv.Wait(ctx)
		if ctx.Err() != nil {
			endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			endErr := conv.End(endCtx)
			cancel()
			return endErr
		}
		if err == nil || !errors.Is(err, ErrConnectionLost) {
			return err
		}
		p.Logger.Warn("session: connection lost, reconnecting", "err", err)
	}
}
