package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/voxface/internal/config"
	"github.com/MrWong99/voxface/internal/session"
	"github.com/MrWong99/voxface/pkg/avatar"
	"github.com/MrWong99/voxface/pkg/avatar/wsrenderer"
)

const avatarDialTimeout = 15 * time.Second

var _ avatar.Renderer = (*redialRenderer)(nil)

// redialRenderer keeps an avatar renderer connected. The first connection
// and every reconnection after the renderer drops go through the retry
// policy. Events of all underlying renderers are merged into one stream, so
// a forwarder sees disconnected followed by connected and primes again.
type redialRenderer struct {
	dial   func(context.Context) (avatar.Renderer, error)
	policy session.RetryPolicy
	log    *slog.Logger

	mu     sync.RWMutex
	cur    avatar.Renderer
	closed bool

	events chan avatar.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// dialRedialing connects with p and keeps reconnecting until ctx is done or
// Close is called. It fails only when the first connection cannot be made.
func dialRedialing(ctx context.Context, dial func(context.Context) (avatar.Renderer, error), p session.RetryPolicy, log *slog.Logger) (*redialRenderer, error) {
	r := &redialRenderer{
		dial:   dial,
		policy: p,
		log:    log,
		events: make(chan avatar.Event, 16),
		done:   make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	cur, err := r.connect(r.ctx)
	if err != nil {
		r.cancel()
		return nil, err
	}
	r.cur = cur
	go r.run(cur)
	return r, nil
}

func (r *redialRenderer) connect(ctx context.Context) (avatar.Renderer, error) {
	var out avatar.Renderer
	err := session.Retry(ctx, r.policy, func(ctx context.Context) error {
		rr, err := r.dial(ctx)
		if err != nil {
			return err
		}
		out = rr
		return nil
	})
	return out, err
}

func (r *redialRenderer) run(cur avatar.Renderer) {
	defer close(r.done)
	defer close(r.events)

	for {
		for e := range cur.Events() {
			select {
			case r.events <- e:
			default:
				r.log.Debug("avatar: event dropped", "kind", e.Kind.String())
			}
		}
		_ = cur.Close()
		if r.ctx.Err() != nil {
			return
		}

		r.log.Warn("avatar: renderer connection ended, redialing")
		next, err := r.connect(r.ctx)
		if err != nil {
			if r.ctx.Err() == nil {
				r.log.Error("avatar: giving up on renderer", "err", err)
			}
			return
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = next.Close()
			return
		}
		r.cur = next
		r.mu.Unlock()
		cur = next
	}
}

func (r *redialRenderer) current() (avatar.Renderer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, avatar.ErrClosed
	}
	return r.cur, nil
}

// SendAudio implements [avatar.Renderer].
func (r *redialRenderer) SendAudio(ctx context.Context, pcm []byte) error {
	cur, err := r.current()
	if err != nil {
		return err
	}
	return cur.SendAudio(ctx, pcm)
}

// ClearBuffer implements [avatar.Renderer].
func (r *redialRenderer) ClearBuffer(ctx context.Context) error {
	cur, err := r.current()
	if err != nil {
		return err
	}
	return cur.ClearBuffer(ctx)
}

// Events implements [avatar.Renderer]. The channel is closed after Close or
// once reconnecting gave up.
func (r *redialRenderer) Events() <-chan avatar.Event { return r.events }

// Close stops redialing and closes the current renderer. It is idempotent.
func (r *redialRenderer) Close() error {
	r.once.Do(func() {
		r.cancel()
		r.mu.Lock()
		r.closed = true
		cur := r.cur
		r.mu.Unlock()
		_ = cur.Close()
		<-r.done
	})
	return nil
}

// dialAvatar connects the renderer and wraps it in a forwarder. It returns
// nil without error when the avatar is disabled.
func dialAvatar(ctx context.Context, cfg config.AvatarConfig, retry config.RetryConfig, log *slog.Logger) (*avatar.Forwarder, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	header := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}
	dial := func(ctx context.Context) (avatar.Renderer, error) {
		dialCtx, cancel := context.WithTimeout(ctx, avatarDialTimeout)
		defer cancel()
		r, err := wsrenderer.Dial(dialCtx, wsrenderer.Config{
			URL:         cfg.URL,
			Header:      header,
			InitMessage: []byte(cfg.InitMessage),
			Logger:      log,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	r, err := dialRedialing(ctx, dial, avatarRetryPolicy(retry, log), log)
	if err != nil {
		return nil, err
	}
	return avatar.NewForwarder(r,
		avatar.WithChunkSize(cfg.ChunkBytes),
		avatar.WithQueue(cfg.Queue),
		avatar.WithLogger(log),
		avatar.WithErrorHandler(func(err error) {
			log.Warn("avatar: send failed", "err", err)
		}),
	), nil
}

func avatarRetryPolicy(c config.RetryConfig, log *slog.Logger) session.RetryPolicy {
	return session.RetryPolicy{
		MaxRetries: c.MaxRetries,
		Backoff:    c.Backoff,
		MaxBackoff: c.MaxBackoff,
		Logger:     log.With("component", "avatar"),
	}
}
