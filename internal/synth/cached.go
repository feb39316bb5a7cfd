package synth

import (
	"context"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/cache"
)

// Cached serves repeated requests from a clip store. Concurrent requests
// for the same clip share one synthesis.
type Cached struct {
	inner  Synthesizer
	store  *cache.Store
	logger *log.Logger
	group  singleflight.Group
}

// NewCached wraps inner with store. A nil logger uses the default one.
func NewCached(inner Synthesizer, store *cache.Store, logger *log.Logger) *Cached {
	if logger == nil {
		logger = log.Default().WithPrefix("synth")
	}
	return &Cached{inner: inner, store: store, logger: logger}
}

func (c *Cached) Name() string { return c.inner.Name() }

// Key returns the cache key for req.
func (c *Cached) Key(req Request) string {
	return cache.Key{
		Engine: c.inner.Name(),
		Voice:  req.Voice,
		Lang:   req.Lang,
		Text:   req.Text,
		Rate:   req.rate(),
		Pitch:  req.Pitch,
	}.String()
}

// Synthesize returns a stored clip or synthesizes and stores a new one.
func (c *Cached) Synthesize(ctx context.Context, req Request) (audio.Clip, error) {
	if err := req.check(); err != nil {
		return audio.Clip{}, err
	}
	key := c.Key(req)
	if clip, tier, ok := c.store.Get(key); ok {
		c.logger.Debug("cache hit", "key", key, "tier", tier)
		return clip, nil
	}
	// The shared call outlives any one caller; engines bound it with their
	// own timeout.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		clip, err := c.inner.Synthesize(detached, req)
		if err != nil {
			return audio.Clip{}, err
		}
		if err := c.store.Put(key, clip); err != nil {
			c.logger.Warn("cache put failed", "key", key, "err", err)
		}
		return clip, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return audio.Clip{}, res.Err
		}
		if res.Shared {
			c.logger.Debug("joined synthesis", "key", key)
		}
		return res.Val.(audio.Clip), nil
	case <-ctx.Done():
		return audio.Clip{}, ctx.Err()
	}
}

func (c *Cached) Validate(ctx context.Context) error { return c.inner.Validate(ctx) }

// Close closes the inner engine when it holds resources. The store is
// owned by the caller.
func (c *Cached) Close() error {
	if cl, ok := c.inner.(interface{ Close() error }); ok {
		return cl.Close()
	}
	return nil
}
