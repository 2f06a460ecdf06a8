// Package projection keeps an optimistic local view of entitlement toggles
// and reconciles it with the server.
package projection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/felixgeelhaar/agora/internal/entitlement/domain"
)

// ErrSuperseded is returned to a toggle whose intent was replaced by a newer
// toggle on the same key before its outcome could be applied.
var ErrSuperseded = errors.New("toggle superseded by a newer intent")

// Remote sets a key to an absolute value and returns the confirmed value.
type Remote interface {
	Set(ctx context.Context, key domain.Key, desired bool) (bool, error)
}

// Config configures a Cache.
type Config struct {
	// Timeout bounds each remote call. Zero means no bound.
	Timeout time.Duration
}

type outcome struct {
	value bool
	err   error
}

type intent struct {
	ctx     context.Context
	seq     uint64
	desired bool
	done    chan outcome
}

type entry struct {
	display  bool
	baseline bool
	known    bool
	seq      uint64
	inflight *intent
	queued   *intent
}

// Cache is safe for concurrent use. Keys are independent of each other.
type Cache struct {
	remote Remote
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	entries map[domain.Key]*entry
}

// NewCache creates a cache reconciling through remote.
func NewCache(remote Remote, cfg Config, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		remote:  remote,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[domain.Key]*entry),
	}
}

// Prime records a server-confirmed value for key.
func (c *Cache) Prime(key domain.Key, value bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(key)
	e.baseline = value
	e.known = true
	if e.inflight == nil && e.queued == nil {
		e.display = value
	}
}

// Value returns the displayed value and whether the key has ever been
// primed or confirmed.
func (c *Cache) Value(key domain.Key) (value, known bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false, false
	}
	return e.display, e.known
}

// Toggle flips the displayed value at once and reconciles it with the
// server. It returns the confirmed value, or the error that caused the
// display to roll back.
func (c *Cache) Toggle(ctx context.Context, key domain.Key) (bool, error) {
	c.mu.Lock()
	e := c.entry(key)
	e.seq++
	e.display = !e.display
	it := &intent{ctx: ctx, seq: e.seq, desired: e.display, done: make(chan outcome, 1)}

	if e.queued != nil {
		e.queued.done <- outcome{err: ErrSuperseded}
		e.queued = nil
	}
	if e.inflight == nil {
		e.inflight = it
		go c.send(key, e, it)
	} else {
		e.queued = it
	}
	c.mu.Unlock()

	select {
	case out := <-it.done:
		return out.value, out.err
	case <-ctx.Done():
		return c.abandon(e, it), ctx.Err()
	}
}

// abandon rolls the display back for a cancelled caller and returns the
// baseline. An intent already in flight still completes and its outcome is
// applied.
func (c *Cache) abandon(e *entry, it *intent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e.queued == it {
		e.queued = nil
	}
	if e.seq == it.seq {
		e.display = e.baseline
	}
	return e.baseline
}

// send drains the key's intents one at a time.
func (c *Cache) send(key domain.Key, e *entry, it *intent) {
	for it != nil {
		value, err := c.call(it.ctx, key, it.desired)

		c.mu.Lock()
		if err == nil {
			e.baseline = value
			e.known = true
		}

		// With nothing queued behind it this is the newest live intent,
		// even when a later toggle was cancelled before it was sent.
		out := outcome{value: value, err: err}
		if e.seq == it.seq || e.queued == nil {
			if err == nil {
				e.display = value
			} else {
				e.display = e.baseline
				c.logger.Debug("toggle rolled back",
					"subject_id", key.SubjectID,
					"resource_id", key.ResourceID,
					"kind", key.Kind,
					"error", err,
				)
			}
		} else {
			out = outcome{value: value, err: ErrSuperseded}
		}
		it.done <- out

		it = e.queued
		e.queued = nil
		e.inflight = it
		c.mu.Unlock()
	}
}

// call runs one remote attempt. The attempt outlives caller cancellation but
// not the configured timeout; a response after the timeout is discarded.
func (c *Cache) call(ctx context.Context, key domain.Key, desired bool) (bool, error) {
	ctx = context.WithoutCancel(ctx)
	if c.cfg.Timeout <= 0 {
		return c.remote.Set(ctx, key, desired)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	res := make(chan outcome, 1)
	go func() {
		value, err := c.remote.Set(ctx, key, desired)
		res <- outcome{value: value, err: err}
	}()

	select {
	case out := <-res:
		if errors.Is(out.err, context.DeadlineExceeded) {
			return false, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, out.err)
		}
		return out.value, out.err
	case <-ctx.Done():
		return false, fmt.Errorf("%w: no response within %s", domain.ErrStorageUnavailable, c.cfg.Timeout)
	}
}

func (c *Cache) entry(key domain.Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}
