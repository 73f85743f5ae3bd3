// Package bus implements the in-process publish/subscribe broker that routes
// SwarmMessages between role-typed agent handlers.
//
// Delivery semantics: every handler registered for a target role is invoked
// with bounded retry and exponential backoff. A handler that exhausts its
// attempts is dead-lettered and never retried again; its failure does not
// block delivery to other role/handler pairs, and it is non-fatal to the
// publish call as a whole.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ecoswarm/internal/sink"
	"ecoswarm/internal/types"
)

// Handler consumes a message for a role. A non-nil error counts as a failed
// delivery attempt and triggers retry; a SwarmResult with OK=false is a
// domain-level outcome and is not retried.
type Handler func(ctx context.Context, msg types.SwarmMessage) (types.SwarmResult, error)

// DeadLetter records a message whose delivery exhausted all retries.
// Retained for inspection, never retried automatically.
type DeadLetter struct {
	Message types.SwarmMessage
	Role    string
	Error   string
	At      time.Time
}

// Config controls per-handler retry behavior.
type Config struct {
	// MaxAttempts is the total number of delivery attempts per handler.
	MaxAttempts int
	// BackoffBase is the delay before the second attempt; it doubles for
	// each subsequent attempt.
	BackoffBase time.Duration
}

// DefaultConfig returns the retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BackoffBase: 50 * time.Millisecond,
	}
}

type subscription struct {
	id      int64
	handler Handler
}

// Bus is the message broker. Safe for concurrent use.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]*subscription
	nextSub  int64

	dlMu        sync.Mutex
	deadLetters []DeadLetter

	events sink.EventSink
	logger *zap.Logger
	config Config
}

// New creates a bus. A nil events sink disables auditing; a nil logger is
// replaced with a no-op logger.
func New(events sink.EventSink, logger *zap.Logger, cfg Config) *Bus {
	if events == nil {
		events = sink.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultConfig().BackoffBase
	}
	return &Bus{
		handlers: make(map[string][]*subscription),
		events:   events,
		logger:   logger,
		config:   cfg,
	}
}

// Subscribe registers a handler for a role and returns an unsubscribe
// function. Multiple handlers per role are allowed and all are invoked.
func (b *Bus) Subscribe(role string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSub++
	sub := &subscription{id: b.nextSub, handler: h}
	b.handlers[role] = append(b.handlers[role], sub)
	b.logger.Debug("handler subscribed", zap.String("role", role), zap.Int64("sub", sub.id))

	id := sub.id
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[role]
		for i, s := range subs {
			if s.id == id {
				b.handlers[role] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers msg to every handler of every effective target role: the
// message's explicit To list when non-empty, otherwise every currently
// registered role. Dispatch across role/handler pairs is concurrent and
// Publish returns only once all pairs have been attempted. Handler failures
// are dead-lettered, not returned.
func (b *Bus) Publish(ctx context.Context, msg types.SwarmMessage) error {
	b.append(sink.Record{Kind: sink.KindPublish, Message: msg})

	targets := msg.To
	if len(targets) == 0 {
		b.mu.RLock()
		for role := range b.handlers {
			targets = append(targets, role)
		}
		b.mu.RUnlock()
	}

	type pair struct {
		role string
		sub  *subscription
	}
	var pairs []pair
	b.mu.RLock()
	for _, role := range targets {
		for _, sub := range b.handlers[role] {
			pairs = append(pairs, pair{role: role, sub: sub})
		}
	}
	b.mu.RUnlock()

	var g errgroup.Group
	for _, p := range pairs {
		p := p
		g.Go(func() error {
			return b.deliver(ctx, p.role, p.sub, msg)
		})
	}
	if err := g.Wait(); err != nil {
		// Failed branches are already dead-lettered; the publish call
		// itself completes.
		b.logger.Warn("publish completed with delivery failures",
			zap.String("message", msg.ID),
			zap.String("kind", string(msg.Kind)),
			zap.Error(err))
	}
	return nil
}

// deliver attempts a single role/handler pair with bounded retry.
func (b *Bus) deliver(ctx context.Context, role string, sub *subscription, msg types.SwarmMessage) error {
	var lastErr error
	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			// Base delay doubling each retry.
			time.Sleep(b.config.BackoffBase << uint(attempt-2))
		}

		res, err := sub.handler(ctx, msg)
		if err == nil {
			b.append(sink.Record{
				Kind:    sink.KindDelivery,
				Message: msg,
				Role:    role,
				Result:  &res,
			})
			return nil
		}

		lastErr = err
		b.logger.Debug("delivery attempt failed",
			zap.String("role", role),
			zap.String("message", msg.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	b.dlMu.Lock()
	b.deadLetters = append(b.deadLetters, DeadLetter{
		Message: msg,
		Role:    role,
		Error:   lastErr.Error(),
		At:      time.Now(),
	})
	b.dlMu.Unlock()

	b.append(sink.Record{
		Kind:    sink.KindError,
		Message: msg,
		Role:    role,
		Error:   lastErr.Error(),
	})
	b.logger.Warn("message dead-lettered",
		zap.String("role", role),
		zap.String("message", msg.ID),
		zap.String("kind", string(msg.Kind)),
		zap.Error(lastErr))

	return fmt.Errorf("delivery to role %s failed after %d attempts: %w", role, b.config.MaxAttempts, lastErr)
}

// DeadLetters returns a copy of the dead-letter collection.
func (b *Bus) DeadLetters() []DeadLetter {
	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	out := make([]DeadLetter, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// append writes an audit record, best-effort. The sink must never block or
// fail the delivery path.
func (b *Bus) append(rec sink.Record) {
	if err := b.events.Append(rec); err != nil {
		b.logger.Debug("event sink append failed", zap.Error(err))
	}
}
