// Package bus is the in-process bridge between the event ledger and external
// consumers. It dispatches published events to pattern-addressed routing
// rules and to channel subscribers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/logging"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// ErrClosed is returned by Publish after the bridge has shut down.
var ErrClosed = errors.New("bus bridge is closed")

// Handler processes one event delivered through a routing rule. Handlers run
// on the publisher's goroutine; a panic or error is caught and logged per
// rule and never stops dispatch to other rules.
type Handler func(ctx context.Context, event models.Event) error

// RoutingRule binds a subject pattern to a handler. Rules live in memory and
// are registered at startup or dynamically; they are not part of the
// persisted workflow domain.
type RoutingRule struct {
	ID             string
	SubjectPattern string
	Description    string
	Enabled        bool
	Handler        Handler
}

// subscription is a channel subscriber with its own buffered queue. Slow
// subscribers have events dropped rather than blocking the publisher.
type subscription struct {
	id      string
	pattern string
	ch      chan models.Event
	dropped atomic.Int64
}

// Bridge fans events out to routing rules and subscribers. Registration and
// removal serialize against the dispatch path through a single RWMutex
// (single-writer discipline).
type Bridge struct {
	mu         sync.RWMutex
	rules      map[string]*RoutingRule
	subs       map[string]*subscription
	logger     *logging.Logger
	bufferSize int
	closed     bool
}

// NewBridge creates a Bridge. bufferSize is the per-subscriber channel depth;
// values below 1 fall back to 64.
func NewBridge(logger *logging.Logger, bufferSize int) *Bridge {
	if bufferSize < 1 {
		bufferSize = 64
	}
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Bridge{
		rules:      make(map[string]*RoutingRule),
		subs:       make(map[string]*subscription),
		logger:     logger,
		bufferSize: bufferSize,
	}
}

// Register adds an enabled routing rule and returns its handle.
func (b *Bridge) Register(pattern, description string, h Handler) (string, error) {
	if h == nil {
		return "", fmt.Errorf("routing rule %q has no handler", pattern)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return "", ErrClosed
	}

	id := uuid.New().String()
	b.rules[id] = &RoutingRule{
		ID:             id,
		SubjectPattern: pattern,
		Description:    description,
		Enabled:        true,
		Handler:        h,
	}
	return id, nil
}

// Unregister removes a routing rule by handle. It reports whether a rule was
// removed.
func (b *Bridge) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rules[id]; !ok {
		return false
	}
	delete(b.rules, id)
	return true
}

// SetEnabled toggles a rule without removing it.
func (b *Bridge) SetEnabled(id string, enabled bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	rule, ok := b.rules[id]
	if !ok {
		return false
	}
	rule.Enabled = enabled
	return true
}

// Rules returns a snapshot of the registered rules, handlers omitted.
func (b *Bridge) Rules() []RoutingRule {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]RoutingRule, 0, len(b.rules))
	for _, r := range b.rules {
		out = append(out, RoutingRule{
			ID:             r.ID,
			SubjectPattern: r.SubjectPattern,
			Description:    r.Description,
			Enabled:        r.Enabled,
		})
	}
	return out
}

// Publish dispatches an event to every matching enabled rule and every
// matching subscriber. Each rule handler runs independently; a failing or
// panicking handler is logged and the remaining handlers still run.
// Subscriber sends never block; a full buffer drops the event for that
// subscriber only.
func (b *Bridge) Publish(ctx context.Context, event models.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}

	var matched []*RoutingRule
	for _, rule := range b.rules {
		if rule.Enabled && Match(rule.SubjectPattern, event.Subject) {
			matched = append(matched, rule)
		}
	}

	for _, sub := range b.subs {
		if !Match(sub.pattern, event.Subject) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			n := sub.dropped.Add(1)
			b.logger.Warn("dropping event for slow subscriber",
				"subscriber", sub.id, "subject", event.Subject, "dropped_total", n)
		}
	}
	b.mu.RUnlock()

	for _, rule := range matched {
		b.invoke(ctx, rule, event)
	}
	return nil
}

func (b *Bridge) invoke(ctx context.Context, rule *RoutingRule, event models.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("routing rule handler panicked",
				"rule", rule.ID, "pattern", rule.SubjectPattern, "panic", r)
		}
	}()
	if err := rule.Handler(ctx, event); err != nil {
		b.logger.Error("routing rule handler failed",
			"rule", rule.ID, "pattern", rule.SubjectPattern, "subject", event.Subject, "error", err)
	}
}

// Subscribe registers a channel subscriber for subjects matching pattern.
// The returned cancel function must be called to release the subscription.
func (b *Bridge) Subscribe(pattern string) (<-chan models.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      uuid.New().String(),
		pattern: pattern,
		ch:      make(chan models.Event, b.bufferSize),
	}
	if !b.closed {
		b.subs[sub.id] = sub
	}

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub.id]; ok {
			delete(b.subs, sub.id)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// Closed reports whether the bridge has been shut down.
func (b *Bridge) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Close shuts the bridge down. Subsequent Publish calls return ErrClosed.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	return nil
}
