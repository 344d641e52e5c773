// Package ledger is the durable, append-only record of every state
// transition. Persistence is synchronous and authoritative; relay onto the
// bus bridge is best-effort and never fails the originating transition.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PerformanceSuite/CommandCenter-sub018/internal/bus"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/logging"
	"github.com/PerformanceSuite/CommandCenter-sub018/internal/repository"
	"github.com/PerformanceSuite/CommandCenter-sub018/pkg/models"
)

// Ledger appends events to the store and relays them to the bridge.
type Ledger struct {
	store     repository.Store
	bridge    *bus.Bridge
	logger    *logging.Logger
	serviceID string
	instance  string
}

// New creates a Ledger. serviceID and instance form the event origin and the
// auto-namespacing prefix.
func New(store repository.Store, bridge *bus.Bridge, logger *logging.Logger, serviceID, instance string) *Ledger {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Ledger{
		store:     store,
		bridge:    bridge,
		logger:    logger,
		serviceID: serviceID,
		instance:  instance,
	}
}

// Origin returns the identity stamped onto published events.
func (l *Ledger) Origin() string {
	return l.serviceID + "." + l.instance
}

// Publish persists an event, assigning id, timestamp, origin and a
// correlation id if absent, then hands it to the bridge. A bridge failure is
// logged and swallowed; the stored event remains the durable record and a
// replay path can re-publish later.
func (l *Ledger) Publish(ctx context.Context, subject string, payload map[string]interface{}, correlationID string) (*models.Event, error) {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	event := &models.Event{
		ID:            uuid.New().String(),
		Subject:       l.namespace(subject),
		Origin:        l.Origin(),
		CorrelationID: correlationID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}

	if err := l.store.AppendEvent(ctx, event); err != nil {
		return nil, err
	}

	if l.bridge != nil {
		if err := l.bridge.Publish(ctx, *event); err != nil {
			busErr := &models.BusUnavailableError{Err: err}
			l.logger.Warn("event relay failed, ledger copy remains authoritative",
				"subject", event.Subject, "event_id", event.ID, "error", busErr)
		}
	}

	return event, nil
}

// Query returns up to limit events matching the subject pattern, newest
// first.
func (l *Ledger) Query(ctx context.Context, pattern string, limit int) ([]*models.Event, error) {
	return l.store.QueryEvents(ctx, pattern, limit)
}

// namespace prefixes bare subjects with <service>.<instance>. Subjects
// already under the service id pass through untouched.
func (l *Ledger) namespace(subject string) string {
	if subject == l.serviceID || strings.HasPrefix(subject, l.serviceID+".") {
		return subject
	}
	return l.serviceID + "." + l.instance + "." + subject
}
