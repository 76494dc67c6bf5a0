package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/dbwarden/internal/registry"
	"github.com/charlesng35/dbwarden/pkg/logger"
)

const granteeLookupTimeout = time.Second

// GranteeLookup resolves who else may see a resource.
type GranteeLookup interface {
	GranteesOf(ctx context.Context, resourceID string) ([]string, error)
}

// Fanout forwards events to other instances.
type Fanout interface {
	Enqueue(event StatusEnvelope) bool
}

// StatusEnvelope is the payload pushed for a status change.
type StatusEnvelope struct {
	registry.StatusEvent
	Recipients []string `json:"recipients"`
}

// StatusBroadcaster pushes registry status changes to the owner and grantees of a connection.
type StatusBroadcaster struct {
	hub      *Hub
	grantees GranteeLookup
	fanout   Fanout
	log      *zap.Logger
}

// BroadcasterOption configures a StatusBroadcaster.
type BroadcasterOption func(*StatusBroadcaster)

// WithFanout mirrors every event to f.
func WithFanout(f Fanout) BroadcasterOption {
	return func(b *StatusBroadcaster) { b.fanout = f }
}

// NewStatusBroadcaster constructs a broadcaster. grantees may be nil.
func NewStatusBroadcaster(hub *Hub, grantees GranteeLookup, opts ...BroadcasterOption) *StatusBroadcaster {
	b := &StatusBroadcaster{
		hub:      hub,
		grantees: grantees,
		log:      logger.WithModule("realtime"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PublishStatus implements registry.Publisher.
func (b *StatusBroadcaster) PublishStatus(ctx context.Context, event registry.StatusEvent) {
	recipients := b.recipients(ctx, event)

	if b.hub != nil {
		b.hub.BroadcastToUsers(StreamConnectionStatus, recipients, Message{
			Event: EventStatusChanged,
			Data:  event,
		})
	}
	if b.fanout != nil {
		if !b.fanout.Enqueue(StatusEnvelope{StatusEvent: event, Recipients: recipients}) {
			b.log.Debug("status fan-out queue full", zap.String("resource", event.ResourceID))
		}
	}
}

func (b *StatusBroadcaster) recipients(ctx context.Context, event registry.StatusEvent) []string {
	out := []string{}
	if event.OwnerID != "" {
		out = append(out, event.OwnerID)
	}
	if b.grantees == nil {
		return out
	}

	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), granteeLookupTimeout)
	defer cancel()

	names, err := b.grantees.GranteesOf(lookupCtx, event.ResourceID)
	if err != nil {
		b.log.Warn("failed to resolve grantees", zap.String("resource", event.ResourceID), zap.Error(err))
		return out
	}
	for _, name := range names {
		if name != event.OwnerID {
			out = append(out, name)
		}
	}
	return out
}
