package governor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Store is the slice of the session store the governor consults.
type Store interface {
	LastAssistantReplyAt(ctx context.Context, contactID int64) (time.Time, error)
	AssistantRepliesSince(ctx context.Context, contactID int64, since time.Time) (int, error)
}

const (
	DefaultCooldown  = 30 * time.Minute
	DefaultHourlyCap = 20
)

// Governor decides whether an automated reply may be sent to a contact.
// It is a pure check with no side effects: the caller records the reply
// it eventually sends. Any store error denies (fail closed), so an
// outage can never cause unbounded automated messaging.
type Governor struct {
	store     Store
	cooldown  time.Duration
	hourlyCap int
	logger    *zap.Logger
}

func New(store Store, cooldown time.Duration, hourlyCap int, logger *zap.Logger) *Governor {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if hourlyCap <= 0 {
		hourlyCap = DefaultHourlyCap
	}
	return &Governor{
		store:     store,
		cooldown:  cooldown,
		hourlyCap: hourlyCap,
		logger:    logger,
	}
}

// Allow reports whether an automated reply to the contact is permitted
// at the given instant.
func (g *Governor) Allow(ctx context.Context, contactID int64, now time.Time) bool {
	last, err := g.store.LastAssistantReplyAt(ctx, contactID)
	if err != nil {
		g.logger.Error("governor cooldown lookup failed, denying",
			zap.Error(err), zap.Int64("contact_id", contactID))
		return false
	}
	if !last.IsZero() && now.Sub(last) < g.cooldown {
		return false
	}

	count, err := g.store.AssistantRepliesSince(ctx, contactID, now.Add(-time.Hour))
	if err != nil {
		g.logger.Error("governor quota lookup failed, denying",
			zap.Error(err), zap.Int64("contact_id", contactID))
		return false
	}
	return count < g.hourlyCap
}
