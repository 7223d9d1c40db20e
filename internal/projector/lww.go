package projector

import (
	"context"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/domain"
)

// lwwAllows implements the core last-writer-wins rule: an event applies only if
// its timestamp is strictly newer than the entity's current updatedAt. On
// rejection it records an observational conflict and returns false; the
// caller must then skip the mutation entirely.
func (p *Projector) lwwAllows(ctx context.Context, kind domain.EntityKind, entityID string, currentUpdatedAt time.Time, evt domain.Event, conflictKind string) (bool, error) {
	if evt.Timestamp.After(currentUpdatedAt) {
		return true, nil
	}
	_, err := p.conflicts.Record(ctx, kind, entityID, currentUpdatedAt, evt.Timestamp, conflictKind)
	return false, err
}
