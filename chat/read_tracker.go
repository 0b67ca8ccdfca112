package chat

import (
	"context"
	"fmt"

	"tutorchat/models"
)

// ReadTracker selects and commits read receipts for the open conversation.
// Like Reconciler, it belongs to the session loop.
type ReadTracker struct {
	marker   ReadMarker
	inFlight map[string]struct{}
}

// NewReadTracker constructs a tracker that commits through marker.
func NewReadTracker(marker ReadMarker) *ReadTracker {
	return &ReadTracker{marker: marker, inFlight: make(map[string]struct{})}
}

// Scan returns ids that should be confirmed read: unread, authored by someone
// else, carrying a server id, and not already being committed.
func (t *ReadTracker) Scan(messages []models.Message, local models.Participant) []string {
	ids := make([]string, 0)
	for _, msg := range messages {
		if msg.IsRead || msg.Provisional || msg.ID == "" {
			continue
		}
		if local.Same(msg.Sender) {
			continue
		}
		if _, pending := t.inFlight[msg.ID]; pending {
			continue
		}
		ids = append(ids, msg.ID)
	}
	return ids
}

// Begin marks ids as in flight so overlapping scans skip them.
func (t *ReadTracker) Begin(ids []string) {
	for _, id := range ids {
		t.inFlight[id] = struct{}{}
	}
}

// End clears the in-flight marks for ids.
func (t *ReadTracker) End(ids []string) {
	for _, id := range ids {
		delete(t.inFlight, id)
	}
}

// Reset forgets every in-flight mark.
func (t *ReadTracker) Reset() {
	t.inFlight = make(map[string]struct{})
}

// Commit calls the mark-read endpoint. It does not touch local state.
func (t *ReadTracker) Commit(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := t.marker.MarkRead(ctx, ids); err != nil {
		return fmt.Errorf("mark %d messages read: %w", len(ids), err)
	}
	return nil
}

// ApplyRead flips IsRead on messages whose id is in ids and returns how many
// changed. Applying the same ids twice changes nothing the second time.
func ApplyRead(messages []models.Message, ids []string) int {
	if len(ids) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	flipped := 0
	for i := range messages {
		if messages[i].IsRead {
			continue
		}
		if _, ok := set[messages[i].ID]; ok {
			messages[i].IsRead = true
			flipped++
		}
	}
	return flipped
}
