package journal

import (
	"context"
	"encoding/json"

	"ain/internal/logging"
	"ain/internal/types"
)

// VectorSink is the slice of vector memory the dual writer needs.
type VectorSink interface {
	Remember(ctx context.Context, text string, mtype types.MemoryType, source, metadata string) (string, error)
}

// DualWriter records an event in the journal first and then mirrors it
// into vector memory. The journal is the source of truth: a vector
// failure is logged and swallowed, a journal failure aborts.
type DualWriter struct {
	Journal *Journal
	Vector  VectorSink
}

// Record appends the event, mirrors it into vector memory, and
// backfills the embedding id on the stored copy when the mirror lands.
func (d *DualWriter) Record(ctx context.Context, ev types.Event, mtype types.MemoryType) (types.Event, error) {
	stored, err := d.Journal.Append(ev)
	if err != nil {
		return stored, err
	}
	if d.Vector == nil {
		return stored, nil
	}

	text := stored.Description
	if text == "" {
		text = stored.Action
	}
	if text == "" {
		return stored, nil
	}

	embID, err := d.Vector.Remember(ctx, text, mtype, string(stored.Kind), eventMetadata(stored))
	if err != nil {
		logging.Get(logging.CategoryJournal).Warn("vector mirror failed for %s: %v", stored.ID, err)
		return stored, nil
	}
	stored.EmbeddingID = embID
	d.Journal.setEmbeddingID(stored.ID, embID)
	return stored, nil
}

func eventMetadata(ev types.Event) string {
	raw, err := json.Marshal(map[string]interface{}{
		"event_id": ev.ID,
		"action":   ev.Action,
		"target":   ev.Target,
		"status":   string(ev.Status),
	})
	if err != nil {
		return "{}"
	}
	return string(raw)
}
