package handler

import (
	"time"

	audit "careverify/pkg/platform/audit"
)

// TimelineEntry is one ledger event in GET /claims/{id}/timeline.
type TimelineEntry struct {
	Seq       int64          `json:"seq"`
	Type      string         `json:"type"`
	Category  string         `json:"category"`
	ActorID   string         `json:"actor_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func toTimeline(events []audit.Event) []TimelineEntry {
	out := make([]TimelineEntry, 0, len(events))
	for _, ev := range events {
		out = append(out, TimelineEntry{
			Seq:       ev.Seq,
			Type:      string(ev.Type),
			Category:  string(ev.Category),
			ActorID:   ev.ActorID,
			RequestID: ev.RequestID,
			Payload:   ev.Payload,
			Timestamp: ev.Timestamp,
		})
	}
	return out
}
