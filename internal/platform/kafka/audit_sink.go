package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "careverify/pkg/platform/audit"
)

// auditRecord is the wire shape of a ledger event on the audit topic.
type auditRecord struct {
	Seq          int64          `json:"seq"`
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Category     string         `json:"category"`
	ActorID      string         `json:"actor_id"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Payload      map[string]any `json:"payload,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// AuditSink publishes ledger events keyed by resource, so each resource's
// events land on one partition in seq order.
type AuditSink struct {
	client *kgo.Client
	topic  string
}

func NewAuditSink(client *kgo.Client, topic string) *AuditSink {
	return &AuditSink{client: client, topic: topic}
}

// Publish produces the batch and returns once every record was acknowledged.
func (s *AuditSink) Publish(ctx context.Context, events []audit.Event) error {
	records := make([]*kgo.Record, 0, len(events))
	for _, ev := range events {
		value, err := json.Marshal(auditRecord{
			Seq:          ev.Seq,
			ID:           ev.ID.String(),
			Type:         string(ev.Type),
			Category:     string(ev.Category),
			ActorID:      ev.ActorID,
			ResourceType: ev.ResourceType,
			ResourceID:   ev.ResourceID,
			Payload:      ev.Payload,
			RequestID:    ev.RequestID,
			Timestamp:    ev.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("marshal audit event %d: %w", ev.Seq, err)
		}
		records = append(records, &kgo.Record{
			Topic: s.topic,
			Key:   []byte(ev.ResourceType + ":" + ev.ResourceID),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(ev.Type)},
				{Key: "event_id", Value: []byte(ev.ID.String())},
			},
		})
	}
	if err := s.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("publish audit events: %w", err)
	}
	return nil
}
