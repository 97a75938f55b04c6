package audit

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies and downstream routing.
type EventCategory string

const (
	// CategoryCompliance covers events with legal or contractual significance:
	// every claim status change, decisions, SLA breaches, insurer assignment.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for operational visibility,
	// such as org trust recomputation and maintenance sweeps.
	CategoryOperations EventCategory = "operations"
)

// Resource types used in Event.ResourceType.
const (
	ResourceClaim        = "claim"
	ResourceOrganization = "organization"
)

// Event is one immutable ledger entry. Seq is assigned by the store on append
// and totally orders every event; per resource, Seq follows commit order.
type Event struct {
	Seq          int64
	ID           uuid.UUID
	Type         AuditEvent
	Category     EventCategory
	ActorID      string
	ResourceType string
	ResourceID   string
	Payload      map[string]any
	RequestID    string
	Timestamp    time.Time
}

type AuditEvent string

const (
	// Claim events
	EventClaimStatusChanged AuditEvent = "claim_status_changed"
	EventInsurerAssigned    AuditEvent = "insurer_assigned"
	EventSLABreached        AuditEvent = "sla_breached"
	EventReviewRecorded     AuditEvent = "review_recorded"
	EventRoutingHeld        AuditEvent = "routing_held"
	EventDocumentsAttached  AuditEvent = "documents_attached"
	EventClaimRescored      AuditEvent = "claim_rescored"

	// Organization events
	EventOrgTrustRecomputed AuditEvent = "org_trust_recomputed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventClaimStatusChanged: CategoryCompliance,
	EventInsurerAssigned:    CategoryCompliance,
	EventSLABreached:        CategoryCompliance,
	EventReviewRecorded:     CategoryCompliance,
	EventRoutingHeld:        CategoryCompliance,
	EventDocumentsAttached:  CategoryCompliance,
	EventClaimRescored:      CategoryCompliance,
	EventOrgTrustRecomputed: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store is the append-only ledger. There is deliberately no update or delete.
type Store interface {
	// Append persists event atomically and returns it with Seq assigned.
	// When ctx carries a SQL transaction the append joins it.
	Append(ctx context.Context, event Event) (Event, error)

	// ReadTimeline lazily yields the events of one resource in append order.
	// Each range over the returned sequence restarts from the beginning.
	ReadTimeline(ctx context.Context, resourceType, resourceID string) iter.Seq2[Event, error]

	// ReadAfter returns up to limit events with Seq > afterSeq, in Seq order.
	ReadAfter(ctx context.Context, afterSeq int64, limit int) ([]Event, error)
}

// Collect drains a timeline into a slice, stopping at the first error.
func Collect(seq iter.Seq2[Event, error]) ([]Event, error) {
	var events []Event
	for ev, err := range seq {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}
