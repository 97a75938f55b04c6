package models

// Status is the claim lifecycle state.
type Status string

const (
	StatusDraft             Status = "draft"
	StatusSubmitted         Status = "submitted"
	StatusOCRProcessing     Status = "ocr_processing"
	StatusAIAnalyzing       Status = "ai_analyzing"
	StatusPendingReview     Status = "pending_review"
	StatusComplianceReview  Status = "compliance_review"
	StatusInsurerReview     Status = "insurer_review"
	StatusApproved          Status = "approved"
	StatusPartiallyApproved Status = "partially_approved"
	StatusDenied            Status = "denied"
	StatusAppealed          Status = "appealed"
	StatusClosed            Status = "closed"
)

// transitions is the complete set of legal edges. Anything absent is rejected.
var transitions = map[Status][]Status{
	StatusDraft:             {StatusSubmitted, StatusClosed},
	StatusSubmitted:         {StatusOCRProcessing},
	StatusOCRProcessing:     {StatusAIAnalyzing, StatusPendingReview, StatusComplianceReview},
	StatusAIAnalyzing:       {StatusPendingReview, StatusComplianceReview},
	StatusPendingReview:     {StatusInsurerReview, StatusDenied},
	StatusComplianceReview:  {StatusInsurerReview, StatusDenied},
	StatusInsurerReview:     {StatusApproved, StatusPartiallyApproved, StatusDenied},
	StatusApproved:          {StatusClosed},
	StatusPartiallyApproved: {StatusAppealed, StatusClosed},
	StatusDenied:            {StatusAppealed, StatusClosed},
	StatusAppealed:          {StatusInsurerReview},
	StatusClosed:            nil,
}

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransitionTo reports whether s -> to is a legal edge.
func (s Status) CanTransitionTo(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsScoring is true while the scoring job owns the claim.
func (s Status) IsScoring() bool {
	return s == StatusOCRProcessing || s == StatusAIAnalyzing
}

// InReview is true for the states a Review can be recorded against.
func (s Status) InReview() bool {
	return s == StatusPendingReview || s == StatusComplianceReview
}

// IsDecided is true once an insurer decision has been applied.
func (s Status) IsDecided() bool {
	return s == StatusApproved || s == StatusPartiallyApproved || s == StatusDenied
}

// IsResolved is true when the claim no longer counts against its SLA.
func (s Status) IsResolved() bool {
	return s.IsDecided() || s == StatusClosed
}

func (s Status) IsTerminal() bool { return s == StatusClosed }

// ParseStatus validates a raw status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	return s, s.IsValid()
}

// ResolvedStatuses lists statuses that stop the SLA clock.
func ResolvedStatuses() []Status {
	return []Status{StatusApproved, StatusPartiallyApproved, StatusDenied, StatusClosed}
}
