package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"iter"

	audit "careverify/pkg/platform/audit"
	txcontext "careverify/pkg/platform/tx"
)

const defaultPageSize = 200

// Store implements audit.Store on the audit_events table. The BIGSERIAL seq
// column provides the total order; appends join a transaction carried in ctx
// so a ledger row commits together with the state change it records.
type Store struct {
	db       *sql.DB
	pageSize int
}

// Option configures the Store.
type Option func(*Store)

// WithPageSize sets how many rows each timeline page fetches.
func WithPageSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, pageSize: defaultPageSize}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type dbExecutor interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts the event and returns it with the assigned seq.
func (s *Store) Append(ctx context.Context, event audit.Event) (audit.Event, error) {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return audit.Event{}, fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			id, event_type, category, actor_id, resource_type,
			resource_id, payload, request_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING seq
	`
	err = s.execer(ctx).QueryRowContext(ctx, query,
		event.ID,
		string(event.Type),
		string(event.Category),
		event.ActorID,
		event.ResourceType,
		event.ResourceID,
		payloadBytes,
		event.RequestID,
		event.Timestamp,
	).Scan(&event.Seq)
	if err != nil {
		return audit.Event{}, fmt.Errorf("insert audit event: %w", err)
	}
	return event, nil
}

// ReadTimeline pages through the resource's events by seq, fetching the next
// page only when the consumer has drained the previous one.
func (s *Store) ReadTimeline(ctx context.Context, resourceType, resourceID string) iter.Seq2[audit.Event, error] {
	query := `
		SELECT seq, id, event_type, category, actor_id, resource_type,
			   resource_id, payload, request_id, created_at
		FROM audit_events
		WHERE resource_type = $1 AND resource_id = $2 AND seq > $3
		ORDER BY seq
		LIMIT $4
	`
	return func(yield func(audit.Event, error) bool) {
		var cursor int64
		for {
			page, err := s.queryEvents(ctx, query, resourceType, resourceID, cursor, s.pageSize)
			if err != nil {
				yield(audit.Event{}, err)
				return
			}
			for _, ev := range page {
				if !yield(ev, nil) {
					return
				}
				cursor = ev.Seq
			}
			if len(page) < s.pageSize {
				return
			}
		}
	}
}

// ReadAfter returns up to limit events with seq greater than afterSeq.
func (s *Store) ReadAfter(ctx context.Context, afterSeq int64, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = s.pageSize
	}
	query := `
		SELECT seq, id, event_type, category, actor_id, resource_type,
			   resource_id, payload, request_id, created_at
		FROM audit_events
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2
	`
	return s.queryEvents(ctx, query, afterSeq, limit)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]audit.Event, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// scanEvents scans multiple rows into audit.Event slice.
func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	var events []audit.Event

	for rows.Next() {
		var (
			event        audit.Event
			eventType    string
			category     string
			payloadBytes []byte
		)
		err := rows.Scan(
			&event.Seq,
			&event.ID,
			&eventType,
			&category,
			&event.ActorID,
			&event.ResourceType,
			&event.ResourceID,
			&payloadBytes,
			&event.RequestID,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Type = audit.AuditEvent(eventType)
		event.Category = audit.EventCategory(category)
		if len(payloadBytes) > 0 {
			if err := json.Unmarshal(payloadBytes, &event.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload: %w", err)
			}
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

// CursorStore persists how far a relay has published, keyed by relay name.
type CursorStore struct {
	db *sql.DB
}

func NewCursorStore(db *sql.DB) *CursorStore {
	return &CursorStore{db: db}
}

func (c *CursorStore) Load(ctx context.Context, name string) (int64, error) {
	var seq int64
	err := c.db.QueryRowContext(ctx, `SELECT last_seq FROM audit_relay_cursors WHERE name = $1`, name).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load relay cursor: %w", err)
	}
	return seq, nil
}

func (c *CursorStore) Save(ctx context.Context, name string, seq int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO audit_relay_cursors (name, last_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET last_seq = EXCLUDED.last_seq, updated_at = now()
		WHERE audit_relay_cursors.last_seq < EXCLUDED.last_seq
	`, name, seq)
	if err != nil {
		return fmt.Errorf("save relay cursor: %w", err)
	}
	return nil
}
