// Package events keeps an append-only activity log and, when a broker is
// configured, fans each entry out to AMQP subscribers.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mind-engage/quizhub/internal/apperr"
)

const (
	TypeAttemptStarted   = "attempt.started"
	TypeAttemptFinalized = "attempt.finalized"
	TypeQuizCreated      = "quiz.created"
	TypeQuizAssigned     = "quiz.assigned"
	TypeRosterImported   = "roster.imported"
	TypeUserSynced       = "user.synced"
)

type Event struct {
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	Key       string    `json:"key"`
	ActorID   string    `json:"actor_id,omitempty"`
	DataJSON  string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Data decodes the payload into v.
func (e Event) Data(v any) error {
	return json.Unmarshal([]byte(e.DataJSON), v)
}

type EventRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db, now: time.Now} }

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = r.now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, actor_id, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.Type, e.Key, e.ActorID, e.DataJSON, created.Unix())
	return apperr.Transient("append event", err)
}

// Since returns events created at or after t, newest first. When types is
// non-empty only those event types are returned, and limit counts them only.
func (r *EventRepo) Since(ctx context.Context, t time.Time, limit int, types ...string) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	where := "created_at >= $1"
	args := []any{t.Unix()}
	if len(types) > 0 {
		ph := make([]string, len(types))
		for i, typ := range types {
			args = append(args, typ)
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		where += " AND typ IN (" + strings.Join(ph, ",") + ")"
	}
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, typ, key, actor_id, data, created_at FROM event_log
		 WHERE `+where+fmt.Sprintf(` ORDER BY created_at DESC, seq DESC LIMIT $%d`, len(args)),
		args...)
	if err != nil {
		return nil, apperr.Transient("list events", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var (
			e  Event
			ts int64
		)
		if err := rows.Scan(&e.Seq, &e.Type, &e.Key, &e.ActorID, &e.DataJSON, &ts); err != nil {
			return nil, apperr.Transient("list events", err)
		}
		e.CreatedAt = time.Unix(ts, 0).UTC()
		out = append(out, e)
	}
	return out, apperr.Transient("list events", rows.Err())
}
