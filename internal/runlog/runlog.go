// Package runlog records pipeline batch runs in the pipeline_runs table.
package runlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/oilwatch/priceintel/internal/db"
)

// Status values of a run.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
)

// Entry represents a row in pipeline_runs.
type Entry struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// RunLog provides read/write access to pipeline_runs.
type RunLog struct {
	pool db.Pool

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// New creates a RunLog backed by the given pool.
func New(pool db.Pool) *RunLog {
	return &RunLog{pool: pool, nowFunc: func() time.Time { return time.Now().UTC() }}
}

// Start records the beginning of a run and returns its ID.
func (r *RunLog) Start(ctx context.Context, kind string) (uuid.UUID, error) {
	id := uuid.Must(uuid.NewV7())
	_, err := r.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (id, kind, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, kind, StatusRunning, r.nowFunc(),
	)
	if err != nil {
		return uuid.Nil, eris.Wrapf(err, "runlog: start %s", kind)
	}
	return id, nil
}

// Complete marks a run as finished with every partition applied.
func (r *RunLog) Complete(ctx context.Context, id uuid.UUID, summary any) error {
	return r.finish(ctx, id, StatusComplete, summary, "")
}

// Partial marks a run as finished with some partitions failed.
func (r *RunLog) Partial(ctx context.Context, id uuid.UUID, summary any) error {
	return r.finish(ctx, id, StatusPartial, summary, "")
}

// Fail marks a run as aborted.
func (r *RunLog) Fail(ctx context.Context, id uuid.UUID, summary any, errMsg string) error {
	return r.finish(ctx, id, StatusFailed, summary, errMsg)
}

func (r *RunLog) finish(ctx context.Context, id uuid.UUID, status string, summary any, errMsg string) error {
	var summaryJSON []byte
	if summary != nil {
		var err error
		summaryJSON, err = json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "runlog: marshal summary")
		}
	}
	var errStr *string
	if errMsg != "" {
		errStr = &errMsg
	}

	_, err := r.pool.Exec(ctx,
		`UPDATE pipeline_runs
		 SET status = $2, completed_at = $3, summary = $4, error = $5
		 WHERE id = $1`,
		id, status, r.nowFunc(), summaryJSON, errStr,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: %s run %s", status, id)
	}
	return nil
}

// LastSuccess returns when the most recent complete run of kind started, or
// nil when there has been none.
func (r *RunLog) LastSuccess(ctx context.Context, kind string) (*time.Time, error) {
	var t time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT started_at FROM pipeline_runs
		 WHERE kind = $1 AND status = 'complete'
		 ORDER BY started_at DESC LIMIT 1`,
		kind,
	).Scan(&t)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "runlog: last success for %s", kind)
	}
	return &t, nil
}

// Recent returns the latest runs, newest first. An empty kind lists all.
func (r *RunLog) Recent(ctx context.Context, kind string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, status, started_at, completed_at, summary, error
		 FROM pipeline_runs
		 WHERE $1 = '' OR kind = $1
		 ORDER BY started_at DESC LIMIT $2`,
		kind, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list recent")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var errStr *string
		var summary []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.Status, &e.StartedAt, &e.CompletedAt, &summary, &errStr); err != nil {
			return nil, eris.Wrap(err, "runlog: scan entry")
		}
		if errStr != nil {
			e.Error = *errStr
		}
		if len(summary) > 0 {
			e.Summary = json.RawMessage(summary)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
