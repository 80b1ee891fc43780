package health

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oilwatch/priceintel/internal/db"
	"github.com/oilwatch/priceintel/internal/model"
)

// ErrSupplierNotFound is returned when a supplier id has no row.
var ErrSupplierNotFound = eris.New("health: supplier not found")

// Transition describes the effect of one outcome or override on a supplier.
type Transition struct {
	SupplierID uuid.UUID          `json:"supplier_id"`
	From       model.ScrapeHealth `json:"from"`
	To         model.ScrapeHealth `json:"to"`
}

// Tracker persists scrape health on the suppliers table.
type Tracker struct {
	pool   db.Pool
	policy Policy

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewTracker creates a Tracker backed by the given pool.
func NewTracker(pool db.Pool, policy Policy) *Tracker {
	return &Tracker{
		pool:    pool,
		policy:  policy.withDefaults(),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

const selectHealthSQL = `SELECT scrape_status, consecutive_failures, last_failure_at, last_success_at, cooldown_until
	FROM suppliers WHERE id = $1`

const updateHealthSQL = `UPDATE suppliers
	SET scrape_status = $2, consecutive_failures = $3, last_failure_at = $4, last_success_at = $5, cooldown_until = $6
	WHERE id = $1`

// RecordOutcome applies a fetch outcome under a row lock so overlapping
// attempts for the same supplier cannot lose updates. It must be called after
// the fetch has returned, never while it is in flight.
func (t *Tracker) RecordOutcome(ctx context.Context, supplierID uuid.UUID, success bool) (*Transition, error) {
	now := t.nowFunc()
	var tr *Transition

	err := db.InTx(ctx, t.pool, func(tx pgx.Tx) error {
		from, err := scanHealth(tx.QueryRow(ctx, selectHealthSQL+" FOR UPDATE", supplierID))
		if err != nil {
			return eris.Wrapf(err, "health: lock supplier %s", supplierID)
		}

		to := t.policy.Apply(from, success, now)
		tr = &Transition{SupplierID: supplierID, From: from, To: to}
		if from.Status == model.ScrapeDisabled {
			return nil
		}
		return writeHealth(ctx, tx, supplierID, to)
	})
	if err != nil {
		return nil, err
	}

	logTransition(tr, outcomeName(success))
	return tr, nil
}

// IsEligible reports whether the supplier may be scraped now, promoting an
// elapsed cooldown back to active.
func (t *Tracker) IsEligible(ctx context.Context, supplierID uuid.UUID) (bool, error) {
	now := t.nowFunc()
	state, err := t.Get(ctx, supplierID)
	if err != nil {
		return false, err
	}

	ok, next := Eligible(*state, now)
	if !ok || next.Status == state.Status {
		return ok, nil
	}

	tag, err := t.pool.Exec(ctx,
		`UPDATE suppliers SET scrape_status = 'active', cooldown_until = NULL
		 WHERE id = $1 AND scrape_status = 'cooldown' AND (cooldown_until IS NULL OR cooldown_until <= $2)`,
		supplierID, now,
	)
	if err != nil {
		return false, eris.Wrapf(err, "health: promote supplier %s", supplierID)
	}
	if tag.RowsAffected() == 0 {
		// Someone else moved the row; decide on the fresh state without promoting.
		fresh, err := t.Get(ctx, supplierID)
		if err != nil {
			return false, err
		}
		ok, _ = Eligible(*fresh, now)
		return ok && fresh.Status == model.ScrapeActive, nil
	}

	logTransition(&Transition{SupplierID: supplierID, From: *state, To: next}, "cooldown_elapsed")
	return true, nil
}

// Get returns the current scrape health of a supplier.
func (t *Tracker) Get(ctx context.Context, supplierID uuid.UUID) (*model.ScrapeHealth, error) {
	h, err := scanHealth(t.pool.QueryRow(ctx, selectHealthSQL, supplierID))
	if err != nil {
		return nil, eris.Wrapf(err, "health: get supplier %s", supplierID)
	}
	return &h, nil
}

// Enable is the operator override that returns a supplier to active with a
// clean failure count.
func (t *Tracker) Enable(ctx context.Context, supplierID uuid.UUID) (*Transition, error) {
	return t.override(ctx, supplierID, func(h model.ScrapeHealth) model.ScrapeHealth {
		h.Status = model.ScrapeActive
		h.ConsecutiveFailures = 0
		h.CooldownUntil = nil
		return h
	}, "admin_enable")
}

// Disable is the operator override that stops all scraping for a supplier.
func (t *Tracker) Disable(ctx context.Context, supplierID uuid.UUID) (*Transition, error) {
	return t.override(ctx, supplierID, func(h model.ScrapeHealth) model.ScrapeHealth {
		h.Status = model.ScrapeDisabled
		h.CooldownUntil = nil
		return h
	}, "admin_disable")
}

func (t *Tracker) override(ctx context.Context, supplierID uuid.UUID, fn func(model.ScrapeHealth) model.ScrapeHealth, reason string) (*Transition, error) {
	var tr *Transition
	err := db.InTx(ctx, t.pool, func(tx pgx.Tx) error {
		from, err := scanHealth(tx.QueryRow(ctx, selectHealthSQL+" FOR UPDATE", supplierID))
		if err != nil {
			return eris.Wrapf(err, "health: lock supplier %s", supplierID)
		}
		tr = &Transition{SupplierID: supplierID, From: from, To: fn(from)}
		return writeHealth(ctx, tx, supplierID, tr.To)
	})
	if err != nil {
		return nil, err
	}
	logTransition(tr, reason)
	return tr, nil
}

// EligibleSuppliers lists every supplier that may be scraped now. Elapsed
// cooldowns are promoted to active in the same statement batch.
func (t *Tracker) EligibleSuppliers(ctx context.Context) ([]model.SupplierHealth, error) {
	now := t.nowFunc()
	log := zap.L().With(zap.String("component", "health.tracker"))

	rows, err := t.pool.Query(ctx,
		`UPDATE suppliers SET scrape_status = 'active', cooldown_until = NULL
		 WHERE scrape_status = 'cooldown' AND (cooldown_until IS NULL OR cooldown_until <= $1)
		 RETURNING id`,
		now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "health: promote elapsed cooldowns")
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "health: scan promoted supplier")
		}
		log.Info("scrape health transition",
			zap.String("supplier_id", id.String()),
			zap.String("from", string(model.ScrapeCooldown)),
			zap.String("to", string(model.ScrapeActive)),
			zap.String("reason", "cooldown_elapsed"),
		)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "health: iterate promoted suppliers")
	}

	rows, err = t.pool.Query(ctx,
		`SELECT id, name, scrape_status, consecutive_failures, last_failure_at, last_success_at, cooldown_until
		 FROM suppliers WHERE scrape_status = 'active' ORDER BY name, id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "health: list eligible suppliers")
	}
	defer rows.Close()

	var out []model.SupplierHealth
	for rows.Next() {
		var s model.SupplierHealth
		var status string
		if err := rows.Scan(&s.SupplierID, &s.Name, &status, &s.ConsecutiveFailures,
			&s.LastFailureAt, &s.LastSuccessAt, &s.CooldownUntil); err != nil {
			return nil, eris.Wrap(err, "health: scan eligible supplier")
		}
		s.Status = model.ScrapeStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanHealth(row pgx.Row) (model.ScrapeHealth, error) {
	var h model.ScrapeHealth
	var status string
	if err := row.Scan(&status, &h.ConsecutiveFailures, &h.LastFailureAt, &h.LastSuccessAt, &h.CooldownUntil); err != nil {
		if db.IsNoRows(err) {
			return h, ErrSupplierNotFound
		}
		return h, err
	}
	h.Status = model.ScrapeStatus(status)
	if !h.Status.Valid() {
		return h, eris.Errorf("health: unknown scrape status %q", status)
	}
	return h, nil
}

func writeHealth(ctx context.Context, q db.Querier, id uuid.UUID, h model.ScrapeHealth) error {
	if _, err := q.Exec(ctx, updateHealthSQL,
		id, string(h.Status), h.ConsecutiveFailures, h.LastFailureAt, h.LastSuccessAt, h.CooldownUntil,
	); err != nil {
		return eris.Wrapf(err, "health: update supplier %s", id)
	}
	return nil
}

func outcomeName(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func logTransition(tr *Transition, reason string) {
	log := zap.L().With(
		zap.String("component", "health.tracker"),
		zap.String("supplier_id", tr.SupplierID.String()),
		zap.String("reason", reason),
	)
	if tr.From.Status == model.ScrapeDisabled && tr.To.Status == model.ScrapeDisabled {
		log.Debug("outcome ignored for disabled supplier")
		return
	}
	if !Changed(tr.From, tr.To) {
		log.Debug("scrape health unchanged", zap.String("status", string(tr.To.Status)))
		return
	}

	fields := []zap.Field{
		zap.String("from", string(tr.From.Status)),
		zap.String("to", string(tr.To.Status)),
		zap.Int("consecutive_failures", tr.To.ConsecutiveFailures),
	}
	if tr.To.CooldownUntil != nil {
		fields = append(fields, zap.Time("cooldown_until", *tr.To.CooldownUntil))
	}
	if tr.To.Status == model.ScrapeDisabled {
		log.Warn("scrape health transition", fields...)
		return
	}
	log.Info("scrape health transition", fields...)
}
