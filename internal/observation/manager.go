package observation

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

// IngestResult describes what an ingest did to the ledger.
type IngestResult struct {
	Observation *model.PriceObservation `json:"observation"`
	// Superseded lists the previously valid rows that were flipped invalid.
	Superseded []uuid.UUID `json:"superseded,omitempty"`
	// Stale is set when a newer valid observation already existed; the
	// incoming row is stored already superseded.
	Stale bool `json:"stale,omitempty"`
}

// Manager writes observations and maintains their validity.
type Manager struct {
	pool  db.Pool
	rules Rules

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewManager creates a Manager backed by the given pool.
func NewManager(pool db.Pool, rules Rules) *Manager {
	return &Manager{
		pool:    pool,
		rules:   rules,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Rules returns the manager's validation rules.
func (m *Manager) Rules() Rules { return m.rules }

const insertObservationSQL = `INSERT INTO supplier_prices
	(id, supplier_id, price_per_gallon, min_gallons, fuel_type, source_type, source_url, notes,
	 observed_at, expires_at, is_valid, superseded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// Ingest validates and stores an observation. Any prior valid observation of
// the same class for the same (supplier, fuel) is superseded in the same
// transaction, so at most one valid consumer-facing row and one valid
// aggregator signal exist per supplier and fuel at any instant. A signal
// never supersedes a consumer-facing price, nor the reverse.
func (m *Manager) Ingest(ctx context.Context, o *model.PriceObservation) (*IngestResult, error) {
	now := m.nowFunc()
	if err := m.rules.Validate(o, now); err != nil {
		return nil, err
	}
	m.rules.Prepare(o, now)

	res := &IngestResult{Observation: o}
	err := db.InTx(ctx, m.pool, func(tx pgx.Tx) error {
		// Serialises ingests for one (supplier, fuel) even when no valid row
		// exists yet to lock.
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))",
			o.SupplierID.String()+"/"+string(o.FuelType)); err != nil {
			return eris.Wrap(err, "observation: lock supplier fuel")
		}

		rows, err := tx.Query(ctx,
			`SELECT id, observed_at FROM supplier_prices
			 WHERE supplier_id = $1 AND fuel_type = $2 AND is_valid
			   AND (source_type = 'aggregator_signal') = $3 FOR UPDATE`,
			o.SupplierID, string(o.FuelType), !o.SourceType.ConsumerFacing(),
		)
		if err != nil {
			return eris.Wrap(err, "observation: select current valid")
		}
		var current []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			var observedAt time.Time
			if err := rows.Scan(&id, &observedAt); err != nil {
				rows.Close()
				return eris.Wrap(err, "observation: scan current valid")
			}
			if observedAt.After(o.ObservedAt) {
				res.Stale = true
			}
			current = append(current, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return eris.Wrap(err, "observation: iterate current valid")
		}

		if res.Stale {
			o.IsValid = false
			o.SupersededAt = &now
		} else if len(current) > 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE supplier_prices SET is_valid = false, superseded_at = $2
				 WHERE id = ANY($1::uuid[]) AND is_valid`,
				uuidStrings(current), now,
			); err != nil {
				return eris.Wrap(err, "observation: supersede prior")
			}
			res.Superseded = current
		}

		if _, err := tx.Exec(ctx, insertObservationSQL,
			o.ID, o.SupplierID, o.PricePerUnit, o.MinQuantity, string(o.FuelType), string(o.SourceType),
			nullString(o.SourceURL), nullString(o.Notes), o.ObservedAt, o.ExpiresAt, o.IsValid, o.SupersededAt,
		); err != nil {
			return eris.Wrap(err, "observation: insert")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log := zap.L().With(
		zap.String("component", "observation.manager"),
		zap.String("supplier_id", o.SupplierID.String()),
		zap.String("fuel_type", string(o.FuelType)),
	)
	switch {
	case res.Stale:
		log.Info("observation older than current valid price, stored as superseded",
			zap.String("id", o.ID.String()))
	case len(res.Superseded) > 0:
		log.Info("observation superseded prior price",
			zap.String("id", o.ID.String()),
			zap.Int("superseded", len(res.Superseded)))
	default:
		log.Debug("observation ingested", zap.String("id", o.ID.String()))
	}
	return res, nil
}

// ReconcileExpired extends expires_at for valid rows whose expiry has passed
// but which were observed within the trust window: the symptom of a missed
// pipeline run rather than a supplier that stopped publishing. The new expiry
// is now+Extension, never later than observed_at+TrustWindow. Running it
// twice at the same instant changes nothing the second time.
func (m *Manager) ReconcileExpired(ctx context.Context) (int64, error) {
	now := m.nowFunc()
	windowStart := now.Add(-m.rules.TrustWindow)
	extendTo := now.Add(m.rules.Extension)

	tag, err := m.pool.Exec(ctx,
		`UPDATE supplier_prices
		 SET expires_at = LEAST($2::timestamptz, observed_at + make_interval(secs => $4))
		 WHERE is_valid
		   AND expires_at <= $1
		   AND observed_at > $3
		   AND source_type <> 'aggregator_signal'`,
		now, extendTo, windowStart, m.rules.TrustWindow.Seconds(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "observation: reconcile expired")
	}

	n := tag.RowsAffected()
	zap.L().Info("observation: reconcile expired complete",
		zap.Int64("extended", n),
		zap.Duration("trust_window", m.rules.TrustWindow),
		zap.Duration("extension", m.rules.Extension),
	)
	return n, nil
}

// Invalidate flips a single observation to invalid. The row stays in the
// ledger and drops out of the next aggregation run. superseded_at stays null:
// an invalidated price was bad data, so historical recomputation treats it as
// never valid.
func (m *Manager) Invalidate(ctx context.Context, id uuid.UUID) error {
	tag, err := m.pool.Exec(ctx,
		`UPDATE supplier_prices SET is_valid = false WHERE id = $1 AND is_valid`, id)
	if err != nil {
		return eris.Wrapf(err, "observation: invalidate %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("observation: %s not found or already invalid", id)
	}
	zap.L().Info("observation invalidated", zap.String("id", id.String()))
	return nil
}

// Purge hard-deletes invalid observations observed before the cutoff. This
// is the only delete path and exists for explicit data-quality cleanup.
func (m *Manager) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := m.nowFunc().Add(-olderThan)
	tag, err := m.pool.Exec(ctx,
		`DELETE FROM supplier_prices WHERE NOT is_valid AND observed_at < $1`, cutoff)
	if err != nil {
		return 0, eris.Wrap(err, "observation: purge")
	}
	zap.L().Info("observation: purge complete",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", tag.RowsAffected()),
	)
	return tag.RowsAffected(), nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
