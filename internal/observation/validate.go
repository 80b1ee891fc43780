// Package observation manages the validity and expiry lifecycle of supplier
// price observations.
package observation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/oilwatch/priceintel/internal/config"
	"github.com/oilwatch/priceintel/internal/model"
	"github.com/oilwatch/priceintel/internal/stats"
)

// maxClockSkew bounds how far in the future an observation may be stamped.
const maxClockSkew = 5 * time.Minute

// ValidationError reports a malformed or out-of-range observation. Rejected
// observations are never clamped or stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("observation: invalid %s: %s", e.Field, e.Reason)
}

// Rules holds the validation bounds and expiry policy.
type Rules struct {
	MinPrice decimal.Decimal
	MaxPrice decimal.Decimal
	// TTL returns the default lifetime of an observation from a source.
	TTL func(model.SourceType) time.Duration
	// TrustWindow is how long after observed_at an expired row may still be
	// extended by ReconcileExpired.
	TrustWindow time.Duration
	// Extension is how far past now ReconcileExpired pushes expires_at.
	Extension time.Duration
}

// DefaultRules returns the production bounds: [2.000, 5.000], 24h TTL for
// scraped and crowd sources, 48h for manual and supplier-verified prices.
func DefaultRules() Rules {
	return Rules{
		MinPrice: decimal.RequireFromString("2.000"),
		MaxPrice: decimal.RequireFromString("5.000"),
		TTL: func(s model.SourceType) time.Duration {
			switch s {
			case model.SourceManual, model.SourceSupplierVerified:
				return 48 * time.Hour
			default:
				return 24 * time.Hour
			}
		},
		TrustWindow: 72 * time.Hour,
		Extension:   24 * time.Hour,
	}
}

// RulesFromConfig builds Rules from the observation config section.
func RulesFromConfig(cfg config.ObservationConfig) (Rules, error) {
	lo, hi, err := cfg.PriceBounds()
	if err != nil {
		return Rules{}, err
	}
	return Rules{
		MinPrice:    lo,
		MaxPrice:    hi,
		TTL:         cfg.TTL,
		TrustWindow: time.Duration(cfg.TrustWindowHours) * time.Hour,
		Extension:   time.Duration(cfg.ExtensionHours) * time.Hour,
	}, nil
}

// Validate checks an observation against the closed field set and bounds.
func (r Rules) Validate(o *model.PriceObservation, now time.Time) error {
	switch {
	case o == nil:
		return &ValidationError{Field: "observation", Reason: "missing"}
	case o.SupplierID == uuid.Nil:
		return &ValidationError{Field: "supplier_id", Reason: "required"}
	case !o.SourceType.Valid():
		return &ValidationError{Field: "source_type", Reason: fmt.Sprintf("unknown source %q", o.SourceType)}
	case !o.FuelType.Valid():
		return &ValidationError{Field: "fuel_type", Reason: fmt.Sprintf("unknown fuel %q", o.FuelType)}
	case !o.PricePerUnit.Equal(o.PricePerUnit.Round(stats.PriceScale)):
		return &ValidationError{Field: "price_per_unit", Reason: fmt.Sprintf("%s has more than %d decimals", o.PricePerUnit, stats.PriceScale)}
	case o.PricePerUnit.LessThan(r.MinPrice) || o.PricePerUnit.GreaterThan(r.MaxPrice):
		return &ValidationError{Field: "price_per_unit", Reason: fmt.Sprintf("%s outside [%s, %s]",
			o.PricePerUnit.StringFixed(stats.PriceScale), r.MinPrice.StringFixed(stats.PriceScale), r.MaxPrice.StringFixed(stats.PriceScale))}
	case o.MinQuantity < 0:
		return &ValidationError{Field: "min_quantity", Reason: "must be >= 0"}
	case o.ObservedAt.IsZero():
		return &ValidationError{Field: "observed_at", Reason: "required"}
	case o.ObservedAt.After(now.Add(maxClockSkew)):
		return &ValidationError{Field: "observed_at", Reason: "in the future"}
	case !o.ExpiresAt.IsZero() && !o.ExpiresAt.After(o.ObservedAt):
		return &ValidationError{Field: "expires_at", Reason: "must be after observed_at"}
	}
	return nil
}

// Prepare fills defaults on a validated observation: a new id, the source's
// default expiry when none was supplied, and is_valid. A stamp inside the
// allowed clock skew is pulled back to now, so the row is visible to a batch
// evaluated at now.
func (r Rules) Prepare(o *model.PriceObservation, now time.Time) {
	if o.ID == uuid.Nil {
		o.ID = uuid.Must(uuid.NewV7())
	}
	if o.ObservedAt.After(now) {
		o.ObservedAt = now
	}
	if o.ExpiresAt.IsZero() {
		ttl := 24 * time.Hour
		if r.TTL != nil {
			ttl = r.TTL(o.SourceType)
		}
		o.ExpiresAt = o.ObservedAt.Add(ttl)
	}
	o.ObservedAt = o.ObservedAt.UTC()
	o.ExpiresAt = o.ExpiresAt.UTC()
	o.IsValid = true
	o.SupersededAt = nil
}
