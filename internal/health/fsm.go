// Package health tracks the reliability of each supplier's automated price
// source and decides when a supplier may be scraped again.
package health

import (
	"math"
	"time"

	"github.com/oilwatch/priceintel/internal/config"
	"github.com/oilwatch/priceintel/internal/model"
)

// Policy controls when a supplier enters cooldown or is disabled and how long
// cooldowns last.
type Policy struct {
	// CooldownThreshold is the consecutive failure count that starts a
	// cooldown. Default: 3.
	CooldownThreshold int

	// DisableThreshold is the consecutive failure count at which the supplier
	// is disabled until an operator re-enables it. Default: 10.
	DisableThreshold int

	// BaseBackoff is the first cooldown interval. Default: 1h.
	BaseBackoff time.Duration

	// MaxBackoff caps the cooldown interval. Default: 24h.
	MaxBackoff time.Duration

	// Multiplier scales the cooldown for each failure past the threshold.
	// Default: 2.0.
	Multiplier float64
}

// DefaultPolicy returns the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		CooldownThreshold: 3,
		DisableThreshold:  10,
		BaseBackoff:       time.Hour,
		MaxBackoff:        24 * time.Hour,
		Multiplier:        2.0,
	}
}

// PolicyFromConfig builds a Policy from the health config section.
func PolicyFromConfig(cfg config.HealthConfig) Policy {
	return Policy{
		CooldownThreshold: cfg.CooldownThreshold,
		DisableThreshold:  cfg.DisableThreshold,
		BaseBackoff:       cfg.CooldownBase(),
		MaxBackoff:        cfg.CooldownMax(),
		Multiplier:        cfg.Multiplier,
	}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.CooldownThreshold <= 0 {
		p.CooldownThreshold = d.CooldownThreshold
	}
	if p.DisableThreshold <= p.CooldownThreshold {
		p.DisableThreshold = max(d.DisableThreshold, p.CooldownThreshold+1)
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = d.BaseBackoff
	}
	if p.MaxBackoff < p.BaseBackoff {
		p.MaxBackoff = max(d.MaxBackoff, p.BaseBackoff)
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// Backoff returns the cooldown length after the given number of consecutive
// failures: BaseBackoff at the threshold, growing by Multiplier per extra
// failure, capped at MaxBackoff.
func (p Policy) Backoff(failures int) time.Duration {
	p = p.withDefaults()
	extra := failures - p.CooldownThreshold
	if extra < 0 {
		extra = 0
	}
	delay := float64(p.BaseBackoff) * math.Pow(p.Multiplier, float64(extra))
	if delay > float64(p.MaxBackoff) || math.IsInf(delay, 1) {
		return p.MaxBackoff
	}
	return time.Duration(delay)
}

// Apply is the pure transition function for a scrape outcome. Disabled
// suppliers are returned unchanged whatever the outcome.
func (p Policy) Apply(state model.ScrapeHealth, success bool, now time.Time) model.ScrapeHealth {
	p = p.withDefaults()
	if state.Status == model.ScrapeDisabled {
		return state
	}

	next := state
	if success {
		next.Status = model.ScrapeActive
		next.ConsecutiveFailures = 0
		next.CooldownUntil = nil
		next.LastSuccessAt = timePtr(now)
		return next
	}

	next.ConsecutiveFailures = state.ConsecutiveFailures + 1
	next.LastFailureAt = timePtr(now)

	switch {
	case next.ConsecutiveFailures >= p.DisableThreshold:
		next.Status = model.ScrapeDisabled
		next.CooldownUntil = nil
	case next.ConsecutiveFailures >= p.CooldownThreshold:
		next.Status = model.ScrapeCooldown
		next.CooldownUntil = timePtr(now.Add(p.Backoff(next.ConsecutiveFailures)))
	default:
		next.Status = model.ScrapeActive
		next.CooldownUntil = nil
	}
	return next
}

// Eligible reports whether a supplier may be scraped at now. An elapsed
// cooldown is promoted back to active; the failure count is kept so the next
// outcome decides whether the supplier recovers or backs off further.
func Eligible(state model.ScrapeHealth, now time.Time) (bool, model.ScrapeHealth) {
	switch state.Status {
	case model.ScrapeActive:
		return true, state
	case model.ScrapeCooldown:
		if state.CooldownUntil != nil && now.Before(*state.CooldownUntil) {
			return false, state
		}
		next := state
		next.Status = model.ScrapeActive
		next.CooldownUntil = nil
		return true, next
	default:
		return false, state
	}
}

// Changed reports whether a transition altered anything operators care about.
func Changed(from, to model.ScrapeHealth) bool {
	return from.Status != to.Status ||
		from.ConsecutiveFailures != to.ConsecutiveFailures ||
		!timeEqual(from.CooldownUntil, to.CooldownUntil)
}

func timePtr(t time.Time) *time.Time { return &t }

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
