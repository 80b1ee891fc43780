package model

import (
	"time"

	"github.com/google/uuid"
)

// ScrapeStatus is the state of a supplier's automated price source.
type ScrapeStatus string

const (
	ScrapeActive   ScrapeStatus = "active"
	ScrapeCooldown ScrapeStatus = "cooldown"
	ScrapeDisabled ScrapeStatus = "disabled"
)

// Valid reports whether s is a known scrape status.
func (s ScrapeStatus) Valid() bool {
	switch s {
	case ScrapeActive, ScrapeCooldown, ScrapeDisabled:
		return true
	}
	return false
}

// ScrapeHealth holds the scrape-health columns embedded on a supplier row.
type ScrapeHealth struct {
	Status              ScrapeStatus `json:"scrape_status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailureAt       *time.Time   `json:"last_failure_at,omitempty"`
	LastSuccessAt       *time.Time   `json:"last_success_at,omitempty"`
	CooldownUntil       *time.Time   `json:"cooldown_until,omitempty"`
}

// SupplierHealth pairs a supplier with its scrape health.
type SupplierHealth struct {
	SupplierID uuid.UUID `json:"supplier_id"`
	Name       string    `json:"name"`
	ScrapeHealth
}
