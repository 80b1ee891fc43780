package stats

import (
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// QualityWeights sets the relative weight of each quality dimension.
type QualityWeights struct {
	Volume      float64 `yaml:"volume" mapstructure:"volume"`
	History     float64 `yaml:"history" mapstructure:"history"`
	Density     float64 `yaml:"density" mapstructure:"density"`
	Consistency float64 `yaml:"consistency" mapstructure:"consistency"`
}

// DefaultQualityWeights favours supplier volume, then history.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{Volume: 0.45, History: 0.25, Density: 0.10, Consistency: 0.20}
}

// QualityInput carries the signals the score is computed from.
type QualityInput struct {
	SupplierCount  int
	WeeksAvailable int
	DataPoints     int
	Dispersion     float64
}

// ScoreBreakdown holds the individual dimension scores and the final weighted score.
type ScoreBreakdown struct {
	Volume      float64 `json:"volume"`
	History     float64 `json:"history"`
	Density     float64 `json:"density"`
	Consistency float64 `json:"consistency"`
	Final       float64 `json:"final"`
}

// Dispersion below this coefficient of variation carries no penalty; at or
// above dispersionCeiling consistency is zero.
const (
	dispersionFloor   = 0.05
	dispersionCeiling = 0.30
)

// Score combines the four dimensions into a 0..1 confidence value. Each
// dimension saturates, so the result is bounded and never decreases when
// suppliers, weeks or data points increase, and never increases when
// dispersion increases.
func Score(in QualityInput, weights QualityWeights) ScoreBreakdown {
	b := ScoreBreakdown{
		Volume:      saturate(float64(in.SupplierCount), 3),
		History:     saturate(float64(in.WeeksAvailable), 4),
		Density:     saturate(float64(in.DataPoints), 5),
		Consistency: consistency(in.Dispersion),
	}

	total := weights.Volume + weights.History + weights.Density + weights.Consistency
	if total <= 0 {
		zap.L().Warn("stats: all quality weights are zero, falling back to volume-only")
		b.Final = b.Volume
		return b
	}
	b.Final = (weights.Volume*b.Volume + weights.History*b.History +
		weights.Density*b.Density + weights.Consistency*b.Consistency) / total
	b.Final = clamp01(b.Final)
	return b
}

// QualityScore is Score rounded to three places for storage.
func QualityScore(in QualityInput, weights QualityWeights) decimal.Decimal {
	return decimal.NewFromFloat(Score(in, weights).Final).Round(3)
}

// saturate maps n >= 0 onto [0,1) with half-saturation at k.
func saturate(n, k float64) float64 {
	if n <= 0 {
		return 0
	}
	return n / (n + k)
}

func consistency(cv float64) float64 {
	switch {
	case math.IsNaN(cv):
		return 0
	case cv <= dispersionFloor:
		return 1
	case cv >= dispersionCeiling:
		return 0
	}
	return 1 - (cv-dispersionFloor)/(dispersionCeiling-dispersionFloor)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
