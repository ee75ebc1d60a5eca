package alerts

import (
	"time"

	"github.com/cafetrace/cafetrace/internal/ledger"
)

// Kind enumerates alert categories.
type Kind string

const (
	KindLowStock   Kind = "LOW_STOCK"
	KindOutOfStock Kind = "OUT_OF_STOCK"
	KindExpiring   Kind = "EXPIRING"
	KindExpired    Kind = "EXPIRED"
)

// Severity orders alerts by urgency.
type Severity string

const (
	SeverityWarning  Severity = "WARNING"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is one evaluator finding. Evaluation is pure: the same stock state
// always produces the same alerts in the same order.
type Alert struct {
	Kind        Kind             `json:"kind"`
	Severity    Severity         `json:"severity"`
	Stage       ledger.StageKind `json:"stage"`
	LotID       string           `json:"lot_id,omitempty"`
	LotCode     string           `json:"lot_code,omitempty"`
	AvailableKg float64          `json:"available_kg"`
	ThresholdKg float64          `json:"threshold_kg,omitempty"`
	ExpiresAt   *time.Time       `json:"expires_at,omitempty"`
	Message     string           `json:"message"`
}

// Snapshot is one full evaluator run.
type Snapshot struct {
	EvaluatedAt time.Time `json:"evaluated_at"`
	Alerts      []Alert   `json:"alerts"`
}

// Thresholds configures the evaluator.
type Thresholds struct {
	MinGreenKg    float64
	MinRoastedKg  float64
	ExpiryHorizon time.Duration
	ExpirySoon    time.Duration
}

// DefaultThresholds mirror a small roastery: a week of expiry lookahead
// with the last three days treated as urgent.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinGreenKg:    50,
		MinRoastedKg:  10,
		ExpiryHorizon: 7 * 24 * time.Hour,
		ExpirySoon:    3 * 24 * time.Hour,
	}
}

// stockSeverity maps the stock deficit ratio to a severity. Half-empty
// against the threshold escalates to HIGH, a fully depleted stage to
// CRITICAL.
func stockSeverity(availableKg, thresholdKg float64) Severity {
	if thresholdKg <= 0 {
		return SeverityWarning
	}
	ratio := (thresholdKg - availableKg) / thresholdKg
	switch {
	case ratio >= 1:
		return SeverityCritical
	case ratio >= 0.5:
		return SeverityHigh
	default:
		return SeverityWarning
	}
}

// expirySeverity maps time to expiry to a severity.
func expirySeverity(now, expiresAt time.Time, soon time.Duration) Severity {
	switch {
	case !expiresAt.After(now):
		return SeverityCritical
	case expiresAt.Sub(now) <= soon:
		return SeverityHigh
	default:
		return SeverityWarning
	}
}
