package models

import "time"

// RiskLevel represents the assessed risk of a call
type RiskLevel string

const (
	RiskSafe     RiskLevel = "SAFE"
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
	RiskMaximum  RiskLevel = "MAXIMUM"
)

var riskOrder = map[RiskLevel]int{
	RiskSafe:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
	RiskMaximum:  5,
}

// AtLeast reports whether l is at or above other in severity
func (l RiskLevel) AtLeast(other RiskLevel) bool {
	return riskOrder[l] >= riskOrder[other]
}

// Max returns the more severe of the two levels
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if riskOrder[other] > riskOrder[l] {
		return other
	}
	return l
}

// Valid reports whether the level is a known value
func (l RiskLevel) Valid() bool {
	_, ok := riskOrder[l]
	return ok
}

// RiskFactor is one detector's contribution to an assessment.
// Never mutated after creation.
type RiskFactor struct {
	Kind       string  `json:"kind"`
	Score      float64 `json:"score"`      // 0..1
	Confidence float64 `json:"confidence"` // 0..1
	Reasoning  string  `json:"reasoning,omitempty"`
	Evidence   string  `json:"evidence,omitempty"`
}

// ContextModifier is an independent, additive risk adjustment
// (time of day, call frequency, duration anomaly)
type ContextModifier struct {
	Kind      string  `json:"kind"`
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning,omitempty"`
}

// RiskAssessment is the aggregate verdict for a call at a point in time
type RiskAssessment struct {
	Level      RiskLevel    `json:"level"`
	Score      float64      `json:"score"`
	Confidence float64      `json:"confidence"`
	Factors    []RiskFactor `json:"factors,omitempty"`
	// Degraded is set when one or more detectors fell back
	Degraded   bool      `json:"degraded,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}
