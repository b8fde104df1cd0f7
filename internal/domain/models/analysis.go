package models

import "time"

// ReputationRecord is the outcome of a phone reputation check
type ReputationRecord struct {
	Number           string       `json:"number"`
	NormalizedNumber string       `json:"normalized_number"`
	IsKnownBad       bool         `json:"is_known_bad"`
	Confidence       float64      `json:"confidence"`
	RiskLevel        RiskLevel    `json:"risk_level"`
	Sources          []string     `json:"sources,omitempty"`
	Factors          []RiskFactor `json:"factors,omitempty"`
	CheckedAt        time.Time    `json:"checked_at"`
}

// DeepfakeResult is one synthetic-voice verdict, per chunk or per call
type DeepfakeResult struct {
	IsSynthetic bool         `json:"is_synthetic"`
	Confidence  float64      `json:"confidence"`
	Method      string       `json:"method"`
	Tags        []string     `json:"tags,omitempty"`
	Factors     []RiskFactor `json:"factors,omitempty"`
}

// ContentResult is the spoken-content verdict for a transcript chunk
type ContentResult struct {
	Level           RiskLevel    `json:"level"`
	Confidence      float64      `json:"confidence"`
	TacticsDetected []string     `json:"tactics_detected,omitempty"`
	PrimaryScamType string       `json:"primary_scam_type,omitempty"`
	Reasoning       string       `json:"reasoning,omitempty"`
	Degraded        bool         `json:"degraded,omitempty"`
	Factors         []RiskFactor `json:"factors,omitempty"`
}

// PatternResult is the corpus-match verdict for a transcript/speaker context
type PatternResult struct {
	RiskLevel        RiskLevel    `json:"risk_level"`
	Confidence       float64      `json:"confidence"`
	DetectedPatterns []string     `json:"detected_patterns,omitempty"`
	Factors          []RiskFactor `json:"risk_factors,omitempty"`
}

// AnalysisResult is one round of detector output attached to a session.
// Exactly the detectors that ran are set; immutable once appended.
type AnalysisResult struct {
	Timestamp time.Time         `json:"timestamp"`
	Phone     *ReputationRecord `json:"phone,omitempty"`
	Deepfake  *DeepfakeResult   `json:"deepfake,omitempty"`
	Content   *ContentResult    `json:"content,omitempty"`
}
