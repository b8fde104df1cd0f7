package services

import (
	"fmt"
	"sync"
	"time"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/pkg/logger"
)

// modifier influence on the final score
const modifierDamping = 0.5

// RiskEngine folds detector verdicts and contextual modifiers into a
// single assessment. Assess is pure: same inputs, same output.
type RiskEngine struct {
	cfg    config.RiskConfig
	logger *logger.Logger
}

func NewRiskEngine(cfg config.RiskConfig, log *logger.Logger) *RiskEngine {
	return &RiskEngine{
		cfg:    cfg,
		logger: log.WithComponent("risk-engine"),
	}
}

// signal is one detector's contribution to the weighted sum
type signal struct {
	weight     float64
	score      float64
	confidence float64
	factors    []models.RiskFactor
}

// Assess computes the aggregate verdict. Any of phone, deepfake and
// content may be nil; absent signals drop out of both the numerator
// and the normalization so the remaining signals keep their relative
// weights.
func (e *RiskEngine) Assess(
	phone *models.ReputationRecord,
	deepfake *models.DeepfakeResult,
	content *models.ContentResult,
	modifiers []models.ContextModifier,
) models.RiskAssessment {
	var signals []signal

	if phone != nil {
		signals = append(signals, phoneSignal(phone, e.cfg.Weights.Phone))
	}
	if deepfake != nil && deepfake.Confidence > 0 {
		signals = append(signals, deepfakeSignal(deepfake, e.cfg.Weights.Deepfake))
	}
	if content != nil {
		signals = append(signals, contentSignal(content, e.cfg.Weights.Content))
	}

	var (
		scoreSum, confSum, weightSum float64
		factors                      []models.RiskFactor
	)
	for _, s := range signals {
		scoreSum += s.weight * s.score
		confSum += s.weight * s.confidence
		weightSum += s.weight
		factors = append(factors, s.factors...)
	}

	var score, confidence float64
	if weightSum > 0 {
		score = scoreSum / weightSum
		confidence = confSum / weightSum
	}

	for _, m := range modifiers {
		score += m.Score * modifierDamping
		factors = append(factors, models.RiskFactor{
			Kind:       m.Kind,
			Score:      m.Score,
			Confidence: confidence,
			Reasoning:  m.Reasoning,
		})
	}
	if score > 1 {
		score = 1
	}

	level := e.levelFor(score)

	// A number already on a denylist speaking with a synthetic voice
	// leaves no room for doubt
	if phone != nil && phone.IsKnownBad &&
		deepfake != nil && deepfake.IsSynthetic && hasTag(deepfake.Tags, TagConsensus) {
		level = models.RiskMaximum
	}

	degraded := content != nil && content.Degraded
	return models.RiskAssessment{
		Level:      level,
		Score:      score,
		Confidence: confidence,
		Factors:    factors,
		Degraded:   degraded,
		ComputedAt: time.Now().UTC(),
	}
}

// levelFor maps a score to a level; a score equal to a cutoff belongs
// to the bucket above it
func (e *RiskEngine) levelFor(score float64) models.RiskLevel {
	c := e.cfg.Cutoffs
	switch {
	case score < c.Low:
		return models.RiskSafe
	case score < c.Medium:
		return models.RiskLow
	case score < c.High:
		return models.RiskMedium
	case score < c.Critical:
		return models.RiskHigh
	case score < c.Maximum:
		return models.RiskCritical
	default:
		return models.RiskMaximum
	}
}

func phoneSignal(r *models.ReputationRecord, weight float64) signal {
	score := levelScore(r.RiskLevel)
	if r.IsKnownBad {
		score = r.Confidence
	}
	conf := r.Confidence
	if conf == 0 {
		// checked and came back clean
		conf = 0.5
	}
	return signal{weight: weight, score: score, confidence: conf, factors: r.Factors}
}

func deepfakeSignal(d *models.DeepfakeResult, weight float64) signal {
	var score float64
	if d.IsSynthetic {
		score = d.Confidence
	}
	factors := d.Factors
	if d.IsSynthetic {
		factors = append(factors, models.RiskFactor{
			Kind:       "synthetic_voice",
			Score:      score,
			Confidence: d.Confidence,
			Reasoning:  fmt.Sprintf("synthetic voice flagged via %s", d.Method),
		})
	}
	return signal{weight: weight, score: score, confidence: d.Confidence, factors: factors}
}

func contentSignal(c *models.ContentResult, weight float64) signal {
	return signal{
		weight:     weight,
		score:      levelScore(c.Level),
		confidence: c.Confidence,
		factors:    c.Factors,
	}
}

// levelScore maps a detector-reported level back onto the score scale
func levelScore(l models.RiskLevel) float64 {
	switch l {
	case models.RiskLow:
		return 0.35
	case models.RiskMedium:
		return 0.55
	case models.RiskHigh:
		return 0.75
	case models.RiskCritical:
		return 0.9
	case models.RiskMaximum:
		return 1.0
	default:
		return 0
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

// FrequencyTracker counts calls per number inside a sliding window.
// Shared across sessions, safe for concurrent use.
type FrequencyTracker struct {
	mu     sync.Mutex
	window time.Duration
	calls  map[string][]time.Time
}

func NewFrequencyTracker(window time.Duration) *FrequencyTracker {
	return &FrequencyTracker{
		window: window,
		calls:  map[string][]time.Time{},
	}
}

// Record registers a call from number at time t and returns the count
// inside the window, the new call included
func (f *FrequencyTracker) Record(number string, t time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.prune(number, t)
	kept = append(kept, t)
	f.calls[number] = kept
	return len(kept)
}

// Count returns calls from number inside the window ending at t
func (f *FrequencyTracker) Count(number string, t time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.prune(number, t)
	if len(kept) == 0 {
		delete(f.calls, number)
		return 0
	}
	f.calls[number] = kept
	return len(kept)
}

func (f *FrequencyTracker) prune(number string, now time.Time) []time.Time {
	cutoff := now.Add(-f.window)
	var kept []time.Time
	for _, at := range f.calls[number] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	return kept
}

// ContextEvaluator derives contextual modifiers for a call
type ContextEvaluator struct {
	cfg     config.RiskConfig
	tracker *FrequencyTracker
	now     func() time.Time
}

func NewContextEvaluator(cfg config.RiskConfig, tracker *FrequencyTracker) *ContextEvaluator {
	return &ContextEvaluator{cfg: cfg, tracker: tracker, now: time.Now}
}

// Evaluate returns modifiers for a call from number that has been
// running for elapsed. Pass elapsed zero for a call still ringing.
func (c *ContextEvaluator) Evaluate(number string, elapsed time.Duration) []models.ContextModifier {
	var mods []models.ContextModifier

	now := c.now()
	if h := now.Hour(); h >= 22 || h < 6 {
		mods = append(mods, models.ContextModifier{
			Kind:      "off_hours_call",
			Score:     0.1,
			Reasoning: fmt.Sprintf("call placed at %02d:00, outside normal hours", h),
		})
	}

	if number != "" && c.tracker != nil {
		if n := c.tracker.Count(number, now); n >= c.cfg.FrequencyThreshold {
			mods = append(mods, models.ContextModifier{
				Kind:      "repeat_caller",
				Score:     0.15,
				Reasoning: fmt.Sprintf("%d calls from this number within %s", n, c.cfg.FrequencyWindow),
			})
		}
	}

	// Scam calls press to keep the victim on the line
	if elapsed > 20*time.Minute {
		mods = append(mods, models.ContextModifier{
			Kind:      "unusual_duration",
			Score:     0.1,
			Reasoning: fmt.Sprintf("call has run %s", elapsed.Round(time.Minute)),
		})
	}

	return mods
}
