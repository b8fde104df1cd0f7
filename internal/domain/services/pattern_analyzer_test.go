package services

import (
	"testing"

	"callguard/internal/domain/models"
	"callguard/pkg/logger"
)

func newTestPatternAnalyzer(t *testing.T) *PatternAnalyzer {
	t.Helper()
	cfg := writeTestCorpus(t)
	corpus := NewCorpus(cfg, logger.Nop())
	return NewPatternAnalyzer(corpus, cfg, logger.Nop())
}

func TestAnalyzeKeywordTrigger(t *testing.T) {
	a := newTestPatternAnalyzer(t)

	got := a.Analyze(PatternContent{Text: "you need to buy a gift card today"})

	if !almostEqual(got.Confidence, 0.8) {
		t.Errorf("confidence = %v, want 0.8", got.Confidence)
	}
	if got.RiskLevel != models.RiskHigh {
		t.Errorf("level = %v, want HIGH", got.RiskLevel)
	}
	if len(got.DetectedPatterns) != 1 || got.DetectedPatterns[0] != "scam_keyword:gift card" {
		t.Errorf("patterns = %v, want [scam_keyword:gift card]", got.DetectedPatterns)
	}
}

func TestAnalyzeMultipleTriggers(t *testing.T) {
	a := newTestPatternAnalyzer(t)

	// keyword 0.8 + phrase 0.6 aggregate to 0.7*0.8 + 0.3*0.7 = 0.77
	got := a.Analyze(PatternContent{Text: "buy a gift card and act now"})

	if !almostEqual(got.Confidence, 0.77) {
		t.Errorf("confidence = %v, want 0.77", got.Confidence)
	}
	if got.RiskLevel != models.RiskHigh {
		t.Errorf("level = %v, want HIGH", got.RiskLevel)
	}
	if len(got.Factors) != 2 {
		t.Errorf("factors = %d, want 2", len(got.Factors))
	}
}

func TestAnalyzeTargetedSpeaker(t *testing.T) {
	a := newTestPatternAnalyzer(t)

	got := a.Analyze(PatternContent{Speaker: "spk1"})

	if !almostEqual(got.Confidence, 0.6) {
		t.Errorf("confidence = %v, want 0.6", got.Confidence)
	}
	if got.RiskLevel != models.RiskMedium {
		t.Errorf("level = %v, want MEDIUM", got.RiskLevel)
	}

	// same speaker in the target slot must not double-count
	both := a.Analyze(PatternContent{Speaker: "spk1", TargetSpeaker: "spk1"})
	if len(both.DetectedPatterns) != 1 {
		t.Errorf("patterns = %v, want a single targeted_speaker trigger", both.DetectedPatterns)
	}
}

func TestAnalyzeVoiceConversionSource(t *testing.T) {
	a := newTestPatternAnalyzer(t)

	got := a.Analyze(PatternContent{SourceSpeaker: "vc9"})

	if !almostEqual(got.Confidence, 0.7) {
		t.Errorf("confidence = %v, want 0.7", got.Confidence)
	}
	if len(got.DetectedPatterns) != 1 || got.DetectedPatterns[0] != "vc_source:vc9" {
		t.Errorf("patterns = %v, want [vc_source:vc9]", got.DetectedPatterns)
	}
}

func TestAnalyzeReferenceTextSimilarity(t *testing.T) {
	a := newTestPatternAnalyzer(t)

	got := a.Analyze(PatternContent{Text: "the quick brown fox jumps over the lazy dog near the river tonight"})

	if !almostEqual(got.Confidence, 0.7) {
		t.Errorf("confidence = %v, want 0.7", got.Confidence)
	}
	if len(got.Factors) != 1 || got.Factors[0].Kind != "reference_text_similarity" {
		t.Errorf("factors = %v, want one reference_text_similarity factor", got.Factors)
	}
}

func TestAnalyzeNeutralContent(t *testing.T) {
	a := newTestPatternAnalyzer(t)

	got := a.Analyze(PatternContent{Text: "good morning, how are the kids doing", Speaker: "spk2"})

	if got.RiskLevel != models.RiskSafe || got.Confidence != 0 {
		t.Errorf("neutral content = %v/%v, want SAFE/0", got.RiskLevel, got.Confidence)
	}
	if len(got.DetectedPatterns) != 0 {
		t.Errorf("patterns = %v, want none", got.DetectedPatterns)
	}
}

func TestAggregateWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		want    float64
	}{
		{"empty", nil, 0},
		{"single", []float64{0.8}, 0.8},
		{"pair", []float64{0.8, 0.6}, 0.77},
		{"triple", []float64{0.8, 0.6, 0.7}, 0.77},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := aggregateWeights(tt.weights); !almostEqual(got, tt.want) {
				t.Errorf("aggregateWeights(%v) = %v, want %v", tt.weights, got, tt.want)
			}
		})
	}
}
