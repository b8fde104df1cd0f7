package services

import (
	"context"
	"errors"
	"math"
	"testing"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/internal/infrastructure/neural"
	"callguard/pkg/logger"
)

type fakeScorer struct {
	result *neural.ScoreResult
	err    error
}

func (f *fakeScorer) Score(ctx context.Context, audio []byte, textContext string) (*neural.ScoreResult, error) {
	return f.result, f.err
}

func testEnsembleConfig() config.DeepfakeConfig {
	return config.DeepfakeConfig{
		ConfidenceThreshold: 0.5,
		NeuralWeight:        0.6,
		PatternWeight:       0.4,
	}
}

func newTestEnsemble(scorer neural.Scorer) *DeepfakeEnsemble {
	return NewDeepfakeEnsemble(scorer, nil, testEnsembleConfig(), logger.Nop())
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestEnsembleCombine(t *testing.T) {
	e := newTestEnsemble(nil)

	tests := []struct {
		name      string
		neural    sideVerdict
		pattern   sideVerdict
		wantSyn   bool
		wantConf  float64
		wantTag   string
		wantMethod string
	}{
		{
			name:      "consensus synthetic",
			neural:    sideVerdict{available: true, isSynthetic: true, confidence: 0.9},
			pattern:   sideVerdict{available: true, isSynthetic: true, confidence: 0.6},
			wantSyn:   true,
			wantConf:  0.78,
			wantTag:   TagConsensus,
			wantMethod: "ensemble",
		},
		{
			name:      "consensus bona fide",
			neural:    sideVerdict{available: true, isSynthetic: false, confidence: 0.8},
			pattern:   sideVerdict{available: true, isSynthetic: false, confidence: 0.5},
			wantSyn:   false,
			wantConf:  0.68,
			wantTag:   TagConsensus,
			wantMethod: "ensemble",
		},
		{
			name:      "disagreement pattern dominant",
			neural:    sideVerdict{available: true, isSynthetic: false, confidence: 0.3},
			pattern:   sideVerdict{available: true, isSynthetic: true, confidence: 0.8},
			wantSyn:   true,
			wantConf:  0.56,
			wantTag:   TagPatternDominant,
			wantMethod: "ensemble",
		},
		{
			name:      "disagreement neural dominant",
			neural:    sideVerdict{available: true, isSynthetic: true, confidence: 0.9},
			pattern:   sideVerdict{available: true, isSynthetic: false, confidence: 0.4},
			wantSyn:   true,
			wantConf:  0.63,
			wantTag:   TagNeuralDominant,
			wantMethod: "ensemble",
		},
		{
			name:      "neural only",
			neural:    sideVerdict{available: true, isSynthetic: true, confidence: 0.7},
			pattern:   sideVerdict{},
			wantSyn:   true,
			wantConf:  0.7,
			wantTag:   TagNeuralOnly,
			wantMethod: "neural",
		},
		{
			name:      "pattern only",
			neural:    sideVerdict{},
			pattern:   sideVerdict{available: true, isSynthetic: true, confidence: 0.65},
			wantSyn:   true,
			wantConf:  0.65,
			wantTag:   TagPatternOnly,
			wantMethod: "pattern",
		},
		{
			name:      "neither",
			neural:    sideVerdict{},
			pattern:   sideVerdict{},
			wantSyn:   false,
			wantConf:  0,
			wantTag:   TagFailed,
			wantMethod: "none",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.combine(tt.neural, tt.pattern)
			if got.IsSynthetic != tt.wantSyn {
				t.Errorf("isSynthetic = %v, want %v", got.IsSynthetic, tt.wantSyn)
			}
			if !almostEqual(got.Confidence, tt.wantConf) {
				t.Errorf("confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if !hasTag(got.Tags, tt.wantTag) {
				t.Errorf("tags = %v, want %v present", got.Tags, tt.wantTag)
			}
			if got.Method != tt.wantMethod {
				t.Errorf("method = %v, want %v", got.Method, tt.wantMethod)
			}
		})
	}

	t.Run("disagreement always tags detection_disagreement", func(t *testing.T) {
		got := e.combine(
			sideVerdict{available: true, isSynthetic: true, confidence: 0.9},
			sideVerdict{available: true, isSynthetic: false, confidence: 0.4},
		)
		if !hasTag(got.Tags, TagDisagreement) {
			t.Errorf("tags = %v, want %v present", got.Tags, TagDisagreement)
		}
	})
}

func TestEnsembleDetectThresholdAppliedLast(t *testing.T) {
	scorer := &fakeScorer{result: &neural.ScoreResult{IsSynthetic: true, Confidence: 0.3, Method: "aasist"}}
	e := newTestEnsemble(scorer)

	got := e.Detect(context.Background(), models.AudioChunk{Seq: 1, Audio: []byte{1, 2, 3}})
	if got.IsSynthetic {
		t.Error("verdict below the confidence threshold must not flag synthetic")
	}
	if !hasTag(got.Tags, TagBelowThreshold) {
		t.Errorf("tags = %v, want %v present", got.Tags, TagBelowThreshold)
	}
	if !hasTag(got.Tags, TagNeuralOnly) {
		t.Errorf("tags = %v, want %v present", got.Tags, TagNeuralOnly)
	}
}

func TestEnsembleDetectScorerFailure(t *testing.T) {
	scorer := &fakeScorer{err: errors.New("sidecar down")}
	e := newTestEnsemble(scorer)

	got := e.Detect(context.Background(), models.AudioChunk{Seq: 1, Audio: []byte{1}})
	if got.IsSynthetic || got.Confidence != 0 {
		t.Errorf("failed detection should be conf-0 bona fide, got %+v", got)
	}
	if !hasTag(got.Tags, TagFailed) {
		t.Errorf("tags = %v, want %v present", got.Tags, TagFailed)
	}
}

func TestEnsembleAggregate(t *testing.T) {
	e := newTestEnsemble(nil)

	t.Run("weighted majority synthetic", func(t *testing.T) {
		got := e.Aggregate([]models.DeepfakeResult{
			{IsSynthetic: true, Confidence: 0.9},
			{IsSynthetic: false, Confidence: 0.8},
			{IsSynthetic: true, Confidence: 0.4},
		})
		want := (0.9 + 0.4) / (0.9 + 0.8 + 0.4)
		if !almostEqual(got.Confidence, want) {
			t.Errorf("aggregate = %v, want %v", got.Confidence, want)
		}
		if !got.IsSynthetic {
			t.Error("aggregate above threshold must flag synthetic")
		}
	})

	t.Run("zero-confidence chunks excluded", func(t *testing.T) {
		got := e.Aggregate([]models.DeepfakeResult{
			{IsSynthetic: true, Confidence: 0.6},
			{IsSynthetic: false, Confidence: 0},
		})
		if !almostEqual(got.Confidence, 1.0) {
			t.Errorf("aggregate = %v, want 1.0", got.Confidence)
		}
	})

	t.Run("no scored chunks", func(t *testing.T) {
		got := e.Aggregate(nil)
		if got.IsSynthetic || got.Confidence != 0 || !hasTag(got.Tags, TagFailed) {
			t.Errorf("empty aggregate = %+v, want failed conf-0", got)
		}
	})
}
