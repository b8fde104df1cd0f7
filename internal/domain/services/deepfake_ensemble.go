package services

import (
	"context"
	"fmt"
	"sync"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/internal/infrastructure/neural"
	"callguard/pkg/logger"
)

// ensemble tags attached to the combined verdict
const (
	TagConsensus       = "consensus_detection"
	TagDisagreement    = "detection_disagreement"
	TagNeuralDominant  = "neural_dominant"
	TagPatternDominant = "pattern_dominant"
	TagNeuralOnly      = "neural_only"
	TagPatternOnly     = "pattern_only"
	TagFailed          = "detection_failed"
	TagBelowThreshold  = "below_confidence_threshold"
)

// sideVerdict is one detector's opinion before combination
type sideVerdict struct {
	available   bool
	isSynthetic bool
	confidence  float64
}

// DeepfakeEnsemble combines the external neural synthetic-voice
// scorer with corpus pattern signals into one per-chunk and per-call
// verdict. Both sides run in parallel; either may fail without
// stalling the other.
type DeepfakeEnsemble struct {
	scorer   neural.Scorer
	patterns *PatternAnalyzer
	cfg      config.DeepfakeConfig
	logger   *logger.Logger
}

// NewDeepfakeEnsemble creates the ensemble. scorer may be nil; the
// pattern side then carries the verdict alone.
func NewDeepfakeEnsemble(scorer neural.Scorer, patterns *PatternAnalyzer, cfg config.DeepfakeConfig, log *logger.Logger) *DeepfakeEnsemble {
	if cfg.NeuralWeight == 0 && cfg.PatternWeight == 0 {
		cfg.NeuralWeight = 0.6
		cfg.PatternWeight = 0.4
	}
	return &DeepfakeEnsemble{
		scorer:   scorer,
		patterns: patterns,
		cfg:      cfg,
		logger:   log.WithComponent("deepfake-ensemble"),
	}
}

// Detect produces the synthetic-voice verdict for one audio chunk
func (e *DeepfakeEnsemble) Detect(ctx context.Context, chunk models.AudioChunk) models.DeepfakeResult {
	var (
		wg       sync.WaitGroup
		neuralV  sideVerdict
		patternV sideVerdict
		factors  []models.RiskFactor
		mu       sync.Mutex
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		neuralV = e.runNeural(ctx, chunk)
	}()
	go func() {
		defer wg.Done()
		v, f := e.runPatterns(chunk)
		mu.Lock()
		patternV = v
		factors = append(factors, f...)
		mu.Unlock()
	}()
	wg.Wait()

	result := e.combine(neuralV, patternV)
	result.Factors = append(result.Factors, factors...)

	// Confidence threshold applies after combination, regardless of
	// how the sides agreed
	if result.Confidence < e.cfg.ConfidenceThreshold {
		result.IsSynthetic = false
		result.Tags = append(result.Tags, TagBelowThreshold)
	}

	return result
}

func (e *DeepfakeEnsemble) runNeural(ctx context.Context, chunk models.AudioChunk) sideVerdict {
	if e.scorer == nil || len(chunk.Audio) == 0 {
		return sideVerdict{}
	}
	score, err := e.scorer.Score(ctx, chunk.Audio, chunk.Transcript)
	if err != nil {
		e.logger.Warn().Err(err).Int("seq", chunk.Seq).Msg("neural scorer unavailable for chunk")
		return sideVerdict{}
	}
	return sideVerdict{
		available:   true,
		isSynthetic: score.IsSynthetic,
		confidence:  score.Confidence,
	}
}

func (e *DeepfakeEnsemble) runPatterns(chunk models.AudioChunk) (sideVerdict, []models.RiskFactor) {
	if e.patterns == nil || !chunk.HasSignal() {
		return sideVerdict{}, nil
	}
	result := e.patterns.Analyze(PatternContent{
		Text:          chunk.Transcript,
		Speaker:       chunk.Speaker,
		TargetSpeaker: chunk.TargetSpeaker,
		SourceSpeaker: chunk.SourceSpeaker,
	})
	return sideVerdict{
		available:   true,
		isSynthetic: result.Confidence >= 0.5,
		confidence:  result.Confidence,
	}, result.Factors
}

// combine applies the ensemble rules to the two sides
func (e *DeepfakeEnsemble) combine(neuralV, patternV sideVerdict) models.DeepfakeResult {
	switch {
	case neuralV.available && patternV.available:
		if neuralV.isSynthetic == patternV.isSynthetic {
			return models.DeepfakeResult{
				IsSynthetic: neuralV.isSynthetic,
				Confidence:  e.cfg.NeuralWeight*neuralV.confidence + e.cfg.PatternWeight*patternV.confidence,
				Method:      "ensemble",
				Tags:        []string{TagConsensus},
			}
		}

		// Disagreement: the higher-confidence side wins, discounted
		dominant, tag := neuralV, TagNeuralDominant
		if patternV.confidence > neuralV.confidence {
			dominant, tag = patternV, TagPatternDominant
		}
		return models.DeepfakeResult{
			IsSynthetic: dominant.isSynthetic,
			Confidence:  dominant.confidence * 0.7,
			Method:      "ensemble",
			Tags:        []string{TagDisagreement, tag},
		}

	case neuralV.available:
		return models.DeepfakeResult{
			IsSynthetic: neuralV.isSynthetic,
			Confidence:  neuralV.confidence,
			Method:      "neural",
			Tags:        []string{TagNeuralOnly},
		}

	case patternV.available:
		return models.DeepfakeResult{
			IsSynthetic: patternV.isSynthetic,
			Confidence:  patternV.confidence,
			Method:      "pattern",
			Tags:        []string{TagPatternOnly},
		}

	default:
		return models.DeepfakeResult{
			Method: "none",
			Tags:   []string{TagFailed},
		}
	}
}

// Aggregate folds per-chunk verdicts into the per-call verdict:
// confidence-weighted average over chunks with positive confidence
func (e *DeepfakeEnsemble) Aggregate(chunks []models.DeepfakeResult) models.DeepfakeResult {
	var weightedSum, confidenceSum float64
	counted := 0
	for _, chunk := range chunks {
		if chunk.Confidence <= 0 {
			continue
		}
		counted++
		confidenceSum += chunk.Confidence
		if chunk.IsSynthetic {
			weightedSum += chunk.Confidence
		}
	}

	if counted == 0 || confidenceSum == 0 {
		return models.DeepfakeResult{
			Method: "aggregate",
			Tags:   []string{TagFailed},
		}
	}

	aggregate := weightedSum / confidenceSum
	return models.DeepfakeResult{
		IsSynthetic: aggregate > e.cfg.ConfidenceThreshold,
		Confidence:  aggregate,
		Method:      "aggregate",
		Factors: []models.RiskFactor{{
			Kind:       "synthetic_voice_aggregate",
			Score:      aggregate,
			Confidence: aggregate,
			Reasoning:  fmt.Sprintf("weighted synthetic verdict across %d scored chunks", counted),
		}},
	}
}
