package services

import (
	"fmt"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/pkg/logger"
)

// signal weights for each corpus-backed indicator
const (
	weightScamKeyword      = 0.8
	weightSuspiciousPhrase = 0.6
	weightReferenceText    = 0.7
	weightTargetedSpeaker  = 0.6
	weightVCSource         = 0.7
)

// PatternAnalyzer matches a transcript/speaker context against the
// reference corpus to flag synthetic-speech and scam-text indicators
type PatternAnalyzer struct {
	corpus              *Corpus
	similarityThreshold float64
	logger              *logger.Logger
}

// PatternContent is the input to one analysis pass. All fields are
// optional; absent signals simply do not contribute.
type PatternContent struct {
	Text          string
	Speaker       string
	TargetSpeaker string
	SourceSpeaker string
	AudioFeatures map[string]float64
}

// NewPatternAnalyzer creates an analyzer over the given corpus
func NewPatternAnalyzer(corpus *Corpus, cfg config.CorpusConfig, log *logger.Logger) *PatternAnalyzer {
	threshold := cfg.SimilarityThreshold
	if threshold <= 0 {
		threshold = 0.7
	}
	return &PatternAnalyzer{
		corpus:              corpus,
		similarityThreshold: threshold,
		logger:              log.WithComponent("pattern-analyzer"),
	}
}

// Analyze scans the content against every corpus signal. A failure in
// one signal is isolated; the others still compute. Never errors.
func (a *PatternAnalyzer) Analyze(content PatternContent) models.PatternResult {
	var (
		weights  []float64
		patterns []string
		factors  []models.RiskFactor
	)

	trigger := func(weight float64, pattern, kind, reasoning, evidence string) {
		weights = append(weights, weight)
		patterns = append(patterns, pattern)
		factors = append(factors, models.RiskFactor{
			Kind:       kind,
			Score:      weight,
			Confidence: weight,
			Reasoning:  reasoning,
			Evidence:   evidence,
		})
	}

	// Lexical match against scam keywords and suspicious phrases
	for _, m := range a.corpus.MatchLexicon(content.Text) {
		if m.IsPhrase {
			trigger(weightSuspiciousPhrase, "suspicious_phrase:"+m.Text,
				"suspicious_phrase", "transcript contains a known suspicious phrase", m.Text)
		} else {
			trigger(weightScamKeyword, "scam_keyword:"+m.Text,
				"scam_keyword", "transcript contains a known scam keyword", m.Text)
		}
	}

	// Word-overlap similarity against synthesized-speech reference texts
	if n := a.corpus.SimilarReferences(content.Text, a.similarityThreshold); n > 0 {
		trigger(weightReferenceText, fmt.Sprintf("%d similar reference patterns", n),
			"reference_text_similarity",
			"transcript overlaps with known synthesized-speech reference texts",
			fmt.Sprintf("%d references above %.2f similarity", n, a.similarityThreshold))
	}

	// Speaker correlation against the frequently-targeted set
	for _, speaker := range []string{content.Speaker, content.TargetSpeaker} {
		if speaker != "" && a.corpus.IsTargetedSpeaker(speaker) {
			trigger(weightTargetedSpeaker, "targeted_speaker:"+speaker,
				"targeted_speaker", "speaker is a frequent target of voice attacks", speaker)
			break
		}
	}

	if content.SourceSpeaker != "" && a.corpus.IsVoiceConversionSource(content.SourceSpeaker) {
		trigger(weightVCSource, "vc_source:"+content.SourceSpeaker,
			"voice_conversion_source", "source speaker is a known voice-conversion source", content.SourceSpeaker)
	}

	confidence := aggregateWeights(weights)
	return models.PatternResult{
		RiskLevel:        patternLevel(confidence),
		Confidence:       confidence,
		DetectedPatterns: patterns,
		Factors:          factors,
	}
}

// aggregateWeights combines triggered pattern weights:
// 0.7·max + 0.3·avg, or 0 when nothing triggered
func aggregateWeights(weights []float64) float64 {
	if len(weights) == 0 {
		return 0
	}
	var max, sum float64
	for _, w := range weights {
		if w > max {
			max = w
		}
		sum += w
	}
	avg := sum / float64(len(weights))
	return 0.7*max + 0.3*avg
}

func patternLevel(confidence float64) models.RiskLevel {
	switch {
	case confidence >= 0.7:
		return models.RiskHigh
	case confidence >= 0.5:
		return models.RiskMedium
	case confidence >= 0.3:
		return models.RiskLow
	default:
		return models.RiskSafe
	}
}
