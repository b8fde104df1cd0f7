package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	ahocorasick "github.com/BobuSumisu/aho-corasick"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/internal/domain/services/ai"
	"callguard/pkg/logger"
)

// tier1Category is one weighted lexical keyword category
type tier1Category struct {
	name     string
	weight   float64
	keywords []string
}

// tier1Categories is the fast lexical lexicon. Each keyword hit adds
// the category weight to the tier-1 score.
var tier1Categories = []tier1Category{
	{
		name:   "urgency",
		weight: 0.8,
		keywords: []string{
			"act now", "immediately", "right now", "before it's too late",
			"expires today", "last chance", "final notice", "don't delay",
		},
	},
	{
		name:   "authority_claim",
		weight: 1.0,
		keywords: []string{
			"this is the irs", "internal revenue service", "social security administration",
			"federal agent", "police department", "court order", "legal action",
			"your bank's security department", "microsoft support",
		},
	},
	{
		name:   "financial_request",
		weight: 1.5,
		keywords: []string{
			"gift card", "wire transfer", "western union", "moneygram",
			"bitcoin", "cryptocurrency", "bank account number", "routing number",
			"prepaid card", "send money",
		},
	},
	{
		name:   "fear_tactic",
		weight: 1.2,
		keywords: []string{
			"warrant for your arrest", "you will be arrested", "lawsuit against you",
			"account will be frozen", "suspended", "criminal charges", "deported",
		},
	},
	{
		name:   "tech_support",
		weight: 1.3,
		keywords: []string{
			"virus detected", "your computer is infected", "remote access",
			"teamviewer", "anydesk", "security breach on your device", "error code",
		},
	},
	{
		name:   "romance_manipulation",
		weight: 1.0,
		keywords: []string{
			"my love", "soulmate", "stranded overseas", "customs fee",
			"can't access my bank", "need your help urgently", "our future together",
		},
	},
}

// tier-1 score at or above this maps to HIGH
const tier1HighScore = 5.0

// tier-1 confidence above this skips the deep tier entirely
const tier1ShortCircuitConfidence = 0.9

// combined-score cutoffs for the final level
const (
	combinedHigh   = 4.5
	combinedMedium = 2.5
	combinedLow    = 1.0
)

// ContentAnalyzer is the two-tier scam-content classifier: a fast
// lexical scan, then a deep semantic pass delegated to an external
// classifier. Collaborator failures degrade to the lexical result.
type ContentAnalyzer struct {
	classifier ai.SemanticClassifier
	cfg        config.ContentConfig
	logger     *logger.Logger

	lexicon     *ahocorasick.Trie
	keywordMeta []struct {
		category string
		weight   float64
		keyword  string
	}
}

// NewContentAnalyzer builds the analyzer. classifier may be nil, in
// which case only the lexical tier runs.
func NewContentAnalyzer(classifier ai.SemanticClassifier, cfg config.ContentConfig, log *logger.Logger) *ContentAnalyzer {
	a := &ContentAnalyzer{
		classifier: classifier,
		cfg:        cfg,
		logger:     log.WithComponent("content-analyzer"),
	}

	var patterns []string
	for _, cat := range tier1Categories {
		for _, kw := range cat.keywords {
			patterns = append(patterns, strings.ToLower(kw))
			a.keywordMeta = append(a.keywordMeta, struct {
				category string
				weight   float64
				keyword  string
			}{cat.name, cat.weight, kw})
		}
	}
	a.lexicon = ahocorasick.NewTrieBuilder().AddStrings(patterns).Build()

	return a
}

type tier1Result struct {
	score      float64
	confidence float64
	level      models.RiskLevel
	categories []string
	factors    []models.RiskFactor
}

// AnalyzeText classifies a transcript chunk against recent
// conversation context. Never errors; a failed deep tier yields the
// lexical result with Degraded set.
func (a *ContentAnalyzer) AnalyzeText(ctx context.Context, text string, conversation []string) models.ContentResult {
	t1 := a.lexicalScan(text)

	// High-confidence lexical hits skip the deep tier for latency
	if t1.confidence > tier1ShortCircuitConfidence || a.classifier == nil {
		return models.ContentResult{
			Level:           t1.level,
			Confidence:      t1.confidence,
			TacticsDetected: t1.categories,
			PrimaryScamType: primaryCategory(t1.categories),
			Reasoning:       "lexical scan",
			Degraded:        a.classifier == nil,
			Factors:         t1.factors,
		}
	}

	classify, tactics, degraded := a.deepScan(ctx, text, conversation)
	if classify == nil {
		// Deep tier unavailable entirely; lexical verdict stands
		return models.ContentResult{
			Level:           t1.level,
			Confidence:      t1.confidence,
			TacticsDetected: t1.categories,
			PrimaryScamType: primaryCategory(t1.categories),
			Reasoning:       "lexical scan (semantic classifier unavailable)",
			Degraded:        true,
			Factors:         t1.factors,
		}
	}

	// 30/50/20 contribution: lexical tier, deep classifier, tactics
	combined := 3*levelValue(t1.level) + 4*classify.ScamProbability + 2*tactics.Average()

	detected := append([]string{}, t1.categories...)
	detected = append(detected, classify.TacticsDetected...)
	for name, score := range tactics {
		if score >= 0.5 {
			detected = append(detected, name)
		}
	}
	detected = dedupe(detected)

	factors := append([]models.RiskFactor{}, t1.factors...)
	factors = append(factors, classify.RiskFactors...)
	factors = append(factors, models.RiskFactor{
		Kind:       "semantic_classification",
		Score:      classify.ScamProbability,
		Confidence: classify.ScamProbability,
		Reasoning:  classify.Reasoning,
	})

	return models.ContentResult{
		Level:           combinedLevel(combined),
		Confidence:      clampUnit(combined / 9.0),
		TacticsDetected: detected,
		PrimaryScamType: classify.PrimaryScamType,
		Reasoning:       classify.Reasoning,
		Degraded:        degraded,
		Factors:         factors,
	}
}

// lexicalScan is the fast tier-1 keyword pass
func (a *ContentAnalyzer) lexicalScan(text string) tier1Result {
	var result tier1Result
	if text == "" {
		result.level = models.RiskSafe
		return result
	}

	seen := make(map[int64]struct{})
	catSeen := make(map[string]struct{})
	for _, m := range a.lexicon.MatchString(strings.ToLower(text)) {
		idx := m.Pattern()
		if _, ok := seen[idx]; ok {
			continue
		}
		seen[idx] = struct{}{}

		meta := a.keywordMeta[idx]
		result.score += meta.weight
		if _, ok := catSeen[meta.category]; !ok {
			catSeen[meta.category] = struct{}{}
			result.categories = append(result.categories, meta.category)
		}
		result.factors = append(result.factors, models.RiskFactor{
			Kind:       "lexical_" + meta.category,
			Score:      meta.weight,
			Confidence: meta.weight,
			Reasoning:  fmt.Sprintf("transcript contains %s keyword", meta.category),
			Evidence:   meta.keyword,
		})
	}
	sort.Strings(result.categories)

	switch {
	case result.score >= tier1HighScore:
		result.level = models.RiskHigh
	case result.score >= 3:
		result.level = models.RiskMedium
	case result.score >= 1.5:
		result.level = models.RiskLow
	default:
		result.level = models.RiskSafe
	}
	result.confidence = clampUnit(result.score / 6.0)

	return result
}

// deepScan runs the semantic classifier and the tactic scorer in
// parallel. Either side failing marks the result degraded; both
// failing returns nil classify.
func (a *ContentAnalyzer) deepScan(ctx context.Context, text string, conversation []string) (*ai.ClassifyResult, ai.TacticScores, bool) {
	if a.cfg.ClassifierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.ClassifierTimeout)
		defer cancel()
	}

	turns := conversation
	if a.cfg.ContextTurns > 0 && len(turns) > a.cfg.ContextTurns {
		turns = turns[len(turns)-a.cfg.ContextTurns:]
	}

	var (
		wg          sync.WaitGroup
		classify    *ai.ClassifyResult
		classifyErr error
		tactics     ai.TacticScores
		tacticsErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		classify, classifyErr = a.classifier.Classify(ctx, text, turns)
	}()
	go func() {
		defer wg.Done()
		tactics, tacticsErr = a.classifier.ScoreTactics(ctx, text, turns)
	}()
	wg.Wait()

	degraded := false
	if classifyErr != nil {
		a.logger.Warn().Err(classifyErr).Msg("semantic classification failed, falling back to lexical tier")
		return nil, nil, true
	}
	if tacticsErr != nil {
		a.logger.Warn().Err(tacticsErr).Msg("tactic scoring failed, continuing without it")
		tactics = ai.TacticScores{}
		degraded = true
	}

	return classify, tactics, degraded
}

// levelValue maps a risk level onto [0,1] for the combination formula
func levelValue(level models.RiskLevel) float64 {
	switch level {
	case models.RiskHigh, models.RiskCritical, models.RiskMaximum:
		return 1.0
	case models.RiskMedium:
		return 2.0 / 3.0
	case models.RiskLow:
		return 1.0 / 3.0
	default:
		return 0
	}
}

func combinedLevel(score float64) models.RiskLevel {
	switch {
	case score >= combinedHigh:
		return models.RiskHigh
	case score >= combinedMedium:
		return models.RiskMedium
	case score >= combinedLow:
		return models.RiskLow
	default:
		return models.RiskSafe
	}
}

func primaryCategory(categories []string) string {
	if len(categories) == 0 {
		return ""
	}
	return categories[0]
}

func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
