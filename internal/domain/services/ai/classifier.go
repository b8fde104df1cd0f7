package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"callguard/internal/domain/models"
	"callguard/pkg/logger"
)

// TacticNames enumerates the eight manipulation tactics the scorer
// rates independently
var TacticNames = []string{
	"urgency",
	"authority",
	"fear",
	"scarcity",
	"reciprocity",
	"commitment",
	"social_proof",
	"isolation",
}

// ClassifyResult is the structured verdict from the deep scam
// classifier
type ClassifyResult struct {
	ScamProbability float64             `json:"scam_probability"`
	TacticsDetected []string            `json:"tactics_detected"`
	PrimaryScamType string              `json:"primary_scam_type"`
	Reasoning       string              `json:"reasoning"`
	RiskFactors     []models.RiskFactor `json:"risk_factors"`
}

// TacticScores rates each named manipulation tactic in [0,1]
type TacticScores map[string]float64

// Average returns the mean of all tactic scores
func (t TacticScores) Average() float64 {
	if len(t) == 0 {
		return 0
	}
	var sum float64
	for _, v := range t {
		sum += v
	}
	return sum / float64(len(t))
}

// SemanticClassifier is the deep spoken-content analysis collaborator.
// ContentAnalyzer consumes it through this interface; failures are
// converted into degraded results at that boundary.
type SemanticClassifier interface {
	Classify(ctx context.Context, text string, conversation []string) (*ClassifyResult, error)
	ScoreTactics(ctx context.Context, text string, conversation []string) (TacticScores, error)
}

// LLMClassifier implements SemanticClassifier on top of a chat model
type LLMClassifier struct {
	client *Client
	logger *logger.Logger
}

// NewLLMClassifier creates the LLM-backed classifier
func NewLLMClassifier(client *Client, log *logger.Logger) *LLMClassifier {
	return &LLMClassifier{
		client: client,
		logger: log.WithComponent("semantic-classifier"),
	}
}

const classifySystemPrompt = `You are an expert at detecting phone scams from live call transcripts.
Analyze the transcript for fraud indicators: impersonation of authorities or companies,
payment demands (gift cards, wire transfers, cryptocurrency), credential harvesting,
fake emergencies, tech support ruses, and romance manipulation.

Respond with only a JSON object:
{
  "scam_probability": 0.0-1.0,
  "tactics_detected": ["list of manipulation tactics observed"],
  "primary_scam_type": "tech_support|government_impersonation|financial|romance|prize|other|none",
  "reasoning": "one or two sentences",
  "risk_factors": [{"kind": "...", "score": 0.0-1.0, "confidence": 0.0-1.0, "reasoning": "...", "evidence": "..."}]
}`

const tacticsSystemPrompt = `You rate psychological manipulation in phone call transcripts.
Score each tactic independently from 0.0 (absent) to 1.0 (extreme):
urgency, authority, fear, scarcity, reciprocity, commitment, social_proof, isolation.

Respond with only a JSON object mapping each tactic name to its score.`

// Classify requests a structured scam verdict for a transcript chunk,
// with recent conversation turns as context
func (c *LLMClassifier) Classify(ctx context.Context, text string, conversation []string) (*ClassifyResult, error) {
	response, err := c.client.Complete(ctx, classifySystemPrompt, buildPrompt(text, conversation))
	if err != nil {
		return nil, &models.ExternalServiceError{Service: "semantic-classifier", Err: err}
	}

	var result ClassifyResult
	if err := json.Unmarshal([]byte(extractJSON(response)), &result); err != nil {
		return nil, &models.ExternalServiceError{
			Service: "semantic-classifier",
			Err:     fmt.Errorf("malformed classifier response: %w", err),
		}
	}

	result.ScamProbability = clamp01(result.ScamProbability)
	return &result, nil
}

// ScoreTactics rates the eight manipulation tactics for a transcript
func (c *LLMClassifier) ScoreTactics(ctx context.Context, text string, conversation []string) (TacticScores, error) {
	response, err := c.client.Complete(ctx, tacticsSystemPrompt, buildPrompt(text, conversation))
	if err != nil {
		return nil, &models.ExternalServiceError{Service: "tactic-scorer", Err: err}
	}

	var raw map[string]float64
	if err := json.Unmarshal([]byte(extractJSON(response)), &raw); err != nil {
		return nil, &models.ExternalServiceError{
			Service: "tactic-scorer",
			Err:     fmt.Errorf("malformed tactic response: %w", err),
		}
	}

	scores := make(TacticScores, len(TacticNames))
	for _, name := range TacticNames {
		scores[name] = clamp01(raw[name])
	}
	return scores, nil
}

func buildPrompt(text string, conversation []string) string {
	var sb strings.Builder
	if len(conversation) > 0 {
		sb.WriteString("Recent conversation turns:\n")
		for _, turn := range conversation {
			sb.WriteString("- ")
			sb.WriteString(turn)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Current transcript chunk:\n")
	sb.WriteString(text)
	return sb.String()
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
