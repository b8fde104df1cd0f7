package neural

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/pkg/logger"
)

// ScoreResult is the synthetic-voice verdict from the anti-spoofing
// model sidecar
type ScoreResult struct {
	IsSynthetic     bool    `json:"is_deepfake"`
	Confidence      float64 `json:"confidence"`
	Method          string  `json:"method"`
	SpoofProb       float64 `json:"audio_spoof_prob,omitempty"`
	BonafideProb    float64 `json:"audio_bonafide_prob,omitempty"`
	ModelType       string  `json:"model_type,omitempty"`
	Err             string  `json:"error,omitempty"`
}

// Scorer scores audio chunks for synthetic speech. The pipeline treats
// failures and zero-confidence results identically, so implementations
// may degrade rather than error.
type Scorer interface {
	Score(ctx context.Context, audioChunk []byte, textContext string) (*ScoreResult, error)
}

// HTTPScorer calls the anti-spoofing bridge sidecar over HTTP
type HTTPScorer struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*ScoreResult]
	url        string
	logger     *logger.Logger
}

// NewHTTPScorer creates a scorer client for the configured sidecar URL
func NewHTTPScorer(cfg config.DeepfakeConfig, log *logger.Logger) *HTTPScorer {
	timeout := cfg.ScorerTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*ScoreResult](gobreaker.Settings{
		Name:        "neural-scorer",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &HTTPScorer{
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		url:        cfg.ScorerURL,
		logger:     log.WithComponent("neural-scorer"),
	}
}

type scoreRequest struct {
	Audio       []byte `json:"audio"` // base64 via encoding/json
	TextContext string `json:"text_context,omitempty"`
	SampleRate  int    `json:"sample_rate"`
}

// Score submits one audio chunk for anti-spoofing inference
func (s *HTTPScorer) Score(ctx context.Context, audioChunk []byte, textContext string) (*ScoreResult, error) {
	result, err := s.breaker.Execute(func() (*ScoreResult, error) {
		return s.score(ctx, audioChunk, textContext)
	})
	if err != nil {
		return nil, &models.ExternalServiceError{Service: "neural-scorer", Err: err}
	}
	return result, nil
}

func (s *HTTPScorer) score(ctx context.Context, audioChunk []byte, textContext string) (*ScoreResult, error) {
	body, err := json.Marshal(scoreRequest{
		Audio:       audioChunk,
		TextContext: textContext,
		SampleRate:  16000,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/score", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scorer returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var result ScoreResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}

	// The bridge reports model-not-loaded and inference errors in-band
	if result.Err != "" {
		s.logger.Warn().Str("method", result.Method).Str("error", result.Err).
			Msg("scorer degraded, treating as zero-confidence")
		result.IsSynthetic = false
		result.Confidence = 0
	}

	return &result, nil
}
