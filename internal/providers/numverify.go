package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"callguard/pkg/logger"
)

// NumverifyProvider validates numbers against the Numverify API.
// Invalid or premium-rate line types raise the bad-number signal.
type NumverifyProvider struct {
	*BaseProvider
	httpClient *http.Client
	logger     *logger.Logger
}

// NewNumverify creates a Numverify-backed provider
func NewNumverify(cfg Config, log *logger.Logger) *NumverifyProvider {
	if cfg.APIURL == "" {
		cfg.APIURL = "http://apilayer.net/api/validate"
	}
	return &NumverifyProvider{
		BaseProvider: NewBaseProvider("numverify", "Numverify", cfg),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       log.WithComponent("provider-numverify"),
	}
}

// Lookup queries Numverify for line validity and type
func (p *NumverifyProvider) Lookup(ctx context.Context, normalizedNumber string) (*LookupResult, error) {
	if err := p.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s?access_key=%s&number=%s&format=1",
		p.Config().APIURL, p.Config().APIKey, strings.TrimPrefix(normalizedNumber, "+"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("numverify returned status %d", resp.StatusCode)
	}

	var body struct {
		Valid    bool   `json:"valid"`
		LineType string `json:"line_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	result := &LookupResult{Label: "numverify"}
	switch {
	case !body.Valid:
		result.IsBad = true
		result.Confidence = 0.6
	case body.LineType == "premium_rate":
		result.IsBad = true
		result.Confidence = 0.7
	case body.LineType == "voip":
		result.Confidence = 0.3
	default:
		result.Confidence = 0.2
	}

	return result, nil
}
