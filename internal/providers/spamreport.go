package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"callguard/pkg/logger"
)

// SpamReportProvider queries a community spam-report feed that tracks
// how often a number has been reported by call recipients
type SpamReportProvider struct {
	*BaseProvider
	httpClient *http.Client
	logger     *logger.Logger
}

// NewSpamReport creates a community spam-report provider
func NewSpamReport(cfg Config, log *logger.Logger) *SpamReportProvider {
	return &SpamReportProvider{
		BaseProvider: NewBaseProvider("spam-report", "Community Spam Reports", cfg),
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		logger:       log.WithComponent("provider-spam-report"),
	}
}

// Lookup fetches the report count for a number. Confidence scales with
// report volume and saturates at 0.9.
func (p *SpamReportProvider) Lookup(ctx context.Context, normalizedNumber string) (*LookupResult, error) {
	if err := p.Wait(ctx); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/lookup?number=%s&key=%s",
		p.Config().APIURL, url.QueryEscape(normalizedNumber), p.Config().APIKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &LookupResult{Label: "spam-report"}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("spam-report feed returned status %d", resp.StatusCode)
	}

	var body struct {
		ReportCount int    `json:"report_count"`
		Category    string `json:"category"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	result := &LookupResult{
		ReportCount: body.ReportCount,
		Label:       "spam-report",
	}
	if body.ReportCount > 0 {
		result.IsBad = true
		result.Confidence = 0.4 + 0.05*float64(body.ReportCount)
		if result.Confidence > 0.9 {
			result.Confidence = 0.9
		}
	}

	return result, nil
}
