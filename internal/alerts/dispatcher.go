package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/pkg/logger"
)

// Dispatcher delivers scam warnings for a call in flight. The
// pipeline decides when to alert; the dispatcher decides how.
type Dispatcher interface {
	Dispatch(ctx context.Context, callID string, assessment *models.RiskAssessment, language string) (models.Alert, error)
}

// messages keyed by language, then severity band
var alertMessages = map[string]map[models.RiskLevel]string{
	"en": {
		models.RiskMedium:   "Caution: this call shows some signs of a scam. Do not share personal or financial details.",
		models.RiskHigh:     "Warning: this call is likely a scam. Do not share personal or financial details.",
		models.RiskCritical: "Danger: this call is almost certainly a scam. Hang up now.",
		models.RiskMaximum:  "Danger: this caller is a known scammer using a synthetic voice. Hang up immediately.",
	},
	"es": {
		models.RiskMedium:   "Precaución: esta llamada muestra señales de estafa. No comparta datos personales ni financieros.",
		models.RiskHigh:     "Advertencia: esta llamada es probablemente una estafa. No comparta datos personales ni financieros.",
		models.RiskCritical: "Peligro: esta llamada es casi con seguridad una estafa. Cuelgue ahora.",
		models.RiskMaximum:  "Peligro: esta persona es un estafador conocido usando una voz sintética. Cuelgue de inmediato.",
	},
}

// MessageFor returns the localized warning text for a level. Falls
// back to English, then to the nearest lower band.
func MessageFor(level models.RiskLevel, language string) string {
	msgs, ok := alertMessages[language]
	if !ok {
		msgs = alertMessages["en"]
	}
	for _, band := range []models.RiskLevel{models.RiskMaximum, models.RiskCritical, models.RiskHigh, models.RiskMedium} {
		if level.AtLeast(band) {
			if m, ok := msgs[band]; ok {
				return m
			}
			return alertMessages["en"][band]
		}
	}
	return ""
}

// WebhookDispatcher posts alerts to a configured endpoint, typically
// the telephony platform that injects the warning into the call
type WebhookDispatcher struct {
	cfg    config.AlertsConfig
	client *http.Client
	logger *logger.Logger
}

func NewWebhookDispatcher(cfg config.AlertsConfig, log *logger.Logger) *WebhookDispatcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &WebhookDispatcher{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: log.WithComponent("alert-dispatcher"),
	}
}

type alertPayload struct {
	AlertID    string           `json:"alert_id"`
	CallID     string           `json:"call_id"`
	Level      models.RiskLevel `json:"level"`
	Score      float64          `json:"score"`
	Confidence float64          `json:"confidence"`
	Message    string           `json:"message"`
	Language   string           `json:"language"`
	IssuedAt   time.Time        `json:"issued_at"`
}

// Dispatch delivers one warning. The returned alert records delivery
// state even when the webhook fails; the caller keeps it either way.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, callID string, assessment *models.RiskAssessment, language string) (models.Alert, error) {
	if language == "" {
		language = d.cfg.Language
	}
	if language == "" {
		language = "en"
	}

	alert := models.Alert{
		ID:           uuid.New().String(),
		CallID:       callID,
		Level:        assessment.Level,
		Message:      MessageFor(assessment.Level, language),
		Language:     language,
		DispatchedAt: time.Now().UTC(),
	}

	if d.cfg.WebhookURL == "" {
		d.logger.Warn().Str("call_id", callID).Msg("no alert webhook configured, alert recorded only")
		return alert, nil
	}

	payload := alertPayload{
		AlertID:    alert.ID,
		CallID:     callID,
		Level:      assessment.Level,
		Score:      assessment.Score,
		Confidence: assessment.Confidence,
		Message:    alert.Message,
		Language:   language,
		IssuedAt:   alert.DispatchedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return alert, fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return alert, fmt.Errorf("failed to build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return alert, &models.ExternalServiceError{Service: "alert-webhook", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return alert, &models.ExternalServiceError{
			Service: "alert-webhook",
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	alert.Delivered = true
	d.logger.Info().
		Str("call_id", callID).
		Str("level", string(assessment.Level)).
		Str("language", language).
		Msg("alert delivered")

	return alert, nil
}
