package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/pkg/logger"
)

func TestMessageFor(t *testing.T) {
	tests := []struct {
		name     string
		level    models.RiskLevel
		language string
		contains string
	}{
		{"english high", models.RiskHigh, "en", "likely a scam"},
		{"spanish critical", models.RiskCritical, "es", "Cuelgue ahora"},
		{"maximum names the synthetic voice", models.RiskMaximum, "en", "synthetic voice"},
		{"unknown language falls back to english", models.RiskHigh, "de", "likely a scam"},
		{"below medium has no message", models.RiskLow, "en", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MessageFor(tt.level, tt.language)
			if tt.contains == "" {
				if got != "" {
					t.Errorf("message = %q, want empty", got)
				}
				return
			}
			if !strings.Contains(got, tt.contains) {
				t.Errorf("message = %q, want it to contain %q", got, tt.contains)
			}
		})
	}
}

func TestWebhookDispatch(t *testing.T) {
	var received alertPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(config.AlertsConfig{WebhookURL: server.URL, Language: "en"}, logger.Nop())
	assessment := &models.RiskAssessment{Level: models.RiskCritical, Score: 0.9, Confidence: 0.85}

	alert, err := d.Dispatch(context.Background(), "call-1", assessment, "")
	if err != nil {
		t.Fatal(err)
	}
	if !alert.Delivered {
		t.Error("2xx response must mark the alert delivered")
	}
	if alert.Language != "en" {
		t.Errorf("language = %q, want configured fallback en", alert.Language)
	}
	if received.CallID != "call-1" || received.Level != models.RiskCritical {
		t.Errorf("payload = %+v, want the dispatched alert", received)
	}
	if received.Message != MessageFor(models.RiskCritical, "en") {
		t.Errorf("payload message = %q", received.Message)
	}
}

func TestWebhookDispatchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := NewWebhookDispatcher(config.AlertsConfig{WebhookURL: server.URL}, logger.Nop())

	alert, err := d.Dispatch(context.Background(), "call-1", &models.RiskAssessment{Level: models.RiskHigh}, "en")
	var ese *models.ExternalServiceError
	if !errors.As(err, &ese) {
		t.Fatalf("error = %v, want ExternalServiceError", err)
	}
	if alert.Delivered {
		t.Error("failed delivery must not mark the alert delivered")
	}
	if alert.Message == "" {
		t.Error("alert must carry its message even when delivery fails")
	}
}

func TestWebhookDispatchWithoutURL(t *testing.T) {
	d := NewWebhookDispatcher(config.AlertsConfig{}, logger.Nop())

	alert, err := d.Dispatch(context.Background(), "call-1", &models.RiskAssessment{Level: models.RiskMaximum}, "es")
	if err != nil {
		t.Fatal(err)
	}
	if alert.Delivered {
		t.Error("record-only alert must not claim delivery")
	}
	if !strings.Contains(alert.Message, "Cuelgue") {
		t.Errorf("message = %q, want the spanish maximum warning", alert.Message)
	}
}
