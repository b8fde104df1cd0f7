package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/internal/domain/services"
	"callguard/pkg/logger"
)

func newTestTelephonyHandler(t *testing.T) (*TelephonyHandler, *services.SessionStore) {
	t.Helper()
	store := services.NewSessionStore(nil, logger.Nop())
	riskCfg := config.RiskConfig{
		Weights: config.RiskWeights{Phone: 0.3, Deepfake: 0.4, Content: 0.3},
		Cutoffs: config.RiskCutoffs{Low: 0.3, Medium: 0.5, High: 0.7, Critical: 0.85, Maximum: 0.95},
	}
	pipeline := services.NewPipeline(
		config.DetectorsConfig{},
		config.AlertsConfig{Threshold: "HIGH"},
		riskCfg,
		services.PipelineDeps{
			Store: store,
			Risk:  services.NewRiskEngine(riskCfg, logger.Nop()),
		},
		logger.Nop(),
	)
	return NewTelephonyHandler(pipeline, logger.Nop()), store
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestCallStatusWebhook(t *testing.T) {
	h, store := newTestTelephonyHandler(t)

	rec := postJSON(t, h.CallStatus, map[string]string{
		"call_id": "call-1", "from": "415-555-0123", "status": "ringing",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first sighting status = %d, want 201", rec.Code)
	}

	session := store.Get("call-1")
	if session == nil {
		t.Fatal("ringing webhook must create the session")
	}
	if session.Status != models.StatusRinging {
		t.Errorf("status = %v, want RINGING after create+transition", session.Status)
	}
	if session.From != "+14155550123" {
		t.Errorf("from = %q, want normalized", session.From)
	}

	// vendor alias folds into the tracked state
	rec = postJSON(t, h.CallStatus, map[string]string{"call_id": "call-1", "status": "answered"})
	if rec.Code != http.StatusOK {
		t.Fatalf("answered status = %d, want 200", rec.Code)
	}
	if session.Status != models.StatusInProgress {
		t.Errorf("status = %v, want IN_PROGRESS", session.Status)
	}

	rec = postJSON(t, h.CallStatus, map[string]string{"call_id": "call-1", "status": "no-answer"})
	if rec.Code != http.StatusOK {
		t.Fatalf("no-answer status = %d, want 200", rec.Code)
	}
	if got := store.Get("call-1"); got != nil {
		t.Error("terminal webhook must retire the session")
	}
}

func TestCallStatusWebhookErrors(t *testing.T) {
	h, _ := newTestTelephonyHandler(t)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing call id", map[string]string{"status": "ringing"}, http.StatusBadRequest},
		{"unknown status", map[string]string{"call_id": "c", "status": "vanished"}, http.StatusBadRequest},
		{"transition on unknown call", map[string]string{"call_id": "c", "status": "completed"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := postJSON(t, h.CallStatus, tt.body); rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	// illegal lifecycle jumps are conflicts, not not-found
	postJSON(t, h.CallStatus, map[string]string{"call_id": "call-2", "from": "+14155550123", "status": "initiated"})
	if rec := postJSON(t, h.CallStatus, map[string]string{"call_id": "call-2", "status": "completed"}); rec.Code != http.StatusConflict {
		t.Errorf("INITIATED -> COMPLETED status = %d, want 409", rec.Code)
	}
}

func TestTranscriptWebhook(t *testing.T) {
	h, store := newTestTelephonyHandler(t)
	postJSON(t, h.CallStatus, map[string]string{"call_id": "call-3", "from": "+14155550123", "status": "initiated"})

	rec := postJSON(t, h.Transcript, map[string]any{
		"call_id":    "call-3",
		"seq":        1,
		"transcript": "hello",
		"span_start": 0.0,
		"span_end":   2.5,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("transcript status = %d, want 202", rec.Code)
	}
	session := store.Get("call-3")
	if len(session.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(session.Results))
	}

	if rec := postJSON(t, h.Transcript, map[string]any{"call_id": "call-3", "seq": 2, "audio": "not base64!"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad audio status = %d, want 400", rec.Code)
	}
	if rec := postJSON(t, h.Transcript, map[string]any{"call_id": "missing", "seq": 1}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown call status = %d, want 404", rec.Code)
	}
}

func TestRecordingWebhook(t *testing.T) {
	h, store := newTestTelephonyHandler(t)
	postJSON(t, h.CallStatus, map[string]string{"call_id": "call-4", "from": "+14155550123", "status": "initiated"})

	rec := postJSON(t, h.Recording, map[string]any{
		"call_id":          "call-4",
		"recording_ref":    "rec-99",
		"duration_seconds": 31.5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("recording status = %d, want 200", rec.Code)
	}
	session := store.Get("call-4")
	if session.Recording == nil || session.Recording.Ref != "rec-99" {
		t.Errorf("recording = %+v, want rec-99 attached", session.Recording)
	}

	if rec := postJSON(t, h.Recording, map[string]any{"call_id": "call-4"}); rec.Code != http.StatusBadRequest {
		t.Errorf("missing ref status = %d, want 400", rec.Code)
	}
}
