package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"callguard/internal/domain/models"
	"callguard/internal/domain/services"
	"callguard/pkg/logger"
)

// TelephonyHandler receives webhooks from the telephony platform and
// drives the detection pipeline
type TelephonyHandler struct {
	pipeline *services.Pipeline
	logger   *logger.Logger
}

// NewTelephonyHandler creates a new TelephonyHandler
func NewTelephonyHandler(pipeline *services.Pipeline, log *logger.Logger) *TelephonyHandler {
	return &TelephonyHandler{
		pipeline: pipeline,
		logger:   log.WithComponent("telephony-handler"),
	}
}

// callStatusRequest is a call lifecycle webhook payload
type callStatusRequest struct {
	CallID string `json:"call_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Status string `json:"status"`
}

// telephony vendors report more statuses than the session machine
// tracks; fold the long tail into the terminal states
var statusAliases = map[string]models.CallStatus{
	"initiated":   models.StatusInitiated,
	"ringing":     models.StatusRinging,
	"in-progress": models.StatusInProgress,
	"answered":    models.StatusInProgress,
	"completed":   models.StatusCompleted,
	"failed":      models.StatusFailed,
	"busy":        models.StatusFailed,
	"canceled":    models.StatusCanceled,
	"no-answer":   models.StatusCanceled,
}

// CallStatus handles POST /api/v1/telephony/call-status
func (h *TelephonyHandler) CallStatus(w http.ResponseWriter, r *http.Request) {
	var req callStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.CallID == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	status, ok := statusAliases[strings.ToLower(req.Status)]
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}

	// First sighting of a call creates its session
	if status == models.StatusInitiated || status == models.StatusRinging {
		session, err := h.pipeline.StartCall(r.Context(), req.CallID, req.From, req.To)
		if err == nil {
			if status != models.StatusInitiated {
				if terr := h.pipeline.UpdateStatus(r.Context(), req.CallID, status); terr != nil {
					h.logger.Warn().Err(terr).Str("call_id", req.CallID).Msg("transition after create failed")
				}
			}
			writeJSON(w, http.StatusCreated, session)
			return
		}
		// already tracked, fall through to a plain transition
	}

	if err := h.pipeline.UpdateStatus(r.Context(), req.CallID, status); err != nil {
		var invalid *models.InvalidTransitionError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusConflict, invalid.Error())
			return
		}
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"call_id": req.CallID, "status": string(status)})
}

// transcriptRequest is a streaming transcript/audio chunk payload
type transcriptRequest struct {
	CallID        string  `json:"call_id"`
	Seq           int     `json:"seq"`
	Transcript    string  `json:"transcript"`
	Audio         string  `json:"audio,omitempty"` // base64 PCM
	SpanStart     float64 `json:"span_start,omitempty"`
	SpanEnd       float64 `json:"span_end,omitempty"`
	Speaker       string  `json:"speaker,omitempty"`
	TargetSpeaker string  `json:"target_speaker,omitempty"`
	SourceSpeaker string  `json:"source_speaker,omitempty"`
}

// Transcript handles POST /api/v1/telephony/transcript
func (h *TelephonyHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.CallID == "" {
		writeError(w, http.StatusBadRequest, "call_id is required")
		return
	}

	chunk := models.AudioChunk{
		Seq:           req.Seq,
		Transcript:    req.Transcript,
		Speaker:       req.Speaker,
		TargetSpeaker: req.TargetSpeaker,
		SourceSpeaker: req.SourceSpeaker,
	}
	if req.SpanEnd > 0 {
		chunk.Span = fmt.Sprintf("%.2f-%.2f", req.SpanStart, req.SpanEnd)
	}
	if req.Audio != "" {
		audio, err := base64.StdEncoding.DecodeString(req.Audio)
		if err != nil {
			writeError(w, http.StatusBadRequest, "audio is not valid base64")
			return
		}
		chunk.Audio = audio
	}

	if err := h.pipeline.ProcessChunk(r.Context(), req.CallID, chunk); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"call_id": req.CallID, "seq": req.Seq})
}

// recordingRequest is a recording-ready webhook payload
type recordingRequest struct {
	CallID          string  `json:"call_id"`
	RecordingRef    string  `json:"recording_ref"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Recording handles POST /api/v1/telephony/recording
func (h *TelephonyHandler) Recording(w http.ResponseWriter, r *http.Request) {
	var req recordingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.CallID == "" || req.RecordingRef == "" {
		writeError(w, http.StatusBadRequest, "call_id and recording_ref are required")
		return
	}

	err := h.pipeline.AttachRecording(req.CallID, models.RecordingRef{
		Ref:             req.RecordingRef,
		DurationSeconds: req.DurationSeconds,
	})
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"call_id": req.CallID})
}
