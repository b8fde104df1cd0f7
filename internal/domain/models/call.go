package models

import (
	"sync"
	"time"
)

// CallStatus is the lifecycle state of a call session
type CallStatus string

const (
	StatusInitiated  CallStatus = "INITIATED"
	StatusRinging    CallStatus = "RINGING"
	StatusInProgress CallStatus = "IN_PROGRESS"
	StatusCompleted  CallStatus = "COMPLETED"
	StatusFailed     CallStatus = "FAILED"
	StatusCanceled   CallStatus = "CANCELED"
)

// validTransitions enumerates every legal status change. Terminal
// states have no outgoing edges; a session cannot be reopened.
var validTransitions = map[CallStatus][]CallStatus{
	StatusInitiated:  {StatusRinging, StatusInProgress, StatusFailed, StatusCanceled},
	StatusRinging:    {StatusInProgress, StatusFailed, StatusCanceled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCanceled},
}

// IsTerminal reports whether the status ends the session
func (s CallStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is a legal change
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Alert records one dispatched warning for a call
type Alert struct {
	ID           string    `json:"id"`
	CallID       string    `json:"call_id"`
	Level        RiskLevel `json:"level"`
	Message      string    `json:"message"`
	Language     string    `json:"language"`
	Delivered    bool      `json:"delivered"`
	DispatchedAt time.Time `json:"dispatched_at"`
}

// RecordingRef points at a stored call recording held by the
// telephony collaborator
type RecordingRef struct {
	Ref             string  `json:"ref"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// CallSession is the live record of one call's detection lifecycle.
// It is mutated only by its owning pipeline task, through its own
// methods; every other reader must go through Snapshot.
type CallSession struct {
	mu sync.RWMutex

	CallID string     `json:"call_id"`
	From   string     `json:"from"`
	To     string     `json:"to"`
	Status CallStatus `json:"status"`

	StartedAt time.Time  `json:"started_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Recording *RecordingRef `json:"recording,omitempty"`

	PhoneVerification *ReputationRecord `json:"phone_verification,omitempty"`
	Results           []AnalysisResult  `json:"results,omitempty"`
	Assessment        *RiskAssessment   `json:"assessment,omitempty"`
	Alerts            []Alert           `json:"alerts,omitempty"`
}

// NewCallSession creates a session in the INITIATED state
func NewCallSession(callID, from, to string) *CallSession {
	now := time.Now()
	return &CallSession{
		CallID:    callID,
		From:      from,
		To:        to,
		Status:    StatusInitiated,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the session to a new status. Illegal transitions,
// including any transition out of a terminal state, are rejected and
// leave the session unchanged.
func (s *CallSession) Transition(next CallStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{CallID: s.CallID, From: s.Status, To: next}
	}
	s.Status = next
	s.UpdatedAt = time.Now()
	if next.IsTerminal() {
		ended := s.UpdatedAt
		s.EndedAt = &ended
	}
	return nil
}

// AttachPhoneVerification stores the reputation check result
func (s *CallSession) AttachPhoneVerification(rec *ReputationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PhoneVerification = rec
	s.UpdatedAt = time.Now()
}

// AppendResult attaches one round of detector output. Results are
// immutable once appended.
func (s *CallSession) AppendResult(result AnalysisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results = append(s.Results, result)
	s.UpdatedAt = time.Now()
}

// SetAssessment replaces the running aggregate verdict
func (s *CallSession) SetAssessment(a *RiskAssessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Assessment = a
	s.UpdatedAt = time.Now()
}

// RecordAlert appends a dispatched alert
func (s *CallSession) RecordAlert(alert Alert) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Alerts = append(s.Alerts, alert)
	s.UpdatedAt = time.Now()
}

// SetRecording attaches the stored-recording reference
func (s *CallSession) SetRecording(ref RecordingRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Recording = &ref
	s.UpdatedAt = time.Now()
}

// IsTerminal reports whether the session has ended
func (s *CallSession) IsTerminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status.IsTerminal()
}

// Snapshot returns a consistent copy safe to serve or serialize while
// the owning task keeps mutating the session. Slice elements and
// factor lists are immutable once published, so they are shared.
func (s *CallSession) Snapshot() *CallSession {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c := &CallSession{
		CallID:    s.CallID,
		From:      s.From,
		To:        s.To,
		Status:    s.Status,
		StartedAt: s.StartedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		c.EndedAt = &ended
	}
	if s.Recording != nil {
		rec := *s.Recording
		c.Recording = &rec
	}
	if s.PhoneVerification != nil {
		pv := *s.PhoneVerification
		c.PhoneVerification = &pv
	}
	if s.Assessment != nil {
		a := *s.Assessment
		c.Assessment = &a
	}
	c.Results = append([]AnalysisResult(nil), s.Results...)
	c.Alerts = append([]Alert(nil), s.Alerts...)
	return c
}

// IsActive reports whether the call is ringing or in progress
func (s *CallSession) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status == StatusRinging || s.Status == StatusInProgress
}

// LatestResult returns the most recent analysis round, or nil
func (s *CallSession) LatestResult() *AnalysisResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.Results) == 0 {
		return nil
	}
	return &s.Results[len(s.Results)-1]
}

// Duration returns how long the call has been running, or ran
func (s *CallSession) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.EndedAt != nil {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return time.Since(s.StartedAt)
}
