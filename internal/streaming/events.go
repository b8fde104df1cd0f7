package streaming

import (
	"time"

	"github.com/google/uuid"

	"callguard/internal/domain/models"
)

// EventType represents the type of call event
type EventType string

const (
	EventTypeSessionStarted   EventType = "session_started"
	EventTypeAnalysisComplete EventType = "analysis_completed"
	EventTypeScamDetected     EventType = "scam_detected"
	EventTypeAlertDispatched  EventType = "alert_dispatched"
	EventTypeSessionEnded     EventType = "session_ended"
)

// CallEvent is one real-time update from the detection pipeline
type CallEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	CallID string            `json:"call_id"`
	From   string            `json:"from,omitempty"`
	To     string            `json:"to,omitempty"`
	Status models.CallStatus `json:"status,omitempty"`

	Level      models.RiskLevel `json:"level,omitempty"`
	Score      float64          `json:"score,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Degraded   bool             `json:"degraded,omitempty"`

	AlertID string `json:"alert_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// NewCallEvent creates an event snapshotting the session's state
func NewCallEvent(eventType EventType, session *models.CallSession) *CallEvent {
	event := &CallEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		CallID:    session.CallID,
		From:      session.From,
		To:        session.To,
		Status:    session.Status,
	}
	if session.Assessment != nil {
		event.Level = session.Assessment.Level
		event.Score = session.Assessment.Score
		event.Confidence = session.Assessment.Confidence
		event.Degraded = session.Assessment.Degraded
	}
	return event
}

// Subscription filters which call events a client receives
type Subscription struct {
	// Minimum risk level (empty = all)
	MinLevel models.RiskLevel `json:"min_level,omitempty"`

	// Filter by event types (empty = all)
	Types []EventType `json:"types,omitempty"`

	// Filter by calling numbers (empty = all)
	Numbers []string `json:"numbers,omitempty"`
}

// Matches checks if an event passes the subscription filters
func (s *Subscription) Matches(event *CallEvent) bool {
	if s.MinLevel != "" && s.MinLevel.Valid() {
		if event.Level == "" || !event.Level.AtLeast(s.MinLevel) {
			return false
		}
	}

	if len(s.Types) > 0 {
		found := false
		for _, t := range s.Types {
			if t == event.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(s.Numbers) > 0 {
		found := false
		for _, n := range s.Numbers {
			if n == event.From {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
