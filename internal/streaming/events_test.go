package streaming

import (
	"testing"

	"callguard/internal/domain/models"
)

func TestNewCallEventSnapshotsAssessment(t *testing.T) {
	session := models.NewCallSession("call-1", "+14155550123", "+14155550199")

	event := NewCallEvent(EventTypeSessionStarted, session)
	if event.CallID != "call-1" || event.From != "+14155550123" {
		t.Errorf("event identity = %s/%s, want the session's", event.CallID, event.From)
	}
	if event.Level != "" {
		t.Errorf("level = %q, want empty before any assessment", event.Level)
	}

	session.SetAssessment(&models.RiskAssessment{
		Level:      models.RiskHigh,
		Score:      0.72,
		Confidence: 0.8,
		Degraded:   true,
	})
	event = NewCallEvent(EventTypeScamDetected, session)
	if event.Level != models.RiskHigh || event.Score != 0.72 || !event.Degraded {
		t.Errorf("event = %+v, want the assessment snapshot", event)
	}
	if event.ID == "" {
		t.Error("event id must be set")
	}
}

func TestSubscriptionMatches(t *testing.T) {
	highEvent := &CallEvent{
		Type:  EventTypeScamDetected,
		From:  "+14155550123",
		Level: models.RiskHigh,
	}
	startEvent := &CallEvent{
		Type: EventTypeSessionStarted,
		From: "+14155550124",
	}

	tests := []struct {
		name  string
		sub   Subscription
		event *CallEvent
		want  bool
	}{
		{"empty matches everything", Subscription{}, startEvent, true},
		{"level floor passes", Subscription{MinLevel: models.RiskMedium}, highEvent, true},
		{"level floor blocks unassessed", Subscription{MinLevel: models.RiskLow}, startEvent, false},
		{"level floor blocks lower", Subscription{MinLevel: models.RiskCritical}, highEvent, false},
		{"invalid level ignored", Subscription{MinLevel: "BOGUS"}, startEvent, true},
		{"type filter passes", Subscription{Types: []EventType{EventTypeScamDetected}}, highEvent, true},
		{"type filter blocks", Subscription{Types: []EventType{EventTypeSessionEnded}}, highEvent, false},
		{"number filter passes", Subscription{Numbers: []string{"+14155550123"}}, highEvent, true},
		{"number filter blocks", Subscription{Numbers: []string{"+19995550000"}}, highEvent, false},
		{
			"all filters must pass",
			Subscription{MinLevel: models.RiskLow, Types: []EventType{EventTypeScamDetected}, Numbers: []string{"+14155550123"}},
			highEvent,
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
