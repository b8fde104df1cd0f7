package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/internal/infrastructure/neural"
	"callguard/pkg/logger"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	alerts []models.Alert
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, callID string, assessment *models.RiskAssessment, language string) (models.Alert, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	alert := models.Alert{
		ID:           "alert-test",
		CallID:       callID,
		Level:        assessment.Level,
		Language:     language,
		Delivered:    true,
		DispatchedAt: time.Now(),
	}
	d.alerts = append(d.alerts, alert)
	return alert, nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.alerts)
}

// newTestPipeline fills the deps a test left empty with working
// in-memory collaborators
func newTestPipeline(t *testing.T, detectors config.DetectorsConfig, deps PipelineDeps) *Pipeline {
	t.Helper()
	if deps.Store == nil {
		deps.Store = NewSessionStore(nil, logger.Nop())
	}
	if deps.Risk == nil {
		deps.Risk = newTestRiskEngine()
	}
	alertCfg := config.AlertsConfig{Threshold: "HIGH", Language: "en"}
	return NewPipeline(detectors, alertCfg, testRiskConfig(), deps, logger.Nop())
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

const scamTranscript = "We need a gift card and a wire transfer in bitcoin, there is a warrant for your arrest"

func TestPipelineDenylistedCallerEscalates(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	p := newTestPipeline(t,
		config.DetectorsConfig{PhoneEnabled: true, ContentEnabled: true},
		PipelineDeps{
			Phone:      newTestChecker(t),
			Content:    NewContentAnalyzer(nil, config.ContentConfig{}, logger.Nop()),
			Dispatcher: dispatcher,
		})
	ctx := context.Background()

	session, err := p.StartCall(ctx, "call-1", "1-800-555-1234", "+14155550199")
	if err != nil {
		t.Fatal(err)
	}
	if session.From != "+18005551234" {
		t.Errorf("from = %q, want normalized +18005551234", session.From)
	}
	if err := p.UpdateStatus(ctx, "call-1", models.StatusInProgress); err != nil {
		t.Fatal(err)
	}

	// the reputation check runs on its own goroutine; the denylist hit
	// alone clears the alert threshold
	waitFor(t, 2*time.Second, func() bool { return dispatcher.count() >= 1 })

	if err := p.ProcessChunk(ctx, "call-1", models.AudioChunk{Seq: 1, Transcript: scamTranscript}); err != nil {
		t.Fatal(err)
	}

	if session.PhoneVerification == nil || !session.PhoneVerification.IsKnownBad {
		t.Fatal("denylisted caller must be flagged known bad")
	}
	got := session.Assessment
	if got == nil {
		t.Fatal("assessment missing after chunk")
	}
	if !got.Level.AtLeast(models.RiskCritical) {
		t.Errorf("level = %v, want at least CRITICAL", got.Level)
	}
	if !got.Degraded {
		t.Error("lexical-only content must mark the assessment degraded")
	}
	var sawDenylist bool
	for _, f := range got.Factors {
		if f.Kind == "known_scammer_number" {
			sawDenylist = true
		}
	}
	if !sawDenylist {
		t.Errorf("factors missing the denylist hit: %+v", got.Factors)
	}
	if len(session.Alerts) != 1 {
		t.Errorf("alerts recorded = %d, want exactly 1", len(session.Alerts))
	}
}

func TestPipelineSyntheticVoiceDetection(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	scorer := &fakeScorer{result: &neural.ScoreResult{IsSynthetic: true, Confidence: 0.9}}
	p := newTestPipeline(t,
		config.DetectorsConfig{DeepfakeEnabled: true},
		PipelineDeps{
			Ensemble:   newTestEnsemble(scorer),
			Dispatcher: dispatcher,
		})
	ctx := context.Background()

	session, err := p.StartCall(ctx, "call-2", "+14155550123", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := p.ProcessChunk(ctx, "call-2", models.AudioChunk{Seq: 1, Audio: []byte{0x01, 0x02}}); err != nil {
		t.Fatal(err)
	}

	got := session.Assessment
	if got == nil {
		t.Fatal("assessment missing after chunk")
	}
	if got.Level != models.RiskMaximum {
		t.Errorf("level = %v, want MAXIMUM for a lone confident synthetic verdict", got.Level)
	}
	var sawAggregate bool
	for _, f := range got.Factors {
		if f.Kind == "synthetic_voice_aggregate" {
			sawAggregate = true
		}
	}
	if !sawAggregate {
		t.Errorf("factors missing the per-call synthetic aggregate: %+v", got.Factors)
	}
	if dispatcher.count() != 1 {
		t.Errorf("alerts dispatched = %d, want 1", dispatcher.count())
	}
}

func TestPipelineAlertsOncePerBand(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	p := newTestPipeline(t,
		config.DetectorsConfig{ContentEnabled: true},
		PipelineDeps{
			Content:    NewContentAnalyzer(nil, config.ContentConfig{}, logger.Nop()),
			Dispatcher: dispatcher,
		})
	ctx := context.Background()

	if _, err := p.StartCall(ctx, "call-3", "+14155550123", ""); err != nil {
		t.Fatal(err)
	}
	for seq := 1; seq <= 3; seq++ {
		if err := p.ProcessChunk(ctx, "call-3", models.AudioChunk{Seq: seq, Transcript: scamTranscript}); err != nil {
			t.Fatal(err)
		}
	}

	if dispatcher.count() != 1 {
		t.Errorf("alerts dispatched = %d, want 1 for repeated same-band assessments", dispatcher.count())
	}
}

// slowScorer blocks until its call context is cancelled, then still
// hands back a verdict, mimicking a scorer response landing after the
// call ended
type slowScorer struct {
	started chan struct{}
	result  *neural.ScoreResult
}

func (s *slowScorer) Score(ctx context.Context, audio []byte, textContext string) (*neural.ScoreResult, error) {
	close(s.started)
	<-ctx.Done()
	return s.result, nil
}

func TestPipelineDiscardsLateResults(t *testing.T) {
	scorer := &slowScorer{
		started: make(chan struct{}),
		result:  &neural.ScoreResult{IsSynthetic: true, Confidence: 0.9},
	}
	p := newTestPipeline(t,
		config.DetectorsConfig{DeepfakeEnabled: true},
		PipelineDeps{Ensemble: newTestEnsemble(scorer)})
	ctx := context.Background()

	session, err := p.StartCall(ctx, "call-5", "+14155550123", "")
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.ProcessChunk(ctx, "call-5", models.AudioChunk{Seq: 1, Audio: []byte{0x01}})
	}()

	<-scorer.started
	if err := p.UpdateStatus(ctx, "call-5", models.StatusCanceled); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatalf("in-flight chunk = %v, want silent discard", err)
	}

	if len(session.Results) != 0 {
		t.Errorf("results = %d, want late verdict discarded", len(session.Results))
	}
	if session.Assessment != nil {
		t.Errorf("assessment = %+v, want none from a discarded verdict", session.Assessment)
	}
}

func TestPipelineSnapshotDuringAnalysis(t *testing.T) {
	p := newTestPipeline(t,
		config.DetectorsConfig{ContentEnabled: true},
		PipelineDeps{Content: NewContentAnalyzer(nil, config.ContentConfig{}, logger.Nop())})
	ctx := context.Background()

	if _, err := p.StartCall(ctx, "call-6", "+14155550123", ""); err != nil {
		t.Fatal(err)
	}

	// serve snapshots the way the API does while chunks are in flight
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if live := p.store.Get("call-6"); live != nil {
				if _, err := json.Marshal(live.Snapshot()); err != nil {
					t.Errorf("marshal snapshot: %v", err)
					return
				}
			}
		}
	}()

	for seq := 1; seq <= 20; seq++ {
		if err := p.ProcessChunk(ctx, "call-6", models.AudioChunk{Seq: seq, Transcript: scamTranscript}); err != nil {
			t.Fatal(err)
		}
	}
	close(stop)
	readers.Wait()

	snap := p.store.Get("call-6").Snapshot()
	if len(snap.Results) != 20 {
		t.Errorf("results = %d, want every chunk recorded", len(snap.Results))
	}
	if snap.Assessment == nil {
		t.Error("assessment missing after chunks")
	}
}

func TestPipelineLifecycle(t *testing.T) {
	p := newTestPipeline(t, config.DetectorsConfig{}, PipelineDeps{})
	ctx := context.Background()

	if _, err := p.StartCall(ctx, "", "+14155550123", ""); err == nil {
		t.Error("empty call id must be rejected")
	} else {
		var ve *models.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("error = %v, want ValidationError", err)
		}
	}

	session, err := p.StartCall(ctx, "call-4", "+14155550123", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.StartCall(ctx, "call-4", "+14155550124", ""); err == nil {
		t.Error("duplicate call id must be rejected")
	}

	if err := p.UpdateStatus(ctx, "missing", models.StatusRinging); err == nil {
		t.Error("unknown call must be rejected")
	}

	err = p.UpdateStatus(ctx, "call-4", models.StatusCompleted)
	var ite *models.InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("INITIATED -> COMPLETED error = %v, want InvalidTransitionError", err)
	}

	if err := p.UpdateStatus(ctx, "call-4", models.StatusInProgress); err != nil {
		t.Fatal(err)
	}
	if err := p.AttachRecording("call-4", models.RecordingRef{Ref: "rec-1", DurationSeconds: 12.5}); err != nil {
		t.Fatal(err)
	}
	if err := p.UpdateStatus(ctx, "call-4", models.StatusCompleted); err != nil {
		t.Fatal(err)
	}

	if !session.IsTerminal() || session.Recording == nil {
		t.Error("finished session must be terminal and keep its recording")
	}
	if p.store.Get("call-4") != nil {
		t.Error("finished session must leave the live map")
	}
	if p.store.HistoryCount() != 1 {
		t.Errorf("history count = %d, want 1", p.store.HistoryCount())
	}

	if err := p.ProcessChunk(ctx, "call-4", models.AudioChunk{Seq: 9, Transcript: "hello"}); err == nil {
		t.Error("chunks after the call ended must be rejected")
	}
	if err := p.UpdateStatus(ctx, "call-4", models.StatusFailed); err == nil {
		t.Error("status updates after the call ended must be rejected")
	}
}
