package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"callguard/internal/alerts"
	"callguard/internal/config"
	"callguard/internal/domain/models"
	"callguard/internal/metrics"
	"callguard/internal/streaming"
	"callguard/pkg/logger"
)

// callState is the pipeline's per-call working set. Each call has
// exactly one state and one goroutine mutating its session at a time.
type callState struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
	// transcript turns accumulated for classifier context
	conversation []string
	// per-chunk synthetic-voice verdicts for the call aggregate
	chunkVerdicts []models.DeepfakeResult
	// most severe level already alerted on
	alerted models.RiskLevel
}

// Pipeline drives the detection lifecycle of every call: session
// creation, phone verification, per-chunk detector fan-out,
// reassessment, alerting and event emission.
type Pipeline struct {
	detectors config.DetectorsConfig
	alertCfg  config.AlertsConfig
	riskCfg   config.RiskConfig

	store      *SessionStore
	phone      *PhoneReputationChecker
	ensemble   *DeepfakeEnsemble
	content    *ContentAnalyzer
	risk       *RiskEngine
	contextual *ContextEvaluator
	tracker    *FrequencyTracker
	dispatcher alerts.Dispatcher
	bus        *streaming.EventBus
	hub        *streaming.WebSocketHub
	metrics    *metrics.Metrics
	logger     *logger.Logger

	alertThreshold models.RiskLevel

	mu    sync.Mutex
	calls map[string]*callState
}

// PipelineDeps bundles the pipeline's collaborators. Bus, hub,
// dispatcher and metrics are optional.
type PipelineDeps struct {
	Store      *SessionStore
	Phone      *PhoneReputationChecker
	Ensemble   *DeepfakeEnsemble
	Content    *ContentAnalyzer
	Risk       *RiskEngine
	Contextual *ContextEvaluator
	Tracker    *FrequencyTracker
	Dispatcher alerts.Dispatcher
	Bus        *streaming.EventBus
	Hub        *streaming.WebSocketHub
	Metrics    *metrics.Metrics
}

func NewPipeline(detectors config.DetectorsConfig, alertCfg config.AlertsConfig, riskCfg config.RiskConfig, deps PipelineDeps, log *logger.Logger) *Pipeline {
	threshold := models.RiskLevel(alertCfg.Threshold)
	if !threshold.Valid() {
		threshold = models.RiskHigh
	}
	return &Pipeline{
		detectors:      detectors,
		alertCfg:       alertCfg,
		riskCfg:        riskCfg,
		store:          deps.Store,
		phone:          deps.Phone,
		ensemble:       deps.Ensemble,
		content:        deps.Content,
		risk:           deps.Risk,
		contextual:     deps.Contextual,
		tracker:        deps.Tracker,
		dispatcher:     deps.Dispatcher,
		bus:            deps.Bus,
		hub:            deps.Hub,
		metrics:        deps.Metrics,
		logger:         log.WithComponent("pipeline"),
		alertThreshold: threshold,
		calls:          map[string]*callState{},
	}
}

// StartCall creates a session for an incoming call and kicks off the
// phone reputation check
func (p *Pipeline) StartCall(ctx context.Context, callID, from, to string) (*models.CallSession, error) {
	if callID == "" {
		return nil, &models.ValidationError{Field: "call_id", Value: callID, Reason: "empty"}
	}

	session := models.NewCallSession(callID, Normalize(from), Normalize(to))
	if !p.store.Put(session) {
		return nil, fmt.Errorf("call %s already tracked", callID)
	}

	callCtx, cancel := context.WithCancel(context.Background())
	state := &callState{ctx: callCtx, cancel: cancel}
	p.mu.Lock()
	p.calls[callID] = state
	p.mu.Unlock()

	if p.tracker != nil {
		p.tracker.Record(session.From, time.Now())
	}
	if p.metrics != nil {
		p.metrics.SessionsStarted.Inc()
		p.metrics.ActiveSessions.Set(float64(p.store.ActiveCount()))
	}

	p.logger.Info().Str("call_id", callID).Str("from", session.From).Msg("call session started")
	p.emit(streaming.EventTypeSessionStarted, session)

	if p.detectors.PhoneEnabled && p.phone != nil {
		go p.verifyPhone(state, session)
	}

	return session, nil
}

// verifyPhone runs the reputation check and reassesses. Runs once,
// right after session creation.
func (p *Pipeline) verifyPhone(state *callState, session *models.CallSession) {
	record := p.phone.Check(state.ctx, session.From)

	state.mu.Lock()
	defer state.mu.Unlock()
	if session.IsTerminal() {
		return
	}
	session.AttachPhoneVerification(record)
	if record.IsKnownBad && p.metrics != nil {
		p.metrics.DetectionsByKind.WithLabelValues("phone").Inc()
	}
	p.reassessLocked(state, session)
}

// ProcessChunk runs one audio/transcript chunk through the detector
// fan-out and folds the outcome into the session
func (p *Pipeline) ProcessChunk(ctx context.Context, callID string, chunk models.AudioChunk) error {
	session := p.store.Get(callID)
	if session == nil {
		return fmt.Errorf("no live session for call %s", callID)
	}
	state := p.state(callID)
	if state == nil || session.IsTerminal() {
		return fmt.Errorf("call %s already ended", callID)
	}

	state.mu.Lock()
	conversation := append([]string(nil), state.conversation...)
	state.mu.Unlock()

	// Fan out both detectors against the per-call context so results
	// arriving after the call ends are abandoned mid-flight
	var (
		wg          sync.WaitGroup
		deepfakeRes *models.DeepfakeResult
		contentRes  *models.ContentResult
	)

	if p.detectors.DeepfakeEnabled && p.ensemble != nil && chunk.HasSignal() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := p.ensemble.Detect(state.ctx, chunk)
			deepfakeRes = &r
		}()
	}
	if p.detectors.ContentEnabled && p.content != nil && chunk.Transcript != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := p.content.AnalyzeText(state.ctx, chunk.Transcript, conversation)
			contentRes = &r
		}()
	}
	wg.Wait()

	if p.metrics != nil {
		p.metrics.ChunksAnalyzed.Inc()
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	// The call may have ended while the detectors ran
	if session.IsTerminal() {
		p.logger.Debug().Str("call_id", callID).Int("seq", chunk.Seq).Msg("discarding results for ended call")
		return nil
	}

	if chunk.Transcript != "" {
		state.conversation = append(state.conversation, chunk.Transcript)
	}
	if deepfakeRes != nil {
		state.chunkVerdicts = append(state.chunkVerdicts, *deepfakeRes)
		if deepfakeRes.IsSynthetic && p.metrics != nil {
			p.metrics.DetectionsByKind.WithLabelValues("deepfake").Inc()
		}
	}
	if contentRes != nil {
		if contentRes.Level.AtLeast(models.RiskMedium) && p.metrics != nil {
			p.metrics.DetectionsByKind.WithLabelValues("content").Inc()
		}
		if contentRes.Degraded && p.metrics != nil {
			p.metrics.DegradedResults.Inc()
		}
	}

	session.AppendResult(models.AnalysisResult{
		Timestamp: time.Now().UTC(),
		Deepfake:  deepfakeRes,
		Content:   contentRes,
	})

	p.reassessLocked(state, session)
	return nil
}

// reassessLocked recomputes the aggregate verdict. Caller holds
// state.mu.
func (p *Pipeline) reassessLocked(state *callState, session *models.CallSession) {
	deepfake := p.callDeepfake(state)
	content := p.callContent(session)

	var modifiers []models.ContextModifier
	if p.contextual != nil {
		var elapsed time.Duration
		if session.Status == models.StatusInProgress {
			elapsed = session.Duration()
		}
		modifiers = p.contextual.Evaluate(session.From, elapsed)
	}

	assessment := p.risk.Assess(session.PhoneVerification, deepfake, content, modifiers)
	session.SetAssessment(&assessment)

	if p.metrics != nil {
		p.metrics.AssessmentsByLevel.WithLabelValues(string(assessment.Level)).Inc()
	}
	p.logger.Debug().
		Str("call_id", session.CallID).
		Str("level", string(assessment.Level)).
		Float64("score", assessment.Score).
		Msg("reassessed call")

	p.emit(streaming.EventTypeAnalysisComplete, session)

	if assessment.Level.AtLeast(p.alertThreshold) {
		p.emit(streaming.EventTypeScamDetected, session)
		p.maybeAlertLocked(state, session, &assessment)
	}
}

// callDeepfake folds per-chunk verdicts into the call-level verdict
func (p *Pipeline) callDeepfake(state *callState) *models.DeepfakeResult {
	if p.ensemble == nil || len(state.chunkVerdicts) == 0 {
		return nil
	}
	agg := p.ensemble.Aggregate(state.chunkVerdicts)
	return &agg
}

// callContent picks the content verdict feeding the aggregate: the
// latest round by default, the most severe round when fold_history is
// on
func (p *Pipeline) callContent(session *models.CallSession) *models.ContentResult {
	if !p.riskCfg.FoldHistory {
		if latest := session.LatestResult(); latest != nil {
			return latest.Content
		}
		return nil
	}

	var worst *models.ContentResult
	for i := range session.Results {
		c := session.Results[i].Content
		if c == nil {
			continue
		}
		if worst == nil || c.Level.Max(worst.Level) == c.Level {
			worst = c
		}
	}
	return worst
}

// maybeAlertLocked dispatches a warning once per severity band;
// repeat assessments at the same level stay quiet
func (p *Pipeline) maybeAlertLocked(state *callState, session *models.CallSession, assessment *models.RiskAssessment) {
	if p.dispatcher == nil {
		return
	}
	if state.alerted != "" && !p.higherThan(assessment.Level, state.alerted) {
		return
	}

	alert, err := p.dispatcher.Dispatch(state.ctx, session.CallID, assessment, p.alertCfg.Language)
	if err != nil {
		p.logger.Error().Err(err).Str("call_id", session.CallID).Msg("alert dispatch failed")
	}
	state.alerted = assessment.Level
	session.RecordAlert(alert)

	if p.metrics != nil {
		p.metrics.AlertsDispatched.Inc()
	}
	p.emit(streaming.EventTypeAlertDispatched, session)
}

func (p *Pipeline) higherThan(a, b models.RiskLevel) bool {
	return a.Max(b) == a && a != b
}

// UpdateStatus applies a lifecycle transition reported by telephony
func (p *Pipeline) UpdateStatus(ctx context.Context, callID string, status models.CallStatus) error {
	session := p.store.Get(callID)
	if session == nil {
		return fmt.Errorf("no live session for call %s", callID)
	}
	state := p.state(callID)
	if state == nil {
		return fmt.Errorf("call %s already ended", callID)
	}

	state.mu.Lock()
	err := session.Transition(status)
	terminal := session.IsTerminal()
	state.mu.Unlock()
	if err != nil {
		return err
	}

	if terminal {
		p.finish(ctx, callID, state, session)
	}
	return nil
}

// AttachRecording stores the recording reference for a call
func (p *Pipeline) AttachRecording(callID string, ref models.RecordingRef) error {
	session := p.store.Get(callID)
	state := p.state(callID)
	if session == nil || state == nil {
		return fmt.Errorf("no live session for call %s", callID)
	}
	state.mu.Lock()
	session.SetRecording(ref)
	state.mu.Unlock()
	return nil
}

// finish tears the call down: cancels in-flight detector work,
// retires the session and emits the final event
func (p *Pipeline) finish(ctx context.Context, callID string, state *callState, session *models.CallSession) {
	state.cancel()

	p.mu.Lock()
	delete(p.calls, callID)
	p.mu.Unlock()

	p.store.Retire(ctx, callID)

	if p.metrics != nil {
		p.metrics.SessionsEnded.Inc()
		p.metrics.ActiveSessions.Set(float64(p.store.ActiveCount()))
	}

	level := models.RiskSafe
	if session.Assessment != nil {
		level = session.Assessment.Level
	}
	p.logger.Info().
		Str("call_id", callID).
		Str("status", string(session.Status)).
		Str("level", string(level)).
		Dur("duration", session.Duration()).
		Msg("call session ended")

	p.emit(streaming.EventTypeSessionEnded, session)
}

// Shutdown cancels every live call's in-flight work
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, state := range p.calls {
		state.cancel()
	}
}

func (p *Pipeline) state(callID string) *callState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[callID]
}

func (p *Pipeline) emit(eventType streaming.EventType, session *models.CallSession) {
	event := streaming.NewCallEvent(eventType, session.Snapshot())
	if p.bus != nil {
		// bus publishing never blocks the pipeline
		_ = p.bus.Publish(context.Background(), event)
	}
	if p.hub != nil {
		p.hub.BroadcastEvent(event)
	}
}
