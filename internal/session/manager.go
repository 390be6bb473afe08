package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/udhaarlabs/udhaar-core/internal/capture"
	"github.com/udhaarlabs/udhaar-core/internal/config"
	"github.com/udhaarlabs/udhaar-core/internal/journal"
	"github.com/udhaarlabs/udhaar-core/internal/ledger"
	"github.com/udhaarlabs/udhaar-core/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ErrSessionNotFound reports an unknown session ID.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoPendingPrompt reports a phone submission without a pending analysis
// request to attach it to.
var ErrNoPendingPrompt = errors.New("no pending analysis request")

// AudioRecorder is the capture surface the manager drives.
type AudioRecorder interface {
	Start(ctx context.Context, sessionID string) error
	Stop(sessionID string) (*capture.Clip, error)
}

// IntentExtractor uploads a finished clip for structured extraction.
type IntentExtractor interface {
	Extract(ctx context.Context, clip capture.Clip) (protocol.LoanIntent, error)
}

// LendSubmitter commits a loan record.
type LendSubmitter interface {
	Submit(ctx context.Context, req ledger.LendRequest) error
}

// AnalysisRequester requests a lending risk analysis.
type AnalysisRequester interface {
	Request(ctx context.Context, req ledger.AnalysisRequest) (json.RawMessage, error)
}

// Manager owns every VoiceSession and sequences the capture, extraction and
// downstream steps. All mutation happens under one lock; async results are
// applied through applyIntent, which discards them when the session is no
// longer live.
type Manager struct {
	cfg            config.SessionConfig
	extractTimeout time.Duration
	recorder       AudioRecorder
	extractor      IntentExtractor
	lender         LendSubmitter
	analyzer       AnalysisRequester
	journal        *journal.Store
	log            *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*VoiceSession
	activeID string

	sessionsStarted  metric.Int64Counter
	lendsSubmitted   metric.Int64Counter
	analysesSent     metric.Int64Counter
	extractFallbacks metric.Int64Counter
}

func NewManager(parent context.Context, cfg config.SessionConfig, extractorCfg config.ExtractorConfig, recorder AudioRecorder, extractor IntentExtractor, lender LendSubmitter, analyzer AnalysisRequester, store *journal.Store, log *slog.Logger) *Manager {
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		cfg:            cfg,
		extractTimeout: time.Duration(extractorCfg.TimeoutMS) * time.Millisecond,
		recorder:       recorder,
		extractor:      extractor,
		lender:         lender,
		analyzer:       analyzer,
		journal:        store,
		log:            log.With(slog.String("component", "session-manager")),
		ctx:            ctx,
		cancel:         cancel,
		sessions:       make(map[string]*VoiceSession),
	}
	m.initMetrics()
	return m
}

func (m *Manager) initMetrics() {
	meter := otel.Meter("github.com/udhaarlabs/udhaar-core/session")
	var err error
	if m.sessionsStarted, err = meter.Int64Counter("udhaar.sessions.started", metric.WithDescription("Capture sessions started")); err != nil {
		m.log.Warn("failed to initialize metrics", slogError(err))
		return
	}
	if m.lendsSubmitted, err = meter.Int64Counter("udhaar.lends.submitted", metric.WithDescription("Auto-lend submissions")); err != nil {
		m.log.Warn("failed to initialize metrics", slogError(err))
		return
	}
	if m.analysesSent, err = meter.Int64Counter("udhaar.analyses.requested", metric.WithDescription("Risk analysis requests")); err != nil {
		m.log.Warn("failed to initialize metrics", slogError(err))
		return
	}
	if m.extractFallbacks, err = meter.Int64Counter("udhaar.extractions.fallback", metric.WithDescription("Extractions absorbed into the fallback intent")); err != nil {
		m.log.Warn("failed to initialize metrics", slogError(err))
	}
}

// Close waits for in-flight downstream actions to finish.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// Start begins a new capture session. Any currently active session is
// abandoned first, releasing its device; its in-flight results will be
// discarded when they arrive.
func (m *Manager) Start(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	var priorID string
	var priorRecording bool
	var priorSnap Snapshot
	if m.activeID != "" {
		prior := m.sessions[m.activeID]
		prior.abandoned = true
		priorID = prior.ID
		priorRecording = prior.State == StateRecording
		switch prior.State {
		case StateRecording, StateAnalyzing:
			prior.State = StateAbandoned
		}
		priorSnap = prior.snapshot()
		m.activeID = ""
	}
	// Sessions survive one capture cycle: the most recent stays visible for
	// the dashboard, everything older is evicted.
	keep := priorID
	if keep == "" {
		var latest time.Time
		for id, s := range m.sessions {
			if s.CreatedAt.After(latest) {
				latest = s.CreatedAt
				keep = id
			}
		}
	}
	for id := range m.sessions {
		if id != keep {
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	if priorRecording {
		if _, err := m.recorder.Stop(priorID); err != nil {
			m.log.Warn("failed to release device of abandoned session", slogError(err))
		}
	}
	if priorID != "" {
		m.log.Info("abandoned previous session", slog.String("session_id", priorID))
		m.persist(priorSnap)
	}

	sess := &VoiceSession{
		ID:        uuid.NewString(),
		State:     StateIdle,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.recorder.Start(ctx, sess.ID); err != nil {
		// DeviceUnavailable or InvalidState: surfaced, no state change.
		return Snapshot{}, err
	}

	m.mu.Lock()
	sess.State = StateRecording
	m.sessions[sess.ID] = sess
	m.activeID = sess.ID
	snap := sess.snapshot()
	m.mu.Unlock()

	if m.sessionsStarted != nil {
		m.sessionsStarted.Add(ctx, 1)
	}
	m.record(sess.ID, "session_started", nil)
	m.persist(snap)
	return snap, nil
}

// Stop ends the recording, releases the device and hands the clip to the
// extractor. Calling it again once the session has left Recording is a no-op.
func (m *Manager) Stop(ctx context.Context, id string) (Snapshot, error) {
	m.mu.Lock()
	sess := m.sessions[id]
	if sess == nil {
		m.mu.Unlock()
		return Snapshot{}, ErrSessionNotFound
	}
	if sess.State != StateRecording {
		snap := sess.snapshot()
		m.mu.Unlock()
		return snap, nil
	}
	m.mu.Unlock()

	clip, err := m.recorder.Stop(id)

	m.mu.Lock()
	if err != nil {
		sess.State = StateFailed
		sess.Notices = append(sess.Notices, Notice{Level: "error", Message: "Recording failed: " + err.Error(), At: time.Now().UTC()})
		snap := sess.snapshot()
		m.mu.Unlock()
		m.record(id, "capture_failed", []byte(err.Error()))
		m.persist(snap)
		return snap, err
	}
	if clip == nil {
		// Raced with another stop; the first one owns the clip.
		snap := sess.snapshot()
		m.mu.Unlock()
		return snap, nil
	}
	// The clip travels to the extractor by value; only its duration is kept
	// on the session. Captured is journaled and passed through immediately:
	// a finished clip is always submitted for analysis.
	sess.ClipDuration = clip.Duration
	sess.State = StateCaptured
	captured := sess.snapshot()
	sess.State = StateAnalyzing
	snap := sess.snapshot()
	m.mu.Unlock()

	m.record(id, "clip_captured", []byte(StateCaptured))
	m.persist(captured)
	m.persist(snap)

	m.wg.Add(1)
	go m.analyze(*clip)
	return snap, nil
}

// analyze uploads the clip and applies the result. Failures and timeouts are
// absorbed into the fallback intent; the session never hard-fails here.
func (m *Manager) analyze(clip capture.Clip) {
	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(m.ctx, m.extractTimeout)
	defer cancel()

	intent, err := m.extractor.Extract(ctx, clip)
	if err != nil {
		m.log.Warn("extraction failed, using fallback intent",
			slog.String("session_id", clip.SessionID), slogError(err))
		if m.extractFallbacks != nil {
			m.extractFallbacks.Add(m.ctx, 1)
		}
		intent = protocol.FallbackIntent()
	}
	m.applyIntent(clip.SessionID, intent, true)
}

// HandleLocalTranscript applies an advisory transcript from the on-device
// recognizer to the session's intent slot.
func (m *Manager) HandleLocalTranscript(t protocol.Transcript) {
	m.applyIntent(t.SessionID, protocol.LoanIntent{
		Transcript: t.Text,
		Confidence: t.Confidence,
	}, false)
}

// applyIntent writes into the session's single intent slot and re-evaluates
// downstream eligibility. Results for sessions that are no longer live are
// discarded: there is no cancellation, only abandonment.
func (m *Manager) applyIntent(id string, intent protocol.LoanIntent, authoritative bool) {
	m.mu.Lock()
	sess := m.sessions[id]
	if sess == nil || sess.abandoned || m.activeID != id {
		m.mu.Unlock()
		m.log.Debug("discarding result for stale session", slog.String("session_id", id))
		return
	}

	merged := m.merge(sess.Intent, intent)
	sess.Intent = &merged

	if authoritative && sess.State == StateAnalyzing {
		sess.State = StateAnalyzed
	}
	switch sess.State {
	case StateAnalyzed, StateAwaitingPhone, StateComplete:
		m.evaluateLocked(sess)
	}
	snap := sess.snapshot()
	m.mu.Unlock()

	kind := "local_transcript"
	if authoritative {
		kind = "intent_extracted"
	}
	if payload, err := json.Marshal(merged); err == nil {
		m.record(id, kind, payload)
	}
	m.persist(snap)
}

// merge applies the configured policy. The default replicates the source
// behavior: a later-arriving result replaces the earlier one wholesale.
func (m *Manager) merge(current *protocol.LoanIntent, incoming protocol.LoanIntent) protocol.LoanIntent {
	if current == nil || m.cfg.MergePolicy != "prefer_filled" {
		return incoming
	}
	high, low := *current, incoming
	if incoming.Confidence >= current.Confidence {
		high, low = incoming, *current
	}
	merged := high
	if merged.BorrowerName == nil {
		merged.BorrowerName = low.BorrowerName
	}
	if merged.BorrowerPhone == nil {
		merged.BorrowerPhone = low.BorrowerPhone
	}
	if merged.Amount == nil {
		merged.Amount = low.Amount
	}
	if merged.Purpose == nil {
		merged.Purpose = low.Purpose
	}
	if merged.DueDate == nil {
		merged.DueDate = low.DueDate
	}
	if merged.Transcript == "" {
		merged.Transcript = low.Transcript
	}
	return merged
}

// evaluateLocked runs the two independent eligibility predicates. Auto-lend
// fires at most once per session regardless of how many times the intent
// slot is rewritten.
func (m *Manager) evaluateLocked(sess *VoiceSession) {
	intent := sess.Intent
	if intent != nil && intent.BorrowerName != nil && intent.Amount != nil {
		if !sess.lendSubmitted {
			sess.lendSubmitted = true
			req := buildLendRequest(intent)
			m.wg.Add(1)
			go m.submitLend(sess.ID, req)
		}
		if !sess.analysisRequested && sess.Pending == nil {
			if intent.BorrowerPhone != nil {
				sess.analysisRequested = true
				req := ledger.AnalysisRequest{BorrowerPhone: *intent.BorrowerPhone, Amount: *intent.Amount}
				m.wg.Add(1)
				go m.requestAnalysis(sess.ID, req)
			} else {
				sess.Pending = &PendingAnalysisRequest{BorrowerName: *intent.BorrowerName, Amount: *intent.Amount}
			}
		}
	}

	switch {
	case sess.Pending != nil:
		sess.State = StateAwaitingPhone
	case sess.lendSubmitted || sess.analysisRequested:
		sess.State = StateComplete
	default:
		sess.State = StateAnalyzed
	}
}

func buildLendRequest(intent *protocol.LoanIntent) ledger.LendRequest {
	req := ledger.LendRequest{
		BorrowerName: *intent.BorrowerName,
		Amount:       *intent.Amount,
		// Phone defaults to empty when extraction did not supply it.
		BorrowerPhone: "",
		Description:   intent.Transcript,
	}
	if intent.BorrowerPhone != nil {
		req.BorrowerPhone = *intent.BorrowerPhone
	}
	if intent.Purpose != nil {
		req.Description = *intent.Purpose
	}
	if intent.DueDate != nil {
		req.DueDate = intent.DueDate.Format("2006-01-02")
	}
	snapshot := *intent
	req.VoiceAnalysis = &snapshot
	return req
}

func (m *Manager) submitLend(id string, req ledger.LendRequest) {
	defer m.wg.Done()
	err := m.lender.Submit(m.ctx, req)

	m.mu.Lock()
	sess := m.sessions[id]
	if sess != nil {
		if err != nil {
			sess.Notices = append(sess.Notices, Notice{Level: "error", Message: "Could not record the loan: " + err.Error(), At: time.Now().UTC()})
		} else {
			sess.Notices = append(sess.Notices, Notice{Level: "info", Message: fmt.Sprintf("Loan of %.0f to %s recorded", req.Amount, req.BorrowerName), At: time.Now().UTC()})
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.record(id, "lend_failed", []byte(err.Error()))
		return
	}
	if m.lendsSubmitted != nil {
		m.lendsSubmitted.Add(m.ctx, 1)
	}
	m.record(id, "lend_recorded", nil)
}

func (m *Manager) requestAnalysis(id string, req ledger.AnalysisRequest) {
	defer m.wg.Done()
	payload, err := m.analyzer.Request(m.ctx, req)

	m.mu.Lock()
	sess := m.sessions[id]
	if sess != nil {
		if err != nil {
			sess.Notices = append(sess.Notices, Notice{Level: "error", Message: "Risk analysis failed: " + err.Error(), At: time.Now().UTC()})
		} else {
			sess.analysisResult = payload
			sess.Notices = append(sess.Notices, Notice{Level: "info", Message: "Risk analysis ready", At: time.Now().UTC()})
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.record(id, "analysis_failed", []byte(err.Error()))
		return
	}
	if m.analysesSent != nil {
		m.analysesSent.Add(m.ctx, 1)
	}
	m.record(id, "analysis_received", payload)
}

// ProvidePhone resolves the pending analysis request with the phone number
// collected from the user.
func (m *Manager) ProvidePhone(ctx context.Context, id, phone string) (Snapshot, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return Snapshot{}, errors.New("phone must not be empty")
	}

	m.mu.Lock()
	sess := m.sessions[id]
	if sess == nil {
		m.mu.Unlock()
		return Snapshot{}, ErrSessionNotFound
	}
	if sess.Pending == nil {
		snap := sess.snapshot()
		m.mu.Unlock()
		return snap, ErrNoPendingPrompt
	}
	pending := *sess.Pending
	sess.Pending = nil
	sess.analysisRequested = true
	if sess.Intent != nil && sess.Intent.BorrowerPhone == nil {
		p := phone
		sess.Intent.BorrowerPhone = &p
	}
	m.evaluateLocked(sess)
	snap := sess.snapshot()
	m.mu.Unlock()

	m.record(id, "phone_provided", nil)
	m.persist(snap)

	m.wg.Add(1)
	go m.requestAnalysis(id, ledger.AnalysisRequest{BorrowerPhone: phone, Amount: pending.Amount})
	return snap, nil
}

// Cancel abandons the session without side effects: the device is released
// if still held and any pending prompt is discarded.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	sess := m.sessions[id]
	if sess == nil {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	wasRecording := sess.State == StateRecording
	sess.abandoned = true
	sess.Pending = nil
	switch sess.State {
	case StateRecording, StateAnalyzing:
		sess.State = StateAbandoned
	case StateAwaitingPhone:
		if sess.lendSubmitted || sess.analysisRequested {
			sess.State = StateComplete
		} else {
			sess.State = StateAnalyzed
		}
	}
	if m.activeID == id {
		m.activeID = ""
	}
	snap := sess.snapshot()
	m.mu.Unlock()

	if wasRecording {
		if _, err := m.recorder.Stop(id); err != nil {
			m.log.Warn("failed to release device on cancel", slogError(err))
		}
	}
	m.record(id, "session_cancelled", nil)
	m.persist(snap)
	return nil
}

// Snapshot returns the current view of a session.
func (m *Manager) Snapshot(id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.sessions[id]
	if sess == nil {
		return Snapshot{}, ErrSessionNotFound
	}
	return sess.snapshot(), nil
}

func (m *Manager) record(id, eventType string, payload []byte) {
	if m.journal == nil {
		return
	}
	if err := m.journal.AppendEvent(m.ctx, journal.Event{SessionID: id, Type: eventType, Payload: payload}); err != nil {
		m.log.Warn("failed to journal event", slogError(err))
	}
}

func (m *Manager) persist(snap Snapshot) {
	if m.journal == nil {
		return
	}
	if err := m.journal.AppendSession(m.ctx, snap.ID, string(snap.State)); err != nil {
		m.log.Warn("failed to journal session", slogError(err))
		return
	}
	if err := m.journal.UpdateSession(m.ctx, snap.ID, string(snap.State), snap.Transcript, snap.Confidence); err != nil {
		m.log.Warn("failed to journal session state", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
