package session

import (
	"encoding/json"
	"time"

	"github.com/udhaarlabs/udhaar-core/internal/protocol"
)

// State is the lifecycle position of a capture session. Reaching Analyzed is
// terminal for the capture machine; AwaitingPhone and Complete are analysis
// sub-flow outcomes layered on top. Failed is reserved for capture-level
// errors only; Abandoned marks a session displaced by a newer capture or
// cancelled mid-flight.
type State string

const (
	StateIdle          State = "idle"
	StateRecording     State = "recording"
	StateCaptured      State = "captured"
	StateAnalyzing     State = "analyzing"
	StateAnalyzed      State = "analyzed"
	StateAwaitingPhone State = "awaiting_phone"
	StateComplete      State = "complete"
	StateFailed        State = "failed"
	StateAbandoned     State = "abandoned"
)

// PendingAnalysisRequest holds the fields awaiting a phone number from the
// user. Created when risk analysis is eligible but extraction supplied no
// phone; destroyed on submit or cancel.
type PendingAnalysisRequest struct {
	BorrowerName string  `json:"borrower_name"`
	Amount       float64 `json:"amount"`
}

// Notice is a user-visible, non-fatal message from a downstream action.
type Notice struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// VoiceSession is one capture attempt. It is owned and mutated exclusively
// by the Manager; at most one session is active at a time.
type VoiceSession struct {
	ID        string
	State     State
	CreatedAt time.Time
	// ClipDuration is the only clip metadata retained; the PCM itself is
	// handed to the extractor and released.
	ClipDuration time.Duration
	Intent       *protocol.LoanIntent
	Pending      *PendingAnalysisRequest
	Notices      []Notice

	analysisResult    json.RawMessage
	lendSubmitted     bool
	analysisRequested bool
	abandoned         bool
}

// Snapshot is the read-only view served to the frontend.
type Snapshot struct {
	ID                string                  `json:"id"`
	State             State                   `json:"state"`
	CreatedAt         time.Time               `json:"created_at"`
	ClipMS            int64                   `json:"clip_ms,omitempty"`
	Transcript        string                  `json:"transcript,omitempty"`
	Confidence        float64                 `json:"confidence"`
	Intent            *protocol.LoanIntent    `json:"intent,omitempty"`
	PendingPrompt     *PendingAnalysisRequest `json:"pending_prompt,omitempty"`
	Notices           []Notice                `json:"notices,omitempty"`
	LendSubmitted     bool                    `json:"lend_submitted"`
	AnalysisRequested bool                    `json:"analysis_requested"`
	AnalysisResult    json.RawMessage         `json:"analysis_result,omitempty"`
}

func (s *VoiceSession) snapshot() Snapshot {
	snap := Snapshot{
		ID:                s.ID,
		State:             s.State,
		CreatedAt:         s.CreatedAt,
		ClipMS:            s.ClipDuration.Milliseconds(),
		LendSubmitted:     s.lendSubmitted,
		AnalysisRequested: s.analysisRequested,
		AnalysisResult:    s.analysisResult,
	}
	if s.Intent != nil {
		intent := *s.Intent
		snap.Intent = &intent
		snap.Transcript = intent.Transcript
		snap.Confidence = intent.Confidence
	}
	if s.Pending != nil {
		pending := *s.Pending
		snap.PendingPrompt = &pending
	}
	if len(s.Notices) > 0 {
		snap.Notices = append([]Notice(nil), s.Notices...)
	}
	return snap
}
