package protocol

import "time"

// AudioFrame represents PCM audio streamed from the capture device.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// Transcript is the on-device recognizer's advisory output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// LoanIntent is the structured result of understanding a voice note. The
// local recognizer fills only Transcript and Confidence; the remote extractor
// fills the rest. Structured fields are pointers: nil means not spoken.
type LoanIntent struct {
	BorrowerName  *string    `json:"borrower_name"`
	BorrowerPhone *string    `json:"borrower_phone"`
	Amount        *float64   `json:"amount"`
	Purpose       *string    `json:"purpose"`
	DueDate       *time.Time `json:"due_date"`
	Confidence    float64    `json:"confidence"`
	Transcript    string     `json:"transcript"`
}

// FallbackTranscript is shown when the remote extractor could not analyze the
// clip. Capture succeeded even if understanding did not.
const FallbackTranscript = "Could not analyze the voice note. Please enter the details manually."

// FallbackIntent is the intent applied when extraction fails or times out.
func FallbackIntent() LoanIntent {
	return LoanIntent{Confidence: 0, Transcript: FallbackTranscript}
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectTranscriptLocal  = "asr.text.local"
)
