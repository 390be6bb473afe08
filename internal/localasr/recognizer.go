package localasr

import (
	"context"
)

// AdvisoryConfidence is attached to every local transcript. On-device
// recognition is best-effort; the remote extractor's result outranks it.
const AdvisoryConfidence = 0.5

// TranscriptResult captures recognizer output.
type TranscriptResult struct {
	Text string
}

// Recognizer abstracts on-device speech-to-text backends.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (TranscriptResult, error)
}
