package capture

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/udhaarlabs/udhaar-core/internal/bus"
	"github.com/udhaarlabs/udhaar-core/internal/config"
	"github.com/udhaarlabs/udhaar-core/internal/protocol"
)

// Clip is the immutable product of one start/stop pair. Ownership passes to
// the session until it is handed to the extractor.
type Clip struct {
	SessionID  string
	SampleRate int
	Channels   int
	WAV        []byte
	Duration   time.Duration
}

// Recorder owns the capture device. At most one recording is active at a
// time; Start while recording is a caller error and Stop is idempotent.
type Recorder struct {
	cfg    config.CaptureConfig
	device Device
	bus    *bus.Client
	log    *slog.Logger

	mu     sync.Mutex
	active *recording
}

type recording struct {
	sessionID string
	sequence  int
	pcm       []byte
	maxBytes  int
	started   time.Time
}

// New builds a recorder around the given device. busClient may be nil when
// running without a bus; frames are then buffered only.
func New(cfg config.CaptureConfig, device Device, busClient *bus.Client, log *slog.Logger) *Recorder {
	return &Recorder{
		cfg:    cfg,
		device: device,
		bus:    busClient,
		log:    log.With(slog.String("component", "capture")),
	}
}

// Start acquires the device exclusively for sessionID.
func (r *Recorder) Start(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: recording already in progress", ErrInvalidState)
	}
	rec := &recording{
		sessionID: sessionID,
		maxBytes:  r.cfg.SampleRate * r.cfg.Channels * 2 * r.cfg.MaxClipSeconds,
		started:   time.Now(),
	}
	r.active = rec
	r.mu.Unlock()

	if err := r.device.Open(ctx, func(pcm []byte) { r.handleFrame(rec, pcm) }); err != nil {
		r.mu.Lock()
		r.active = nil
		r.mu.Unlock()
		return err
	}
	r.log.Info("recording started", slog.String("session_id", sessionID))
	return nil
}

// Stop releases the device and yields the clip. Calling it again after the
// recording has ended is a no-op returning (nil, nil).
func (r *Recorder) Stop(sessionID string) (*Clip, error) {
	r.mu.Lock()
	rec := r.active
	if rec == nil {
		r.mu.Unlock()
		return nil, nil
	}
	if rec.sessionID != sessionID {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: recording belongs to another session", ErrInvalidState)
	}
	r.active = nil
	pcm := rec.pcm
	r.mu.Unlock()

	// Release the device before anything else; encoding failures must not
	// leave the microphone held.
	if err := r.device.Close(); err != nil {
		return nil, fmt.Errorf("release device: %w", err)
	}
	r.publishFrame(rec.sessionID, rec.sequence, nil, true)

	wavBytes, err := encodeWAV(pcm, r.cfg.SampleRate, r.cfg.Channels)
	if err != nil {
		return nil, fmt.Errorf("encode clip: %w", err)
	}

	bytesPerSecond := r.cfg.SampleRate * r.cfg.Channels * 2
	duration := time.Duration(0)
	if bytesPerSecond > 0 {
		duration = time.Duration(len(pcm)) * time.Second / time.Duration(bytesPerSecond)
	}

	r.log.Info("recording stopped",
		slog.String("session_id", sessionID),
		slog.Duration("duration", duration))

	return &Clip{
		SessionID:  rec.sessionID,
		SampleRate: r.cfg.SampleRate,
		Channels:   r.cfg.Channels,
		WAV:        wavBytes,
		Duration:   duration,
	}, nil
}

// Recording reports whether a recording is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *Recorder) handleFrame(rec *recording, pcm []byte) {
	r.mu.Lock()
	if r.active != rec {
		// Frame delivered after stop; the device is already released.
		r.mu.Unlock()
		return
	}
	if rec.maxBytes > 0 && len(rec.pcm)+len(pcm) > rec.maxBytes {
		r.mu.Unlock()
		return
	}
	rec.pcm = append(rec.pcm, pcm...)
	sequence := rec.sequence
	rec.sequence++
	r.mu.Unlock()

	r.publishFrame(rec.sessionID, sequence, pcm, false)
}

func (r *Recorder) publishFrame(sessionID string, sequence int, pcm []byte, final bool) {
	if r.bus == nil {
		return
	}
	frame := protocol.AudioFrame{
		SessionID:  sessionID,
		Sequence:   sequence,
		SampleRate: r.cfg.SampleRate,
		Channels:   r.cfg.Channels,
		PCM:        pcm,
		Final:      final,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		r.log.Warn("failed to marshal audio frame", slogError(err))
		return
	}
	subject := fmt.Sprintf("%s.%s", protocol.SubjectAudioFramePrefix, sessionID)
	if err := r.bus.Conn().Publish(subject, data); err != nil {
		r.log.Warn("failed to publish audio frame", slogError(err))
	}
}

func encodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("pcm payload not aligned")
	}
	file, err := os.CreateTemp(os.TempDir(), "udhaar_clip_*.wav")
	if err != nil {
		return nil, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}

	return os.ReadFile(file.Name())
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
