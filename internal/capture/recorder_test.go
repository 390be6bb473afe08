package capture

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/udhaarlabs/udhaar-core/internal/config"
)

type fakeDevice struct {
	mu       sync.Mutex
	deliver  func(pcm []byte)
	opens    int
	closes   int
	openErr  error
	closeErr error
}

func (d *fakeDevice) Open(_ context.Context, deliver func(pcm []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return d.openErr
	}
	d.opens++
	d.deliver = deliver
	return nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return d.closeErr
}

func (d *fakeDevice) feed(pcm []byte) {
	d.mu.Lock()
	deliver := d.deliver
	d.mu.Unlock()
	if deliver != nil {
		deliver(pcm)
	}
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		Mode:            "mock",
		SampleRate:      16000,
		Channels:        1,
		FrameDurationMS: 20,
		MaxClipSeconds:  1,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStartStopProducesClip(t *testing.T) {
	device := &fakeDevice{}
	rec := New(testCaptureConfig(), device, nil, testLogger())

	if err := rec.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !rec.Recording() {
		t.Fatal("expected recording in progress")
	}

	device.feed(make([]byte, 640))
	device.feed(make([]byte, 640))

	clip, err := rec.Stop("s1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if clip == nil {
		t.Fatal("expected a clip")
	}
	if clip.SessionID != "s1" {
		t.Fatalf("unexpected session id %q", clip.SessionID)
	}
	if len(clip.WAV) == 0 {
		t.Fatal("expected wav payload")
	}
	// 1280 bytes of 16kHz mono s16le is 40ms.
	if clip.Duration != 40*time.Millisecond {
		t.Fatalf("unexpected duration %v", clip.Duration)
	}
	if device.closeCount() != 1 {
		t.Fatalf("expected device released once, got %d", device.closeCount())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	device := &fakeDevice{}
	rec := New(testCaptureConfig(), device, nil, testLogger())

	if err := rec.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	device.feed(make([]byte, 640))

	first, err := rec.Stop("s1")
	if err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if first == nil {
		t.Fatal("expected clip from first stop")
	}

	second, err := rec.Stop("s1")
	if err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if second != nil {
		t.Fatal("second stop must not produce another clip")
	}
	if device.closeCount() != 1 {
		t.Fatalf("device closed %d times, want 1", device.closeCount())
	}
}

func TestStartWhileRecordingFails(t *testing.T) {
	device := &fakeDevice{}
	rec := New(testCaptureConfig(), device, nil, testLogger())

	if err := rec.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := rec.Start(context.Background(), "s2"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if _, err := rec.Stop("s1"); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStartDeviceFailureClearsState(t *testing.T) {
	device := &fakeDevice{openErr: ErrDeviceUnavailable}
	rec := New(testCaptureConfig(), device, nil, testLogger())

	if err := rec.Start(context.Background(), "s1"); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if rec.Recording() {
		t.Fatal("failed start must not leave a recording active")
	}

	device.openErr = nil
	if err := rec.Start(context.Background(), "s2"); err != nil {
		t.Fatalf("start after recovery: %v", err)
	}
}

func TestFramesDroppedAfterStop(t *testing.T) {
	device := &fakeDevice{}
	rec := New(testCaptureConfig(), device, nil, testLogger())

	if err := rec.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	device.feed(make([]byte, 640))
	clip, err := rec.Stop("s1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}

	// Late frames from a slow device must not corrupt the finished clip.
	device.feed(make([]byte, 640))
	if clip.Duration != 20*time.Millisecond {
		t.Fatalf("unexpected duration %v", clip.Duration)
	}
}

func TestMaxClipBound(t *testing.T) {
	cfg := testCaptureConfig()
	device := &fakeDevice{}
	rec := New(cfg, device, nil, testLogger())

	if err := rec.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	oversized := make([]byte, cfg.SampleRate*cfg.Channels*2)
	device.feed(oversized)
	device.feed(oversized) // exceeds the 1 second cap, dropped

	clip, err := rec.Stop("s1")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if clip.Duration != time.Second {
		t.Fatalf("expected clip capped at 1s, got %v", clip.Duration)
	}
}

func TestStopWrongSession(t *testing.T) {
	device := &fakeDevice{}
	rec := New(testCaptureConfig(), device, nil, testLogger())

	if err := rec.Start(context.Background(), "s1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := rec.Stop("other"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}
