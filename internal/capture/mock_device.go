package capture

import (
	"context"
	"sync"
	"time"

	"github.com/udhaarlabs/udhaar-core/internal/config"
)

// mockDevice emits silence frames on a ticker. Used in development and tests
// where no microphone is attached.
type mockDevice struct {
	cfg  config.CaptureConfig
	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func NewMockDevice(cfg config.CaptureConfig) Device {
	return &mockDevice{cfg: cfg}
}

func (d *mockDevice) Open(ctx context.Context, deliver func(pcm []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return ErrInvalidState
	}
	frameBytes := d.cfg.SampleRate * d.cfg.Channels * 2 * d.cfg.FrameDurationMS / 1000
	if frameBytes <= 0 {
		frameBytes = 640
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	d.stop = stop
	d.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(time.Duration(d.cfg.FrameDurationMS) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				deliver(make([]byte, frameBytes))
			}
		}
	}()
	return nil
}

func (d *mockDevice) Close() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}
