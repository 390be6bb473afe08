package capture

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"

	shellwords "github.com/mattn/go-shellwords"
	"github.com/udhaarlabs/udhaar-core/internal/config"
)

// execDevice shells out to a capture command (arecord, sox, rec) and reads
// raw PCM from its stdout. The command holds the device for the lifetime of
// the recording; killing it releases the device.
type execDevice struct {
	cmd []string
	cfg config.CaptureConfig

	mu      sync.Mutex
	process *exec.Cmd
	done    chan struct{}
}

func NewExecDevice(cfg config.CaptureConfig) (Device, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse capture command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("capture command is empty")
	}
	return &execDevice{cmd: args, cfg: cfg}, nil
}

func (d *execDevice) Open(ctx context.Context, deliver func(pcm []byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.process != nil {
		return ErrInvalidState
	}

	args := append([]string{}, d.cmd...)
	command := exec.Command(args[0], args[1:]...)
	stdout, err := command.StdoutPipe()
	if err != nil {
		return fmt.Errorf("capture stdout: %w", err)
	}
	if err := command.Start(); err != nil {
		return fmt.Errorf("%w: start capture command: %v", ErrDeviceUnavailable, err)
	}

	frameBytes := d.cfg.SampleRate * d.cfg.Channels * 2 * d.cfg.FrameDurationMS / 1000
	if frameBytes <= 0 {
		frameBytes = 640
	}

	done := make(chan struct{})
	d.process = command
	d.done = done

	go func() {
		defer close(done)
		buf := make([]byte, frameBytes)
		for {
			n, err := io.ReadFull(stdout, buf)
			if n > 0 {
				frame := make([]byte, n)
				copy(frame, buf[:n])
				deliver(frame)
			}
			if err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
	}()
	return nil
}

func (d *execDevice) Close() error {
	d.mu.Lock()
	process, done := d.process, d.done
	d.process, d.done = nil, nil
	d.mu.Unlock()
	if process == nil {
		return nil
	}
	if process.Process != nil {
		_ = process.Process.Kill()
	}
	_ = process.Wait()
	if done != nil {
		<-done
	}
	return nil
}
