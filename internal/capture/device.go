package capture

import (
	"context"
	"errors"
)

// ErrDeviceUnavailable reports that the platform denied microphone access or
// no input device exists.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// ErrInvalidState reports caller misuse, e.g. starting a recording while one
// is already in progress.
var ErrInvalidState = errors.New("invalid capture state")

// Device is an exclusive PCM audio source. Open acquires the device and
// delivers little-endian 16-bit PCM frames until Close. Close is idempotent
// and must release the device on every path.
type Device interface {
	Open(ctx context.Context, deliver func(pcm []byte)) error
	Close() error
}
