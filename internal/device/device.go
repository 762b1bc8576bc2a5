// Package device defines the audio hardware collaborators the session core
// drives, plus software implementations that let the service run headless.
package device

import (
	"context"
	"errors"

	"github.com/lexiqai/voice-live/internal/audio"
)

// ErrClosed is returned by streams and contexts used after release
var ErrClosed = errors.New("device closed")

// Microphone hands out capture streams
type Microphone interface {
	Acquire(ctx context.Context) (Stream, error)
}

// Stream is an acquired microphone track producing mono samples at the input rate
type Stream interface {
	// Read fills p with the next samples and returns how many were written
	Read(p []float32) (int, error)
	Stop() error
}

// InputDevice opens input processing contexts
type InputDevice interface {
	Open(ctx context.Context, sampleRate int) (InputContext, error)
}

// InputContext hosts the capture processing graph
type InputContext interface {
	// Connect attaches a processor that emits fixed-size blocks read from stream
	Connect(stream Stream, blockSize int) (Processor, error)
	Close(ctx context.Context) error
}

// Processor is the capture node delivering one block per device tick
type Processor interface {
	Blocks() <-chan audio.Block
	Disconnect() error
}

// OutputDevice opens playback contexts
type OutputDevice interface {
	Open(ctx context.Context, sampleRate int) (OutputContext, error)
}

// OutputContext owns the output clock and creates playable sources
type OutputContext interface {
	// Now returns the output clock in seconds
	Now() float64
	CreateSource(chunk audio.Chunk) Source
	Close(ctx context.Context) error
}

// Source is one playable chunk.
// The OnEnded callback fires once, on natural completion or after Stop.
type Source interface {
	Start(at float64)
	Stop()
	OnEnded(fn func())
}
