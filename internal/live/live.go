// Package live is the client side of the bidirectional streaming voice protocol.
package live

import (
	"context"
	"errors"

	"github.com/lexiqai/voice-live/internal/audio"
)

// ErrConnClosed is returned by Send after the connection is closed
var ErrConnClosed = errors.New("live connection closed")

// Kind classifies an inbound message
type Kind int

const (
	KindOutputTranscription Kind = iota // Assistant speech text delta
	KindInputTranscription              // User speech text delta
	KindTurnComplete                    // End of the current conversational turn
	KindAudio                           // Base64 PCM for playback
	KindInterrupted                     // Remote side cut off its own speech
	KindError                           // Transport failure; no further messages
	KindClosed                          // Remote closed the session; no further messages
)

func (k Kind) String() string {
	switch k {
	case KindOutputTranscription:
		return "output_transcription"
	case KindInputTranscription:
		return "input_transcription"
	case KindTurnComplete:
		return "turn_complete"
	case KindAudio:
		return "audio"
	case KindInterrupted:
		return "interrupted"
	case KindError:
		return "error"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Message is one ordered event from the remote service
type Message struct {
	Kind     Kind
	Text     string // transcription delta
	Audio    string // base64 PCM payload
	MIMEType string
	Err      error
}

// Config selects the model behaviour for a session
type Config struct {
	Model             string
	Voice             string
	SystemInstruction string
}

// Dialer opens connections to the remote service
type Dialer interface {
	Open(ctx context.Context, cfg Config) (Conn, error)
}

// Conn is an open session with the remote service
type Conn interface {
	Send(frame audio.Frame) error
	// Messages delivers inbound events in arrival order. The channel is
	// closed after a KindError or KindClosed message, or after Close.
	Messages() <-chan Message
	Close() error
}
