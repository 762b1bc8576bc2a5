// Package capture encodes microphone blocks into wire frames for the transport.
package capture

import (
	"sync"
	"sync/atomic"

	"github.com/lexiqai/voice-live/internal/audio"
	"github.com/lexiqai/voice-live/internal/device"
	"github.com/rs/zerolog"
)

// Config holds pipeline settings
type Config struct {
	QueueSize int // Encoded frames waiting for send
	VAD       *audio.VADConfig
}

// Recorder receives capture metrics; *observability.Metrics implements it
type Recorder interface {
	RecordAudioBytes(direction string, bytes int64)
	RecordFrameDropped(reason string)
	RecordSpeechStart()
	RecordSpeechEnd()
}

// Pipeline reads blocks from a capture processor, encodes them and queues
// the frames without ever waiting on the consumer.
type Pipeline struct {
	proc    device.Processor
	frames  chan audio.Frame
	vad     *audio.VADDetector
	metrics Recorder
	logger  zerolog.Logger

	sent    atomic.Int64
	dropped atomic.Int64

	startOnce sync.Once
	done      chan struct{}
}

// NewPipeline creates a pipeline for proc. Metrics may be nil.
func NewPipeline(proc device.Processor, cfg Config, metrics Recorder, logger zerolog.Logger) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	return &Pipeline{
		proc:    proc,
		frames:  make(chan audio.Frame, cfg.QueueSize),
		vad:     audio.NewVADDetector(cfg.VAD),
		metrics: metrics,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Frames returns the encoded frame queue. It is closed once the processor
// stops delivering blocks.
func (p *Pipeline) Frames() <-chan audio.Frame {
	return p.frames
}

// Start launches the encoding goroutine; later calls do nothing
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		go p.run()
	})
}

// Done is closed when the encoding goroutine exits
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Stats returns frames queued and frames dropped so far
func (p *Pipeline) Stats() (sent, dropped int64) {
	return p.sent.Load(), p.dropped.Load()
}

func (p *Pipeline) run() {
	defer close(p.done)
	defer close(p.frames)

	for block := range p.proc.Blocks() {
		p.handleBlock(block)
	}

	// Close an open segment so the speech gauge does not outlive the capture
	if p.vad.IsSpeaking() {
		p.vad.Reset()
		if p.metrics != nil {
			p.metrics.RecordSpeechEnd()
		}
	}
	p.logger.Debug().Msg("Capture processor closed, pipeline stopping")
}

func (p *Pipeline) handleBlock(block audio.Block) {
	_, started, ended := p.vad.ProcessBlock(block)
	if started {
		p.logger.Debug().Msg("Speech started")
		if p.metrics != nil {
			p.metrics.RecordSpeechStart()
		}
	}
	if ended {
		p.logger.Debug().Msg("Speech ended")
		if p.metrics != nil {
			p.metrics.RecordSpeechEnd()
		}
	}

	frame := audio.Encode(block)

	select {
	case p.frames <- frame:
		p.sent.Add(1)
		if p.metrics != nil {
			p.metrics.RecordAudioBytes("out", int64(len(block)*audio.BytesPerSample))
		}
	default:
		p.dropped.Add(1)
		if p.metrics != nil {
			p.metrics.RecordFrameDropped("queue_full")
		}
		p.logger.Warn().Msg("Capture frame queue full, dropping frame")
	}
}
