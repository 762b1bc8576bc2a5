package session

import (
	"context"
	"sync"

	"github.com/lexiqai/voice-live/internal/capture"
	"github.com/lexiqai/voice-live/internal/device"
	"github.com/lexiqai/voice-live/internal/live"
	"github.com/lexiqai/voice-live/internal/observability"
	"github.com/lexiqai/voice-live/internal/playback"
	"github.com/lexiqai/voice-live/internal/transcript"
	"github.com/rs/zerolog"
)

// run holds everything one session acquired. Fields are released one by one
// during teardown and never reused by a later session.
type run struct {
	id      string
	ctx     context.Context // acquisition only
	cancel  context.CancelFunc
	logger  zerolog.Logger
	metrics *observability.Metrics

	aggregator *transcript.Aggregator

	// guarded by Controller.mu
	finishing bool

	mu          sync.Mutex
	released    bool
	loopStarted bool
	stream      device.Stream
	input       device.InputContext
	output      device.OutputContext
	scheduler   *playback.Scheduler
	conn        live.Conn
	proc        device.Processor
	pipeline    *capture.Pipeline

	stopLoop chan struct{}
	loopDone chan struct{}
	finished chan struct{} // closed once the controller is idle again
}

func newRun(parent context.Context, cfg Config) *run {
	id := observability.NewSessionID()
	ctx, cancel := context.WithCancel(parent)
	return &run{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		logger:     observability.WithSessionID(observability.WithComponent("session"), id),
		metrics:    observability.NewSessionMetrics(id),
		aggregator: transcript.NewAggregator(),
		stopLoop:   make(chan struct{}),
		loopDone:   make(chan struct{}),
		finished:   make(chan struct{}),
	}
}

// adopt stores a freshly acquired resource, or releases it straight away if
// the run has already been torn down
func (r *run) adopt(store func(), release func()) bool {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		release()
		return false
	}
	store()
	r.mu.Unlock()
	return true
}

func (r *run) startLoop(loop func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	r.loopStarted = true
	go loop()
	return true
}

// teardown releases resources in a fixed order. Each step runs at most once
// and a failing step does not prevent the rest.
func (r *run) teardown(ctx context.Context, fromLoop bool) {
	r.cancel()

	r.mu.Lock()
	r.released = true
	loopStarted := r.loopStarted
	r.mu.Unlock()

	close(r.stopLoop)
	if loopStarted && !fromLoop {
		<-r.loopDone
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close live connection")
		}
		r.conn = nil
	}

	if r.stream != nil {
		if err := r.stream.Stop(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to stop microphone stream")
		}
		r.stream = nil
	}

	if r.proc != nil {
		if err := r.proc.Disconnect(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to disconnect capture processor")
		}
		r.proc = nil
		r.pipeline = nil
	}

	if r.input != nil {
		if err := r.input.Close(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close input context")
		}
		r.input = nil
	}

	if r.scheduler != nil {
		r.scheduler.Flush()
		r.scheduler = nil
	}
	if r.output != nil {
		if err := r.output.Close(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to close output context")
		}
		r.output = nil
	}

	r.aggregator.Reset()
}
