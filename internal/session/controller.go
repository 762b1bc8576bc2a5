// Package session drives one duplex voice conversation at a time: it acquires
// the audio devices and the remote connection, pumps audio both ways and
// tears everything down on stop or failure.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lexiqai/voice-live/internal/audio"
	"github.com/lexiqai/voice-live/internal/capture"
	"github.com/lexiqai/voice-live/internal/device"
	"github.com/lexiqai/voice-live/internal/live"
	"github.com/lexiqai/voice-live/internal/observability"
	"github.com/lexiqai/voice-live/internal/playback"
	"github.com/lexiqai/voice-live/internal/transcript"
	"github.com/rs/zerolog"
)

// Listener receives controller notifications. Calls are made outside the
// controller lock, in the order the transitions happened, and must neither
// block nor call back into the controller.
type Listener interface {
	OnState(state State)
	OnEntries(entries []transcript.Entry)
	OnError(err *Error)
}

// Devices are the audio collaborators a session acquires
type Devices struct {
	Microphone device.Microphone
	Input      device.InputDevice
	Output     device.OutputDevice
}

// Config holds per-session settings
type Config struct {
	Live      live.Config
	BlockSize int // Capture samples per block
	QueueSize int // Encoded frames waiting for send
	VAD       *audio.VADConfig
}

// Controller owns the session lifecycle
type Controller struct {
	cfg     Config
	devices Devices
	dialer  live.Dialer
	logger  zerolog.Logger

	// notifyMu orders state changes with their notifications
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	current   *run
	sessionID string
	entries   []transcript.Entry
	lastErr   *Error
	listeners []Listener
}

// NewController creates an idle controller
func NewController(cfg Config, devices Devices, dialer live.Dialer) *Controller {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 4096
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	return &Controller{
		cfg:     cfg,
		devices: devices,
		dialer:  dialer,
		logger:  observability.WithComponent("session"),
		state:   StateIdle,
	}
}

// AddListener registers l for notifications
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the ID of the current or most recent session
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Transcript returns a copy of every finalized entry, across sessions
func (c *Controller) Transcript() []transcript.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transcript.Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// LastError returns the error that ended the most recent session, if any
func (c *Controller) LastError() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Pending returns the partial text of the current turn for speaker
func (c *Controller) Pending(speaker transcript.Speaker) string {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return ""
	}
	return r.aggregator.Pending(speaker)
}

// Start acquires every resource and begins streaming. It does nothing unless
// the controller is idle. On failure everything acquired so far is released,
// the controller returns to idle and the error is returned.
func (c *Controller) Start(ctx context.Context) error {
	var (
		r    *run
		prev State
	)
	if !c.transition(StateConnecting, func() bool {
		if c.state != StateIdle {
			prev = c.state
			return false
		}
		r = newRun(ctx, c.cfg)
		c.current = r
		c.sessionID = r.id
		c.lastErr = nil
		return true
	}) {
		c.logger.Debug().
			Err(&Error{Kind: InvalidStateTransition, Op: "start", Err: errors.New("not idle")}).
			Str("state", prev.String()).
			Msg("Ignoring start")
		return nil
	}

	r.metrics.RecordSessionStart()
	r.logger.Info().Msg("Session starting")

	if sessErr := c.acquire(r); sessErr != nil {
		c.mu.Lock()
		stopped := c.current != r || r.finishing
		c.mu.Unlock()
		if stopped || errors.Is(sessErr, errStoppedDuringStart) {
			return nil
		}
		c.finish(context.Background(), r, sessErr, false)
		return sessErr
	}

	if !c.transition(StateActive, func() bool {
		return c.current == r && !r.finishing
	}) {
		return nil
	}

	if !r.startLoop(func() { c.dispatch(r) }) {
		return nil
	}

	r.logger.Info().Msg("Session active")
	return nil
}

// acquire obtains the microphone, both device contexts and the remote
// connection, then connects the capture graph
func (c *Controller) acquire(r *run) *Error {
	ctx := r.ctx
	defer r.cancel()

	stream, err := c.devices.Microphone.Acquire(ctx)
	if err != nil {
		return &Error{Kind: AcquisitionFailure, Op: "microphone", Err: err}
	}
	if !r.adopt(func() { r.stream = stream }, func() { stream.Stop() }) {
		return &Error{Kind: AcquisitionFailure, Op: "microphone", Err: errStoppedDuringStart}
	}

	input, err := c.devices.Input.Open(ctx, audio.InputSampleRate)
	if err != nil {
		return &Error{Kind: AcquisitionFailure, Op: "input device", Err: err}
	}
	if !r.adopt(func() { r.input = input }, func() { input.Close(context.Background()) }) {
		return &Error{Kind: AcquisitionFailure, Op: "input device", Err: errStoppedDuringStart}
	}

	output, err := c.devices.Output.Open(ctx, audio.OutputSampleRate)
	if err != nil {
		return &Error{Kind: AcquisitionFailure, Op: "output device", Err: err}
	}
	if !r.adopt(func() {
		r.output = output
		r.scheduler = playback.NewScheduler(output)
	}, func() { output.Close(context.Background()) }) {
		return &Error{Kind: AcquisitionFailure, Op: "output device", Err: errStoppedDuringStart}
	}

	opened := time.Now()
	conn, err := c.dialer.Open(ctx, c.cfg.Live)
	r.metrics.RecordTransportOpen(time.Since(opened), err == nil)
	if err != nil {
		return &Error{Kind: AcquisitionFailure, Op: "voice service", Err: err}
	}
	if !r.adopt(func() { r.conn = conn }, func() { conn.Close() }) {
		return &Error{Kind: AcquisitionFailure, Op: "voice service", Err: errStoppedDuringStart}
	}

	proc, err := input.Connect(stream, c.cfg.BlockSize)
	if err != nil {
		return &Error{Kind: AcquisitionFailure, Op: "capture", Err: err}
	}
	pipeline := capture.NewPipeline(proc, capture.Config{
		QueueSize: c.cfg.QueueSize,
		VAD:       c.cfg.VAD,
	}, r.metrics, r.logger)
	if !r.adopt(func() {
		r.proc = proc
		r.pipeline = pipeline
	}, func() { proc.Disconnect() }) {
		return &Error{Kind: AcquisitionFailure, Op: "capture", Err: errStoppedDuringStart}
	}
	pipeline.Start()

	return nil
}

// Stop ends the session from any state and returns once the controller is
// idle again. Calling it while idle does nothing; calling it while another
// stop is in progress waits for that stop to complete or for ctx to end.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()

	if r == nil {
		return nil
	}
	return c.finish(ctx, r, nil, false)
}

// finish tears down r and returns the controller to idle. Only the first
// caller for a given run does any work; later callers outside the dispatch
// loop wait until that teardown has completed.
func (c *Controller) finish(ctx context.Context, r *run, sessErr *Error, fromLoop bool) error {
	first := c.transition(StateClosing, func() bool {
		if c.current != r || r.finishing {
			return false
		}
		r.finishing = true
		if sessErr != nil {
			c.lastErr = sessErr
		}
		return true
	})
	if !first {
		if fromLoop {
			return nil
		}
		select {
		case <-r.finished:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if sessErr != nil {
		r.logger.Error().Err(sessErr).Str("kind", sessErr.Kind.String()).Msg("Session aborted")
		r.metrics.RecordAbort(sessErr.Kind.String())
		r.metrics.RecordError(sessErr.Kind.String(), "session")
	}

	r.teardown(ctx, fromLoop)
	r.metrics.RecordSessionEnd()

	if sessErr != nil {
		c.notifyError(sessErr)
	}
	c.transition(StateIdle, func() bool {
		c.current = nil
		return true
	})
	close(r.finished)
	r.logger.Info().Msg("Session stopped")
	return nil
}

// dispatch is the single consumer of captured frames and inbound messages
func (c *Controller) dispatch(r *run) {
	var sessErr *Error
	defer func() {
		close(r.loopDone)
		if sessErr != nil {
			c.finish(context.Background(), r, sessErr, true)
		}
	}()

	frames := r.pipeline.Frames()
	messages := r.conn.Messages()

	for {
		select {
		case <-r.stopLoop:
			return

		case frame, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if err := r.conn.Send(frame); err != nil {
				r.logger.Warn().Err(err).Msg("Failed to send audio frame")
				r.metrics.RecordFrameDropped("send_error")
				continue
			}
			r.metrics.RecordFrameSent()

		case msg, ok := <-messages:
			if !ok {
				sessErr = &Error{Kind: TransportError, Op: "receive", Err: errRemoteClosed}
				return
			}
			if sessErr = c.handleMessage(r, msg); sessErr != nil {
				return
			}
		}
	}
}

func (c *Controller) handleMessage(r *run, msg live.Message) *Error {
	switch msg.Kind {
	case live.KindOutputTranscription:
		r.aggregator.AppendFragment(transcript.SpeakerAssistant, msg.Text)

	case live.KindInputTranscription:
		r.aggregator.AppendFragment(transcript.SpeakerUser, msg.Text)

	case live.KindTurnComplete:
		entries := r.aggregator.CompleteTurn()
		speakers := make([]string, len(entries))
		for i, e := range entries {
			speakers[i] = string(e.Speaker)
		}
		r.metrics.RecordTurn(speakers...)
		if len(entries) > 0 {
			c.appendEntries(entries)
		}

	case live.KindAudio:
		c.playAudio(r, msg.Audio)

	case live.KindInterrupted:
		r.logger.Debug().Int("active", r.scheduler.Active()).Msg("Playback interrupted")
		r.scheduler.Flush()
		r.metrics.RecordInterruption()

	case live.KindError:
		return &Error{Kind: TransportError, Op: "receive", Err: msg.Err}

	case live.KindClosed:
		return &Error{Kind: TransportError, Op: "receive", Err: errRemoteClosed}
	}
	return nil
}

// playAudio decodes one payload and schedules it; a bad payload only loses itself
func (c *Controller) playAudio(r *run, payload string) {
	chunk, err := audio.DecodeFrame(payload)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Dropping undecodable audio chunk")
		r.metrics.RecordError("decode_error", "codec")
		return
	}

	now := r.output.Now()
	h, err := r.scheduler.Enqueue(chunk, now)
	if err != nil {
		r.logger.Debug().Err(err).Msg("Skipping audio chunk")
		return
	}
	r.metrics.RecordChunkScheduled(h.StartAt - now)
	r.metrics.RecordAudioBytes("in", int64(chunk.Len()*audio.BytesPerSample))
}

func (c *Controller) appendEntries(entries []transcript.Entry) {
	c.mu.Lock()
	c.entries = append(c.entries, entries...)
	c.mu.Unlock()

	for _, l := range c.snapshotListeners() {
		l.OnEntries(entries)
	}
}

func (c *Controller) snapshotListeners() []Listener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Listener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

// transition switches to the given state when apply, run under c.mu, returns true.
// Listeners see the new state before any later transition is applied.
func (c *Controller) transition(to State, apply func() bool) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if !apply() {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.mu.Unlock()

	c.notifyState(to)
	return true
}

func (c *Controller) notifyState(state State) {
	for _, l := range c.snapshotListeners() {
		l.OnState(state)
	}
}

func (c *Controller) notifyError(err *Error) {
	for _, l := range c.snapshotListeners() {
		l.OnError(err)
	}
}
