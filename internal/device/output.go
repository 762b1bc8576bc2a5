package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/lexiqai/voice-live/internal/audio"
)

// SoftOutput renders scheduled sources onto an in-memory timeline driven by
// the wall clock. When RecordPath is set the timeline is written as a mono
// WAV file on Close.
type SoftOutput struct {
	RecordPath string
}

// Open creates a new output context whose clock starts at zero
func (d SoftOutput) Open(ctx context.Context, sampleRate int) (OutputContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	return &softOutputContext{
		sampleRate: sampleRate,
		recordPath: d.RecordPath,
		start:      time.Now(),
		sources:    make(map[*softSource]struct{}),
	}, nil
}

type softOutputContext struct {
	sampleRate int
	recordPath string
	start      time.Time

	mu       sync.Mutex
	closed   bool
	timeline []float32
	sources  map[*softSource]struct{}
}

func (c *softOutputContext) Now() float64 {
	return time.Since(c.start).Seconds()
}

func (c *softOutputContext) CreateSource(chunk audio.Chunk) Source {
	return &softSource{
		owner:   c,
		samples: mixDown(chunk),
		rate:    chunk.SampleRate,
	}
}

func (c *softOutputContext) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	remaining := make([]*softSource, 0, len(c.sources))
	for s := range c.sources {
		remaining = append(remaining, s)
	}
	c.mu.Unlock()

	for _, s := range remaining {
		s.Stop()
	}

	if c.recordPath == "" {
		return ctx.Err()
	}
	if err := c.writeRecording(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *softOutputContext) writeRecording() error {
	c.mu.Lock()
	rendered := make([]float32, len(c.timeline))
	copy(rendered, c.timeline)
	c.mu.Unlock()

	f, err := os.Create(c.recordPath)
	if err != nil {
		return fmt.Errorf("failed to create playback recording %s: %w", c.recordPath, err)
	}
	defer f.Close()

	pos := 0
	streamer := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= len(rendered) {
			return 0, false
		}
		n := 0
		for n < len(samples) && pos < len(rendered) {
			v := float64(rendered[pos])
			samples[n][0] = v
			samples[n][1] = v
			n++
			pos++
		}
		return n, true
	})

	format := beep.Format{
		SampleRate:  beep.SampleRate(c.sampleRate),
		NumChannels: 1,
		Precision:   2,
	}
	if err := wav.Encode(f, streamer, format); err != nil {
		return fmt.Errorf("failed to encode playback recording: %w", err)
	}
	return nil
}

// render mixes samples into the timeline starting at the given time in seconds
func (c *softOutputContext) render(at float64, samples []float32, rate int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	offset := int(at * float64(c.sampleRate))
	ratio := float64(rate) / float64(c.sampleRate)
	length := int(float64(len(samples)) / ratio)
	if need := offset + length; need > len(c.timeline) {
		c.timeline = append(c.timeline, make([]float32, need-len(c.timeline))...)
	}
	for i := 0; i < length; i++ {
		src := int(float64(i) * ratio)
		if src >= len(samples) {
			break
		}
		c.timeline[offset+i] += samples[src]
	}
}

// silence clears the timeline over [from, to) seconds
func (c *softOutputContext) silence(from, to float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lo := int(from * float64(c.sampleRate))
	hi := int(to * float64(c.sampleRate))
	if lo < 0 {
		lo = 0
	}
	if hi > len(c.timeline) {
		hi = len(c.timeline)
	}
	for i := lo; i < hi; i++ {
		c.timeline[i] = 0
	}
}

func (c *softOutputContext) track(s *softSource) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.sources[s] = struct{}{}
	return true
}

func (c *softOutputContext) untrack(s *softSource) {
	c.mu.Lock()
	delete(c.sources, s)
	c.mu.Unlock()
}

func mixDown(chunk audio.Chunk) []float32 {
	switch len(chunk.Channels) {
	case 0:
		return nil
	case 1:
		return chunk.Channels[0]
	}
	out := make([]float32, chunk.Len())
	for _, ch := range chunk.Channels {
		for i, v := range ch {
			out[i] += v
		}
	}
	scale := float32(len(chunk.Channels))
	for i := range out {
		out[i] /= scale
	}
	return out
}

type softSource struct {
	owner   *softOutputContext
	samples []float32
	rate    int

	mu      sync.Mutex
	started bool
	ended   bool
	begin   float64
	end     float64
	timer   *time.Timer
	onEnded func()
}

func (s *softSource) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

// Start schedules the source; a start time in the past begins immediately
func (s *softSource) Start(at float64) {
	s.mu.Lock()
	if s.started || s.ended {
		s.mu.Unlock()
		return
	}
	s.started = true

	now := s.owner.Now()
	begin := at
	if begin < now {
		begin = now
	}
	var dur float64
	if s.rate > 0 {
		dur = float64(len(s.samples)) / float64(s.rate)
	}
	s.begin = begin
	s.end = begin + dur
	s.mu.Unlock()

	if !s.owner.track(s) {
		s.finish()
		return
	}
	s.owner.render(begin, s.samples, s.rate)

	wait := time.Duration((s.end - now) * float64(time.Second))
	s.mu.Lock()
	stopped := s.ended
	if !stopped {
		s.timer = time.AfterFunc(wait, s.finish)
	}
	s.mu.Unlock()

	if stopped {
		s.owner.untrack(s)
	}
}

// Stop silences whatever part of the source has not played yet
func (s *softSource) Stop() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	started, end := s.started, s.end
	s.mu.Unlock()

	if started {
		s.owner.silence(s.owner.Now(), end)
	}
	s.finish()
}

func (s *softSource) finish() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	fn := s.onEnded
	s.mu.Unlock()

	s.owner.untrack(s)
	if fn != nil {
		fn()
	}
}
