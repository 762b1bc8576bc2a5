package playback

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/lexiqai/voice-live/internal/audio"
	"github.com/lexiqai/voice-live/internal/device"
)

type fakeSource struct {
	startAt float64
	started bool
	stopped int
	onEnded func()
}

func (s *fakeSource) Start(at float64) {
	s.started = true
	s.startAt = at
}

func (s *fakeSource) Stop() {
	s.stopped++
	if s.onEnded != nil {
		s.onEnded()
	}
}

func (s *fakeSource) OnEnded(fn func()) { s.onEnded = fn }

// end simulates the source finishing on its own
func (s *fakeSource) end() {
	if s.onEnded != nil {
		s.onEnded()
	}
}

type fakeOutput struct {
	mu      sync.Mutex
	now     float64
	sources []*fakeSource
}

func (o *fakeOutput) Now() float64 { return o.now }

func (o *fakeOutput) CreateSource(chunk audio.Chunk) device.Source {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := &fakeSource{}
	o.sources = append(o.sources, s)
	return s
}

// chunkOf returns a mono chunk of the given duration at the output rate
func chunkOf(seconds float64) audio.Chunk {
	n := int(seconds * audio.OutputSampleRate)
	return audio.Chunk{Channels: [][]float32{make([]float32, n)}, SampleRate: audio.OutputSampleRate}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScheduler_BackToBack(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)

	h1, err := s.Enqueue(chunkOf(0.5), 1.0)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	h2, _ := s.Enqueue(chunkOf(0.25), 1.1)

	if !approx(h1.StartAt, 1.0) {
		t.Errorf("Expected first chunk at 1.0, got %f", h1.StartAt)
	}
	// Second chunk arrived before the first finished, so it starts exactly at the end
	if !approx(h2.StartAt, 1.5) {
		t.Errorf("Expected second chunk at 1.5, got %f", h2.StartAt)
	}
	if !approx(s.NextStartTime(), 1.75) {
		t.Errorf("Expected cursor at 1.75, got %f", s.NextStartTime())
	}
	if s.Active() != 2 {
		t.Errorf("Expected 2 active handles, got %d", s.Active())
	}
	if !out.sources[0].started || !approx(out.sources[1].startAt, 1.5) {
		t.Error("Expected sources to be started at their scheduled times")
	}
	if h1.ID == h2.ID {
		t.Error("Expected distinct handle IDs")
	}
}

func TestScheduler_MonotonicCursor(t *testing.T) {
	s := NewScheduler(&fakeOutput{})

	arrivals := []float64{0.0, 0.01, 0.02, 3.0, 2.0, 3.1}
	prevEnd := 0.0
	for i, now := range arrivals {
		h, err := s.Enqueue(chunkOf(0.1), now)
		if err != nil {
			t.Fatalf("Enqueue %d failed: %v", i, err)
		}
		if h.StartAt < prevEnd-1e-9 {
			t.Errorf("Chunk %d starts at %f before previous end %f", i, h.StartAt, prevEnd)
		}
		if h.StartAt < now {
			t.Errorf("Chunk %d starts at %f in the past (now %f)", i, h.StartAt, now)
		}
		prevEnd = h.StartAt + h.Duration
	}
}

func TestScheduler_UnderrunStartsAtNow(t *testing.T) {
	s := NewScheduler(&fakeOutput{})

	s.Enqueue(chunkOf(0.1), 0)
	h, _ := s.Enqueue(chunkOf(0.1), 5.0)

	if !approx(h.StartAt, 5.0) {
		t.Errorf("Expected chunk after a gap to start at now (5.0), got %f", h.StartAt)
	}
}

func TestScheduler_NaturalCompletionRemovesHandle(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)

	s.Enqueue(chunkOf(0.1), 0)
	s.Enqueue(chunkOf(0.1), 0)

	out.sources[0].end()
	if s.Active() != 1 {
		t.Errorf("Expected 1 active handle after natural end, got %d", s.Active())
	}
	// Completion never moves the cursor
	if !approx(s.NextStartTime(), 0.2) {
		t.Errorf("Expected cursor to stay at 0.2, got %f", s.NextStartTime())
	}
}

func TestScheduler_FlushStopsEverything(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)

	for i := 0; i < 3; i++ {
		s.Enqueue(chunkOf(0.2), 0)
	}
	out.sources[0].end()

	s.Flush()

	if s.Active() != 0 {
		t.Errorf("Expected empty active set after flush, got %d", s.Active())
	}
	if s.NextStartTime() != 0 {
		t.Errorf("Expected cursor reset to 0, got %f", s.NextStartTime())
	}
	if out.sources[0].stopped != 0 {
		t.Error("Expected finished source not to be stopped again")
	}
	for i := 1; i < 3; i++ {
		if out.sources[i].stopped != 1 {
			t.Errorf("Expected source %d stopped once, got %d", i, out.sources[i].stopped)
		}
	}
}

func TestScheduler_FlushIdempotent(t *testing.T) {
	out := &fakeOutput{}
	s := NewScheduler(out)

	s.Flush()
	s.Enqueue(chunkOf(0.1), 0)
	s.Flush()
	s.Flush()

	if out.sources[0].stopped != 1 {
		t.Errorf("Expected a single stop, got %d", out.sources[0].stopped)
	}
}

func TestScheduler_InterruptionThenResume(t *testing.T) {
	s := NewScheduler(&fakeOutput{})

	s.Enqueue(chunkOf(1.0), 2.0)
	s.Enqueue(chunkOf(1.0), 2.0)
	s.Flush()

	h, _ := s.Enqueue(chunkOf(0.5), 2.4)
	if !approx(h.StartAt, 2.4) {
		t.Errorf("Expected first chunk after interruption at now (2.4), got %f", h.StartAt)
	}
}

func TestScheduler_EmptyChunk(t *testing.T) {
	s := NewScheduler(&fakeOutput{})

	if _, err := s.Enqueue(audio.Chunk{SampleRate: audio.OutputSampleRate}, 0); !errors.Is(err, ErrEmptyChunk) {
		t.Errorf("Expected ErrEmptyChunk, got %v", err)
	}
	if s.Active() != 0 || s.NextStartTime() != 0 {
		t.Error("Expected empty chunk to leave scheduler untouched")
	}
}
