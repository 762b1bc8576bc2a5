// Package playback schedules decoded audio chunks back-to-back on an output clock.
package playback

import (
	"errors"
	"sync"

	"github.com/lexiqai/voice-live/internal/audio"
	"github.com/lexiqai/voice-live/internal/device"
)

// ErrEmptyChunk is returned when a chunk carries no samples
var ErrEmptyChunk = errors.New("empty audio chunk")

// Output is the part of an output context the scheduler needs
type Output interface {
	Now() float64
	CreateSource(chunk audio.Chunk) device.Source
}

// Handle is one scheduled chunk
type Handle struct {
	ID       uint64
	StartAt  float64
	Duration float64

	source device.Source
}

// Scheduler plays chunks gaplessly in the order they are enqueued
type Scheduler struct {
	out Output

	mu            sync.Mutex
	nextStartTime float64
	active        map[uint64]*Handle
	seq           uint64
}

// NewScheduler creates a scheduler with the cursor at zero
func NewScheduler(out Output) *Scheduler {
	return &Scheduler{
		out:    out,
		active: make(map[uint64]*Handle),
	}
}

// Enqueue starts chunk at max(nextStartTime, now) and advances the cursor by
// the chunk's duration. The handle is dropped from the active set once the
// source ends on its own.
func (s *Scheduler) Enqueue(chunk audio.Chunk, now float64) (*Handle, error) {
	if chunk.Len() == 0 {
		return nil, ErrEmptyChunk
	}

	s.mu.Lock()
	if now > s.nextStartTime {
		s.nextStartTime = now
	}
	s.seq++
	h := &Handle{
		ID:       s.seq,
		StartAt:  s.nextStartTime,
		Duration: chunk.Duration(),
		source:   s.out.CreateSource(chunk),
	}
	s.nextStartTime += h.Duration
	s.active[h.ID] = h
	s.mu.Unlock()

	h.source.OnEnded(func() { s.remove(h.ID) })
	h.source.Start(h.StartAt)

	return h, nil
}

func (s *Scheduler) remove(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Flush stops every active chunk and resets the cursor to zero.
// Calling it with nothing scheduled is a no-op.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	stopping := make([]*Handle, 0, len(s.active))
	for _, h := range s.active {
		stopping = append(stopping, h)
	}
	s.active = make(map[uint64]*Handle)
	s.nextStartTime = 0
	s.mu.Unlock()

	// Stop fires OnEnded, which takes the lock again
	for _, h := range stopping {
		h.source.Stop()
	}
}

// NextStartTime returns the cursor in seconds on the output clock
func (s *Scheduler) NextStartTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextStartTime
}

// Active returns the number of chunks scheduled or playing
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
