package audio

import (
	"sync"
)

// RingBuffer is a thread-safe ring buffer for float samples.
// The input device uses it to regroup arbitrary-sized device reads into
// fixed-size capture blocks.
type RingBuffer struct {
	buffer []float32
	size   int
	read   int
	write  int
	mu     sync.Mutex
}

// NewRingBuffer creates a ring buffer able to hold size-1 samples
func NewRingBuffer(size int) *RingBuffer {
	if size < 2 {
		size = 2
	}
	return &RingBuffer{
		buffer: make([]float32, size),
		size:   size,
	}
}

// Write writes samples to the ring buffer
// Returns the number of samples written (may be less than len(samples) if buffer is full)
func (rb *RingBuffer) Write(samples []float32) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for _, s := range samples {
		if (rb.write+1)%rb.size == rb.read {
			break // Buffer full
		}

		rb.buffer[rb.write] = s
		rb.write = (rb.write + 1) % rb.size
		written++
	}

	return written
}

// ReadBlock removes exactly n samples as a new Block.
// Returns false without consuming anything when fewer than n are buffered.
func (rb *RingBuffer) ReadBlock(n int) (Block, bool) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if rb.available() < n {
		return nil, false
	}

	block := make(Block, n)
	for i := range block {
		block[i] = rb.buffer[rb.read]
		rb.read = (rb.read + 1) % rb.size
	}
	return block, true
}

func (rb *RingBuffer) available() int {
	if rb.write >= rb.read {
		return rb.write - rb.read
	}
	return rb.size - rb.read + rb.write
}

// Clear discards every buffered sample
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.read = 0
	rb.write = 0
}
