package device

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lexiqai/voice-live/internal/audio"
)

// SoftInput is a software input device that pulls from a Stream on a ticker,
// mimicking the fixed callback cadence of a hardware capture graph.
type SoftInput struct {
	// Pace overrides the tick interval; zero means real time (blockSize/sampleRate)
	Pace time.Duration
}

// Open creates a new input context
func (d SoftInput) Open(ctx context.Context, sampleRate int) (InputContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, errors.New("sample rate must be positive")
	}
	return &softInputContext{
		sampleRate: sampleRate,
		pace:       d.Pace,
		processors: make(map[*softProcessor]struct{}),
	}, nil
}

type softInputContext struct {
	sampleRate int
	pace       time.Duration

	mu         sync.Mutex
	closed     bool
	processors map[*softProcessor]struct{}
}

func (c *softInputContext) Connect(stream Stream, blockSize int) (Processor, error) {
	if blockSize <= 0 {
		return nil, errors.New("block size must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	interval := c.pace
	if interval <= 0 {
		interval = time.Duration(float64(time.Second) * float64(blockSize) / float64(c.sampleRate))
	}

	p := &softProcessor{
		owner:     c,
		stream:    stream,
		blockSize: blockSize,
		interval:  interval,
		ring:      audio.NewRingBuffer(blockSize * 4),
		blocks:    make(chan audio.Block, 4),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
	c.processors[p] = struct{}{}
	go p.run()

	return p, nil
}

func (c *softInputContext) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	remaining := make([]*softProcessor, 0, len(c.processors))
	for p := range c.processors {
		remaining = append(remaining, p)
	}
	c.mu.Unlock()

	for _, p := range remaining {
		p.Disconnect()
	}
	return ctx.Err()
}

func (c *softInputContext) forget(p *softProcessor) {
	c.mu.Lock()
	delete(c.processors, p)
	c.mu.Unlock()
}

type softProcessor struct {
	owner     *softInputContext
	stream    Stream
	blockSize int
	interval  time.Duration
	ring      *audio.RingBuffer

	blocks chan audio.Block
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func (p *softProcessor) Blocks() <-chan audio.Block {
	return p.blocks
}

func (p *softProcessor) Disconnect() error {
	p.once.Do(func() {
		close(p.done)
		<-p.exited
		// a trailing partial block is never delivered
		p.ring.Clear()
		close(p.blocks)
		p.owner.forget(p)
	})
	return nil
}

func (p *softProcessor) run() {
	defer close(p.exited)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	scratch := make([]float32, p.blockSize)
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			n, err := p.stream.Read(scratch)
			if err != nil {
				if errors.Is(err, ErrClosed) {
					return
				}
				continue
			}
			p.ring.Write(scratch[:n])

			for {
				block, ok := p.ring.ReadBlock(p.blockSize)
				if !ok {
					break
				}
				// A device callback never waits on its consumer
				select {
				case p.blocks <- block:
				default:
				}
			}
		}
	}
}
