package device

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
)

// resampleQuality is passed to beep.Resample; 4 is beep's recommended default
const resampleQuality = 4

// SilenceMicrophone produces an endless stream of zeros
type SilenceMicrophone struct{}

// Acquire returns a new silent stream
func (SilenceMicrophone) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &silenceStream{}, nil
}

type silenceStream struct {
	mu      sync.Mutex
	stopped bool
}

func (s *silenceStream) Read(p []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0, ErrClosed
	}
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func (s *silenceStream) Stop() error {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	return nil
}

// FileMicrophone plays a WAV file as if it were spoken into the microphone.
// The file is resampled to SampleRate and mixed down to mono; once it is
// exhausted the stream keeps delivering silence until stopped.
type FileMicrophone struct {
	Path       string
	SampleRate int
}

// NewFileMicrophone creates a microphone backed by the WAV file at path
func NewFileMicrophone(path string, sampleRate int) *FileMicrophone {
	return &FileMicrophone{Path: path, SampleRate: sampleRate}
}

// Acquire opens and decodes the file
func (m *FileMicrophone) Acquire(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(m.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open microphone source %s: %w", m.Path, err)
	}

	decoded, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode microphone source %s: %w", m.Path, err)
	}

	var src beep.Streamer = decoded
	target := beep.SampleRate(m.SampleRate)
	if format.SampleRate != target {
		src = beep.Resample(resampleQuality, format.SampleRate, target, decoded)
	}

	return &fileStream{
		src:    src,
		closer: decoded,
		buf:    make([][2]float64, 512),
	}, nil
}

type fileStream struct {
	mu        sync.Mutex
	src       beep.Streamer
	closer    beep.StreamSeekCloser
	buf       [][2]float64
	exhausted bool
	stopped   bool
}

func (s *fileStream) Read(p []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0, ErrClosed
	}

	filled := 0
	for filled < len(p) && !s.exhausted {
		want := len(p) - filled
		if want > len(s.buf) {
			want = len(s.buf)
		}
		n, ok := s.src.Stream(s.buf[:want])
		for i := 0; i < n; i++ {
			p[filled+i] = float32((s.buf[i][0] + s.buf[i][1]) / 2)
		}
		filled += n
		if !ok || n == 0 {
			s.exhausted = true
		}
	}

	for i := filled; i < len(p); i++ {
		p[i] = 0
	}
	return len(p), nil
}

func (s *fileStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true
	return s.closer.Close()
}
