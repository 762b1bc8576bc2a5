package device

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/lexiqai/voice-live/internal/audio"
)

func TestSilenceMicrophone(t *testing.T) {
	stream, err := SilenceMicrophone{}.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	buf := []float32{1, 1, 1}
	n, err := stream.Read(buf)
	if err != nil || n != 3 {
		t.Fatalf("Expected 3 samples, got %d (%v)", n, err)
	}
	for i, v := range buf {
		if v != 0 {
			t.Errorf("buf[%d] = %f, expected silence", i, v)
		}
	}

	stream.Stop()
	if _, err := stream.Read(buf); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed after Stop, got %v", err)
	}
}

func TestSilenceMicrophone_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := (SilenceMicrophone{}).Acquire(ctx); err == nil {
		t.Error("Expected error for cancelled context")
	}
}

func writeTestWAV(t *testing.T, path string, rate int, samples []float64) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()

	pos := 0
	streamer := beep.StreamerFunc(func(out [][2]float64) (int, bool) {
		if pos >= len(samples) {
			return 0, false
		}
		n := 0
		for n < len(out) && pos < len(samples) {
			out[n][0] = samples[pos]
			out[n][1] = samples[pos]
			n++
			pos++
		}
		return n, true
	})
	format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 1, Precision: 2}
	if err := wav.Encode(f, streamer, format); err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}
}

func TestFileMicrophone_ReadsThenSilence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic.wav")
	writeTestWAV(t, path, audio.InputSampleRate, []float64{0.5, 0.5, 0.5, 0.5})

	mic := NewFileMicrophone(path, audio.InputSampleRate)
	stream, err := mic.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer stream.Stop()

	buf := make([]float32, 8)
	n, err := stream.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("Expected a full block, got %d", n)
	}
	for i := 0; i < 4; i++ {
		if buf[i] < 0.49 || buf[i] > 0.51 {
			t.Errorf("buf[%d] = %f, expected ~0.5", i, buf[i])
		}
	}
	for i := 4; i < 8; i++ {
		if buf[i] != 0 {
			t.Errorf("buf[%d] = %f, expected silence after end of file", i, buf[i])
		}
	}
}

func TestFileMicrophone_MissingFile(t *testing.T) {
	mic := NewFileMicrophone(filepath.Join(t.TempDir(), "missing.wav"), audio.InputSampleRate)
	if _, err := mic.Acquire(context.Background()); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestFileMicrophone_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mic.wav")
	writeTestWAV(t, path, audio.InputSampleRate, []float64{0.1})

	stream, err := NewFileMicrophone(path, audio.InputSampleRate).Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := stream.Stop(); err != nil {
		t.Fatalf("First Stop failed: %v", err)
	}
	if err := stream.Stop(); err != nil {
		t.Errorf("Second Stop failed: %v", err)
	}
	if _, err := stream.Read(make([]float32, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestSoftInput_DeliversBlocks(t *testing.T) {
	ctx := context.Background()
	input, err := SoftInput{Pace: time.Millisecond}.Open(ctx, audio.InputSampleRate)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer input.Close(ctx)

	stream, _ := SilenceMicrophone{}.Acquire(ctx)
	proc, err := input.Connect(stream, 64)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case block := <-proc.Blocks():
		if len(block) != 64 {
			t.Errorf("Expected block of 64 samples, got %d", len(block))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a block")
	}

	if err := proc.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if err := proc.Disconnect(); err != nil {
		t.Errorf("Second Disconnect failed: %v", err)
	}

	// Drain anything buffered; the channel must close
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-proc.Blocks():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("Blocks channel was not closed after Disconnect")
		}
	}
}

// shortStream hands out fewer samples than a block on every read
type shortStream struct{}

func (shortStream) Read(p []float32) (int, error) {
	n := 3
	if len(p) < n {
		n = len(p)
	}
	for i := range p[:n] {
		p[i] = 0.25
	}
	return n, nil
}

func (shortStream) Stop() error { return nil }

func TestSoftInput_DisconnectDiscardsPartialBlock(t *testing.T) {
	ctx := context.Background()
	input, _ := SoftInput{Pace: time.Millisecond}.Open(ctx, audio.InputSampleRate)
	defer input.Close(ctx)

	proc, err := input.Connect(shortStream{}, 4)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case block := <-proc.Blocks():
		if len(block) != 4 || block[0] != 0.25 {
			t.Errorf("Unexpected block %v", block)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for a regrouped block")
	}

	proc.Disconnect()
	if _, ok := proc.(*softProcessor).ring.ReadBlock(1); ok {
		t.Error("Expected leftover samples to be discarded on Disconnect")
	}
}

func TestSoftInput_ConnectAfterClose(t *testing.T) {
	ctx := context.Background()
	input, _ := SoftInput{Pace: time.Millisecond}.Open(ctx, audio.InputSampleRate)
	stream, _ := SilenceMicrophone{}.Acquire(ctx)

	proc, err := input.Connect(stream, 16)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := input.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := input.Close(ctx); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	if _, ok := <-drain(proc.Blocks()); ok {
		t.Error("Expected processor to be disconnected by Close")
	}
	if _, err := input.Connect(stream, 16); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

// drain returns the channel after discarding buffered blocks
func drain(ch <-chan audio.Block) <-chan audio.Block {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return ch
			}
		default:
			return ch
		}
	}
}

func monoChunk(n int, v float32) audio.Chunk {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return audio.Chunk{Channels: [][]float32{samples}, SampleRate: audio.OutputSampleRate}
}

func TestSoftOutput_NaturalCompletion(t *testing.T) {
	ctx := context.Background()
	out, err := SoftOutput{}.Open(ctx, audio.OutputSampleRate)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer out.Close(ctx)

	var ended int32
	done := make(chan struct{})
	src := out.CreateSource(monoChunk(240, 0.25)) // 10ms
	src.OnEnded(func() {
		if atomic.AddInt32(&ended, 1) == 1 {
			close(done)
		}
	})
	src.Start(out.Now())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("OnEnded did not fire")
	}

	src.Stop()
	if got := atomic.LoadInt32(&ended); got != 1 {
		t.Errorf("Expected OnEnded exactly once, got %d", got)
	}
}

func TestSoftOutput_StopFiresOnEnded(t *testing.T) {
	ctx := context.Background()
	out, _ := SoftOutput{}.Open(ctx, audio.OutputSampleRate)
	defer out.Close(ctx)

	var ended int32
	src := out.CreateSource(monoChunk(audio.OutputSampleRate*10, 0.25)) // 10s
	src.OnEnded(func() { atomic.AddInt32(&ended, 1) })
	src.Start(out.Now())

	src.Stop()
	src.Stop()

	if got := atomic.LoadInt32(&ended); got != 1 {
		t.Errorf("Expected OnEnded exactly once, got %d", got)
	}
}

func TestSoftOutput_StopBeforeStart(t *testing.T) {
	ctx := context.Background()
	out, _ := SoftOutput{}.Open(ctx, audio.OutputSampleRate)
	defer out.Close(ctx)

	var ended int32
	src := out.CreateSource(monoChunk(100, 0.1))
	src.OnEnded(func() { atomic.AddInt32(&ended, 1) })
	src.Stop()
	src.Start(out.Now())

	if got := atomic.LoadInt32(&ended); got != 1 {
		t.Errorf("Expected OnEnded exactly once, got %d", got)
	}
}

func TestSoftOutput_CloseStopsSourcesAndRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "playback.wav")
	out, err := SoftOutput{RecordPath: path}.Open(ctx, audio.OutputSampleRate)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	var ended int32
	src := out.CreateSource(monoChunk(audio.OutputSampleRate*10, 0.5))
	src.OnEnded(func() { atomic.AddInt32(&ended, 1) })
	src.Start(out.Now())

	if err := out.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := atomic.LoadInt32(&ended); got != 1 {
		t.Errorf("Expected Close to end the active source, got %d callbacks", got)
	}
	if err := out.Close(ctx); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Recording not written: %v", err)
	}
	defer f.Close()

	_, format, err := wav.Decode(f)
	if err != nil {
		t.Fatalf("Recording is not a valid WAV: %v", err)
	}
	if format.SampleRate != beep.SampleRate(audio.OutputSampleRate) {
		t.Errorf("Expected sample rate %d, got %d", audio.OutputSampleRate, format.SampleRate)
	}
	if format.NumChannels != 1 {
		t.Errorf("Expected mono recording, got %d channels", format.NumChannels)
	}
}

func TestMixDown(t *testing.T) {
	chunk := audio.Chunk{
		Channels:   [][]float32{{0.2, 0.4}, {0.4, 0.0}},
		SampleRate: audio.OutputSampleRate,
	}
	got := mixDown(chunk)
	want := []float32{0.3, 0.2}
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("mixDown[%d] = %f, expected %f", i, got[i], want[i])
		}
	}
}
