package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
)

// Fixed PCM profile spoken on the wire. Both directions are mono 16-bit
// little-endian; only the rate differs.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	BytesPerSample   = 2
)

var (
	// ErrMalformedPayload is returned when an inbound frame is not valid base64
	ErrMalformedPayload = errors.New("malformed audio payload")

	// ErrInvalidAudioData is returned when decoded bytes cannot be split into whole samples
	ErrInvalidAudioData = errors.New("invalid audio data")
)

// Block is one fixed-size block of captured samples in [-1, 1]
type Block []float32

// Frame is a transport-ready audio payload
type Frame struct {
	Data     string // base64 of 16-bit LE PCM
	MIMEType string // e.g. "audio/pcm;rate=16000"
}

// MIMEType returns the wire MIME tag for mono 16-bit PCM at the given rate
func MIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// Chunk is decoded PCM ready for playback
type Chunk struct {
	Channels   [][]float32 // one slice per channel, all the same length
	SampleRate int
}

// Len returns the number of samples per channel
func (c Chunk) Len() int {
	if len(c.Channels) == 0 {
		return 0
	}
	return len(c.Channels[0])
}

// Duration returns the playback length of the chunk in seconds
func (c Chunk) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Len()) / float64(c.SampleRate)
}

// Encode converts float samples to a base64-wrapped 16-bit PCM frame at the input rate.
// Samples outside [-1, 1] are clamped to the int16 range.
func Encode(samples []float32) Frame {
	return Frame{
		Data:     base64.StdEncoding.EncodeToString(FloatToPCM(samples)),
		MIMEType: MIMEType(InputSampleRate),
	}
}

// FloatToPCM packs samples as signed 16-bit little-endian integers
func FloatToPCM(samples []float32) []byte {
	pcm := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		sample := int16(v)
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}
	return pcm
}

// Decode unwraps the base64 layer of an inbound frame
func Decode(payload string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return data, nil
}

// DecodeAudioData interprets data as interleaved signed 16-bit little-endian
// samples and converts each to float via value/32768.
func DecodeAudioData(data []byte, sampleRate, channels int) (Chunk, error) {
	if channels < 1 {
		return Chunk{}, fmt.Errorf("%w: channel count %d", ErrInvalidAudioData, channels)
	}
	if sampleRate < 1 {
		return Chunk{}, fmt.Errorf("%w: sample rate %d", ErrInvalidAudioData, sampleRate)
	}
	frameSize := BytesPerSample * channels
	if len(data)%frameSize != 0 {
		return Chunk{}, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrInvalidAudioData, len(data), frameSize)
	}

	length := len(data) / frameSize
	chunk := Chunk{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for c := range chunk.Channels {
		chunk.Channels[c] = make([]float32, length)
	}

	for i := 0; i < length; i++ {
		for c := 0; c < channels; c++ {
			off := (i*channels + c) * BytesPerSample
			// Little-endian 16-bit signed integer
			sample := int16(data[off]) | int16(data[off+1])<<8
			chunk.Channels[c][i] = float32(sample) / 32768
		}
	}

	return chunk, nil
}

// DecodeFrame runs Decode followed by DecodeAudioData for mono output audio
func DecodeFrame(payload string) (Chunk, error) {
	data, err := Decode(payload)
	if err != nil {
		return Chunk{}, err
	}
	return DecodeAudioData(data, OutputSampleRate, 1)
}

// CalculateRMS calculates the root mean square of normalized samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}
