package audio

// VADConfig holds configuration for Voice Activity Detection
type VADConfig struct {
	EnergyThreshold float64 // RMS threshold on normalized samples
	SilenceFrames   int     // Consecutive quiet blocks before speech is considered over
}

// DefaultVADConfig returns a configuration tuned for 4096-sample blocks at 16kHz
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 0.015,
		SilenceFrames:   3, // ~770ms at 256ms per block
	}
}

// VADDetector performs energy-based Voice Activity Detection on capture blocks
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	return &VADDetector{config: config}
}

// ProcessBlock processes one block and reports the speech state.
// Returns: (isSpeaking, speechStarted, speechEnded)
func (v *VADDetector) ProcessBlock(samples []float32) (bool, bool, bool) {
	frameHasSpeech := CalculateRMS(samples) > v.config.EnergyThreshold

	var speechStarted, speechEnded bool

	if frameHasSpeech {
		v.silenceCounter = 0
		if !v.isSpeaking {
			speechStarted = true
			v.isSpeaking = true
		}
	} else {
		v.silenceCounter++
		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			speechEnded = true
			v.isSpeaking = false
			v.silenceCounter = 0
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset resets the VAD detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}
