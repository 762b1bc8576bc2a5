package live

import (
	"encoding/json"
	"fmt"

	"github.com/lexiqai/voice-live/internal/audio"
)

// Client messages

type clientMessage struct {
	Setup         *setupMessage         `json:"setup,omitempty"`
	RealtimeInput *realtimeInputMessage `json:"realtimeInput,omitempty"`
}

type setupMessage struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	Audio *blob `json:"audio,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Server messages

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
	Error         *serverError   `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverError struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Status  string `json:"status,omitempty"`
}

func newSetup(cfg Config) clientMessage {
	setup := &setupMessage{
		Model: cfg.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice}},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	return clientMessage{Setup: setup}
}

func newAudioInput(frame audio.Frame) clientMessage {
	return clientMessage{
		RealtimeInput: &realtimeInputMessage{
			Audio: &blob{Data: frame.Data, MIMEType: frame.MIMEType},
		},
	}
}

// parseServerMessage splits one server payload into ordered messages:
// output transcription, input transcription, turn complete, audio parts,
// interrupted. goAway and error payloads become a single KindError message.
func parseServerMessage(raw []byte) (msgs []Message, setupComplete bool, err error) {
	var sm serverMessage
	if err := json.Unmarshal(raw, &sm); err != nil {
		return nil, false, fmt.Errorf("failed to parse server message: %w", err)
	}

	if sm.SetupComplete != nil {
		setupComplete = true
	}

	if sm.Error != nil {
		msgs = append(msgs, Message{
			Kind: KindError,
			Err:  fmt.Errorf("server error %d %s: %s", sm.Error.Code, sm.Error.Status, sm.Error.Message),
		})
		return msgs, setupComplete, nil
	}

	if sm.GoAway != nil {
		msgs = append(msgs, Message{
			Kind: KindError,
			Err:  fmt.Errorf("server is going away (time left %s)", sm.GoAway.TimeLeft),
		})
		return msgs, setupComplete, nil
	}

	sc := sm.ServerContent
	if sc == nil {
		return msgs, setupComplete, nil
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		msgs = append(msgs, Message{Kind: KindOutputTranscription, Text: sc.OutputTranscription.Text})
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		msgs = append(msgs, Message{Kind: KindInputTranscription, Text: sc.InputTranscription.Text})
	}
	if sc.TurnComplete {
		msgs = append(msgs, Message{Kind: KindTurnComplete})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil || p.InlineData.Data == "" {
				continue
			}
			msgs = append(msgs, Message{
				Kind:     KindAudio,
				Audio:    p.InlineData.Data,
				MIMEType: p.InlineData.MIMEType,
			})
		}
	}
	if sc.Interrupted {
		msgs = append(msgs, Message{Kind: KindInterrupted})
	}

	return msgs, setupComplete, nil
}
