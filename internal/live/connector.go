package live

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Stream is the subset of *genai.Session the relay depends on.
type Stream interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type Connector interface {
	Connect(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (Stream, error)
}

type GenAIConnector struct {
	client *genai.Client
}

func NewGenAIConnector(ctx context.Context, apiKey string) (*GenAIConnector, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIConnector{client: client}, nil
}

func (c *GenAIConnector) Connect(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (Stream, error) {
	sess, err := c.client.Live.Connect(ctx, model, cfg)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func connectConfig(cfg Config) *genai.LiveConnectConfig {
	return &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{
					VoiceName: cfg.Voice,
				},
			},
		},
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction()}},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
}
