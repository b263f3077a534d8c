package transport

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformedMessage = errors.New("malformed client message")

type MessageType string

const (
	MessageTypeAudioAppend  MessageType = "input_audio_buffer.append"
	MessageTypeSessionReset MessageType = "session.reset"

	MessageTypeSessionReady MessageType = "session.ready"
	MessageTypeTranscript   MessageType = "transcript"
	MessageTypeAudioDelta   MessageType = "response.audio.delta"
	MessageTypeAudioDone    MessageType = "audio.done"
	MessageTypeResetDone    MessageType = "session.reset.done"
	MessageTypeError        MessageType = "error"
)

// CloseMissingCredential is the websocket close code sent when the relay has
// no upstream API key configured.
const CloseMissingCredential = 4010

type ClientEnvelope struct {
	Type  MessageType `json:"type"`
	Delta string      `json:"delta,omitempty"`
}

func DecodeClientMessage(data []byte) (ClientEnvelope, error) {
	var env ClientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ClientEnvelope{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return env, nil
}

// Audio decodes the base64 PCM16 payload of an append message.
func (e ClientEnvelope) Audio() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(e.Delta)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid audio delta: %v", ErrMalformedMessage, err)
	}
	return data, nil
}

type ServerEvent struct {
	Type    MessageType `json:"type"`
	Text    string      `json:"text,omitempty"`
	Sender  string      `json:"sender,omitempty"`
	Delta   string      `json:"delta,omitempty"`
	Message string      `json:"message,omitempty"`
}

func SessionReady() ServerEvent {
	return ServerEvent{Type: MessageTypeSessionReady}
}

func Transcript(sender, text string) ServerEvent {
	return ServerEvent{Type: MessageTypeTranscript, Text: text, Sender: sender}
}

// AudioDelta carries one block of 24kHz PCM16 output, base64 encoded.
func AudioDelta(data []byte) ServerEvent {
	return ServerEvent{Type: MessageTypeAudioDelta, Delta: base64.StdEncoding.EncodeToString(data)}
}

func AudioDone() ServerEvent {
	return ServerEvent{Type: MessageTypeAudioDone}
}

func ResetDone() ServerEvent {
	return ServerEvent{Type: MessageTypeResetDone}
}

func Error(message string) ServerEvent {
	return ServerEvent{Type: MessageTypeError, Message: message}
}
