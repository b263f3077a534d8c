package live

import "errors"

var (
	ErrConnectTimeout = errors.New("live: connect timed out")
	ErrSessionClosed  = errors.New("live: session closed")
)

type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

type TranscriptEvent struct {
	Speaker Speaker
	Text    string
}

// audioItem is either one chunk of synthesized speech or the end-of-turn marker.
type audioItem struct {
	data         []byte
	turnComplete bool
}
