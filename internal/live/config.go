package live

import (
	"fmt"
	"time"
)

const (
	DefaultModel          = "gemini-2.0-flash-exp"
	DefaultVoice          = "Kore"
	DefaultLanguage       = "ja"
	DefaultConnectTimeout = 30 * time.Second
	DefaultPollInterval   = 100 * time.Millisecond

	InputMIMEType = "audio/pcm;rate=16000"
)

const defaultPersona = `あなたは親切で丁寧な日本語のAIアシスタントです。
ユーザーとの自然な会話を心がけてください。
回答は簡潔にしてください（1-3文程度）。`

type Config struct {
	Model          string
	Voice          string
	Language       string
	Persona        string
	ConnectTimeout time.Duration
	PollInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Persona == "" {
		c.Persona = defaultPersona
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	return c
}

// SystemInstruction is the persona text sent on connect, with the language appended.
func (c Config) SystemInstruction() string {
	c = c.withDefaults()
	return fmt.Sprintf("%s\n言語: %s", c.Persona, c.Language)
}
