// Package synth turns text into audio clips. Each Synthesizer wraps one
// engine: a local piper process, the gtts-cli tool or Yandex SpeechKit.
package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dgnsrekt/readaloud/internal/audio"
)

// MaxTextLen is the longest request, in runes, any engine accepts.
const MaxTextLen = 5000

var (
	ErrEmptyText     = errors.New("text cannot be empty")
	ErrTextTooLong   = errors.New("text too long")
	ErrNotInstalled  = errors.New("engine not installed")
	ErrNoAudio       = errors.New("engine produced no audio")
	ErrUnknownEngine = errors.New("unknown engine")
)

// Request describes one utterance to synthesize.
type Request struct {
	Text  string
	Voice string
	Lang  string  // BCP-47
	Rate  float64 // 1 is normal speed
	Pitch float64 // 1 is normal pitch
}

func (r Request) check() error {
	if strings.TrimSpace(r.Text) == "" {
		return ErrEmptyText
	}
	if n := utf8.RuneCountInString(r.Text); n > MaxTextLen {
		return fmt.Errorf("%w: %d characters (max %d)", ErrTextTooLong, n, MaxTextLen)
	}
	return nil
}

func (r Request) rate() float64 {
	if r.Rate <= 0 {
		return 1
	}
	return r.Rate
}

// Synthesizer produces a clip for a request.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, req Request) (audio.Clip, error)
	// Validate checks that the engine can run, without synthesizing.
	Validate(ctx context.Context) error
}

// Config selects and configures an engine.
type Config struct {
	Engine  string        `mapstructure:"engine"`
	Timeout time.Duration `mapstructure:"timeout"`
	Piper   PiperConfig   `mapstructure:"piper"`
	GTTS    GTTSConfig    `mapstructure:"gtts"`
	Yandex  YandexConfig  `mapstructure:"yandex"`
}

// Engines lists the names New accepts.
var Engines = []string{"piper", "gtts", "yandex"}

// New builds the engine named by cfg.Engine.
func New(cfg Config) (Synthesizer, error) {
	switch strings.ToLower(cfg.Engine) {
	case "piper":
		if cfg.Piper.Timeout == 0 {
			cfg.Piper.Timeout = cfg.Timeout
		}
		return NewPiper(cfg.Piper)
	case "gtts":
		if cfg.GTTS.Timeout == 0 {
			cfg.GTTS.Timeout = cfg.Timeout
		}
		return NewGTTS(cfg.GTTS)
	case "yandex":
		if cfg.Yandex.Timeout == 0 {
			cfg.Yandex.Timeout = cfg.Timeout
		}
		return NewYandex(cfg.Yandex)
	}
	return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownEngine, cfg.Engine, strings.Join(Engines, ", "))
}
