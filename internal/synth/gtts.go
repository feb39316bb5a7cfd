package synth

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/readaloud/internal/audio"
)

// GTTSConfig configures the Google Translate engine.
type GTTSConfig struct {
	Binary            string        `mapstructure:"binary"`
	Lang              string        `mapstructure:"lang"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// GTTS shells out to gtts-cli and decodes the MP3 it prints.
type GTTS struct {
	cfg     GTTSConfig
	limiter *rate.Limiter
	run     runner
}

// NewGTTS fills defaults. Requests are throttled to avoid being blocked.
func NewGTTS(cfg GTTSConfig) (*GTTS, error) {
	if cfg.Binary == "" {
		cfg.Binary = "gtts-cli"
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 50
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GTTS{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		run:     runCommand,
	}, nil
}

func (g *GTTS) Name() string { return "gtts" }

// Synthesize asks for slow speech below 0.75x. gTTS offers no other rate
// or pitch control.
func (g *GTTS) Synthesize(ctx context.Context, req Request) (audio.Clip, error) {
	if err := req.check(); err != nil {
		return audio.Clip{}, err
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return audio.Clip{}, fmt.Errorf("gtts: rate limit: %w", err)
	}

	args := []string{"-", "-l", gttsLang(req.Lang, g.cfg.Lang), "-o", "-"}
	if req.rate() < 0.75 {
		args = append(args, "--slow")
	}

	ctx, cancel := withTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	out, err := g.run(ctx, g.cfg.Binary, args, strings.NewReader(req.Text))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("gtts: %w", err)
	}
	clip, err := decodeMP3(out)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("gtts: %w", err)
	}
	return clip, nil
}

// Validate checks that gtts-cli is installed.
func (g *GTTS) Validate(context.Context) error {
	if err := lookPath(g.cfg.Binary); err != nil {
		return fmt.Errorf("gtts: %w", err)
	}
	return nil
}

// gttsLang reduces a BCP-47 tag to the base language gTTS expects.
func gttsLang(tag, fallback string) string {
	t, err := language.Parse(tag)
	if err != nil || t == language.Und {
		return fallback
	}
	base, _ := t.Base()
	return base.String()
}

// decodeMP3 returns the stream as interleaved stereo, which is what
// go-mp3 always produces.
func decodeMP3(data []byte) (audio.Clip, error) {
	if len(data) == 0 {
		return audio.Clip{}, ErrNoAudio
	}
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("decode mp3: %w", err)
	}
	if len(pcm) < 4 {
		return audio.Clip{}, ErrNoAudio
	}
	return audio.FromBytes(pcm, dec.SampleRate(), 2), nil
}
