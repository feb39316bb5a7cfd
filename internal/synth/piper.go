package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/readaloud/internal/audio"
)

// PiperConfig configures the offline piper engine.
type PiperConfig struct {
	Binary     string        `mapstructure:"binary"`
	Model      string        `mapstructure:"model"`
	ModelConf  string        `mapstructure:"model_config"` // defaults to Model + ".json"
	Speaker    string        `mapstructure:"speaker"`
	SampleRate int           `mapstructure:"sample_rate"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Piper runs one piper process per request with the text preloaded on
// stdin and reads raw 16-bit mono PCM from stdout.
type Piper struct {
	cfg PiperConfig
	run runner
}

// NewPiper checks the model path and fills defaults.
func NewPiper(cfg PiperConfig) (*Piper, error) {
	if cfg.Model == "" {
		return nil, errors.New("piper: model path is required")
	}
	if cfg.Binary == "" {
		cfg.Binary = "piper"
	}
	if cfg.ModelConf == "" {
		cfg.ModelConf = cfg.Model + ".json"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 22050
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Piper{cfg: cfg, run: runCommand}, nil
}

func (p *Piper) Name() string { return "piper" }

// Synthesize maps the rate to piper's length scale. Piper has no pitch
// control, so Pitch is ignored.
func (p *Piper) Synthesize(ctx context.Context, req Request) (audio.Clip, error) {
	if err := req.check(); err != nil {
		return audio.Clip{}, err
	}

	args := []string{
		"--model", p.cfg.Model,
		"--config", p.cfg.ModelConf,
		"--output-raw",
		"--length-scale", strconv.FormatFloat(1/req.rate(), 'f', 2, 64),
	}
	speaker := p.cfg.Speaker
	if req.Voice != "" {
		speaker = req.Voice
	}
	if speaker != "" {
		args = append(args, "--speaker", speaker)
	}

	ctx, cancel := withTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	out, err := p.run(ctx, p.cfg.Binary, args, strings.NewReader(req.Text))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("piper: %w", err)
	}
	if len(out) < 2 {
		return audio.Clip{}, fmt.Errorf("piper: %w", ErrNoAudio)
	}
	return audio.FromBytes(out, p.cfg.SampleRate, 1), nil
}

// Validate checks the binary and model files.
func (p *Piper) Validate(context.Context) error {
	if err := lookPath(p.cfg.Binary); err != nil {
		return fmt.Errorf("piper: %w", err)
	}
	if _, err := os.Stat(p.cfg.Model); err != nil {
		return fmt.Errorf("piper: model not accessible: %w", err)
	}
	if _, err := os.Stat(p.cfg.ModelConf); err != nil {
		return fmt.Errorf("piper: model config not accessible: %w", err)
	}
	return nil
}
