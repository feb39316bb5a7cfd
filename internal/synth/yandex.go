package synth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/caarlos0/env/v11"
	tts "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/dgnsrekt/readaloud/internal/audio"
)

// YandexEndpoint is the public SpeechKit v3 endpoint.
const YandexEndpoint = "tts.api.cloud.yandex.net:443"

// YandexConfig configures SpeechKit. It can be read from the environment
// with LoadYandexConfig.
type YandexConfig struct {
	APIKey   string        `env:"YANDEX_API_KEY" mapstructure:"api_key"`
	FolderID string        `env:"YANDEX_FOLDER_ID" mapstructure:"folder_id"`
	Endpoint string        `env:"YANDEX_TTS_ENDPOINT" envDefault:"tts.api.cloud.yandex.net:443" mapstructure:"endpoint"`
	Voice    string        `env:"YANDEX_VOICE" envDefault:"marina" mapstructure:"voice"`
	Model    string        `env:"YANDEX_MODEL" mapstructure:"model"`
	Insecure bool          `env:"YANDEX_INSECURE" mapstructure:"insecure"`
	Timeout  time.Duration `env:"YANDEX_TIMEOUT" mapstructure:"timeout"`
}

// LoadYandexConfig reads YANDEX_* variables.
func LoadYandexConfig() (YandexConfig, error) {
	cfg, err := env.ParseAs[YandexConfig]()
	if err != nil {
		return cfg, fmt.Errorf("yandex config: %w", err)
	}
	return cfg, nil
}

// Yandex synthesizes through the SpeechKit v3 gRPC API.
type Yandex struct {
	cfg    YandexConfig
	conn   *grpc.ClientConn
	client tts.SynthesizerClient
}

// NewYandex creates the client connection. The connection is lazy, so no
// network traffic happens until the first request.
func NewYandex(cfg YandexConfig, opts ...grpc.DialOption) (*Yandex, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("yandex: api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = YandexEndpoint
	}
	if cfg.Voice == "" {
		cfg.Voice = "marina"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)
	conn, err := grpc.NewClient(cfg.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("yandex: connect: %w", err)
	}
	return &Yandex{cfg: cfg, conn: conn, client: tts.NewSynthesizerClient(conn)}, nil
}

func (y *Yandex) Name() string { return "yandex" }

// Synthesize requests a WAV container and collects the streamed chunks.
func (y *Yandex) Synthesize(ctx context.Context, req Request) (audio.Clip, error) {
	if err := req.check(); err != nil {
		return audio.Clip{}, err
	}

	ctx, cancel := withTimeout(ctx, y.cfg.Timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Api-Key "+y.cfg.APIKey)
	if y.cfg.FolderID != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "x-folder-id", y.cfg.FolderID)
	}

	stream, err := y.client.UtteranceSynthesis(ctx, y.request(req))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("yandex: start synthesis: %w", err)
	}

	var wav []byte
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return audio.Clip{}, fmt.Errorf("yandex: receive: %w", err)
		}
		wav = append(wav, resp.GetAudioChunk().GetData()...)
	}
	if len(wav) == 0 {
		return audio.Clip{}, fmt.Errorf("yandex: %w", ErrNoAudio)
	}
	clip, err := audio.ParseWAV(wav)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("yandex: %w", err)
	}
	return clip, nil
}

func (y *Yandex) request(req Request) *tts.UtteranceSynthesisRequest {
	voice := y.cfg.Voice
	if req.Voice != "" {
		voice = req.Voice
	}

	r := &tts.UtteranceSynthesisRequest{}
	r.SetText(req.Text)
	if y.cfg.Model != "" {
		r.SetModel(y.cfg.Model)
	}

	voiceHint := &tts.Hints{}
	voiceHint.SetVoice(voice)
	speedHint := &tts.Hints{}
	// SpeechKit accepts speeds in [0.1, 3].
	speedHint.SetSpeed(max(0.1, min(3, req.rate())))
	r.SetHints([]*tts.Hints{voiceHint, speedHint})

	container := &tts.ContainerAudio{}
	container.SetContainerAudioType(tts.ContainerAudio_WAV)
	spec := &tts.AudioFormatOptions{}
	spec.SetContainerAudio(container)
	r.SetOutputAudioSpec(spec)
	r.SetLoudnessNormalizationType(tts.UtteranceSynthesisRequest_LUFS)
	return r
}

// Validate checks the credentials are present. It does not call the API.
func (y *Yandex) Validate(context.Context) error {
	if y.cfg.APIKey == "" {
		return errors.New("yandex: api key is required")
	}
	return nil
}

// Close releases the connection.
func (y *Yandex) Close() error {
	return y.conn.Close()
}
