package synth

import (
	"context"
	"net"
	"strings"
	"testing"

	tts "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/dgnsrekt/readaloud/internal/audio"
)

type fakeSpeechKit struct {
	tts.UnimplementedSynthesizerServer
	wav  []byte
	text string
	auth string
	hint []*tts.Hints
}

func (f *fakeSpeechKit) UtteranceSynthesis(req *tts.UtteranceSynthesisRequest, stream tts.Synthesizer_UtteranceSynthesisServer) error {
	md, _ := metadata.FromIncomingContext(stream.Context())
	if v := md.Get("authorization"); len(v) > 0 {
		f.auth = v[0]
	}
	if f.auth != "Api-Key secret" {
		return status.Error(codes.Unauthenticated, "bad key")
	}
	f.text = req.GetText()
	f.hint = req.GetHints()

	// Split the container across chunks like the real service.
	for off := 0; off < len(f.wav); off += 100 {
		end := min(off+100, len(f.wav))
		chunk := &tts.AudioChunk{}
		chunk.SetData(f.wav[off:end])
		resp := &tts.UtteranceSynthesisResponse{}
		resp.SetAudioChunk(chunk)
		if err := stream.Send(resp); err != nil {
			return err
		}
	}
	return nil
}

func startSpeechKit(t *testing.T, f *fakeSpeechKit) grpc.DialOption {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	tts.RegisterSynthesizerServer(srv, f)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

func TestYandex_Synthesize(t *testing.T) {
	src := audio.Clip{PCM: make([]int16, 500), SampleRate: 22050, Channels: 1}
	for i := range src.PCM {
		src.PCM[i] = int16(i)
	}
	fake := &fakeSpeechKit{wav: audio.EncodeWAV(src)}
	dialer := startSpeechKit(t, fake)

	y, err := NewYandex(YandexConfig{APIKey: "secret", Endpoint: "passthrough:///bufnet", Insecure: true}, dialer)
	if err != nil {
		t.Fatalf("NewYandex() error = %v", err)
	}
	defer y.Close()

	clip, err := y.Synthesize(context.Background(), Request{Text: "Privet.", Rate: 5})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(clip.PCM) != 500 || clip.PCM[499] != 499 || clip.SampleRate != 22050 {
		t.Errorf("clip = %d samples at %d Hz", len(clip.PCM), clip.SampleRate)
	}
	if fake.text != "Privet." {
		t.Errorf("server got text %q", fake.text)
	}

	var voice string
	var speed float64
	for _, h := range fake.hint {
		if v := h.GetVoice(); v != "" {
			voice = v
		}
		if s := h.GetSpeed(); s != 0 {
			speed = s
		}
	}
	if voice != "marina" || speed != 3 {
		t.Errorf("hints voice=%q speed=%v, want marina 3", voice, speed)
	}
}

func TestYandex_Errors(t *testing.T) {
	if _, err := NewYandex(YandexConfig{}); err == nil {
		t.Error("NewYandex() accepted a missing key")
	}

	dialer := startSpeechKit(t, &fakeSpeechKit{})
	y, _ := NewYandex(YandexConfig{APIKey: "wrong", Endpoint: "passthrough:///bufnet", Insecure: true}, dialer)
	defer y.Close()
	_, err := y.Synthesize(context.Background(), Request{Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Errorf("Synthesize() error = %v", err)
	}
}

func TestLoadYandexConfig(t *testing.T) {
	t.Setenv("YANDEX_API_KEY", "k")
	t.Setenv("YANDEX_VOICE", "alena")
	cfg, err := LoadYandexConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "k" || cfg.Voice != "alena" || cfg.Endpoint != YandexEndpoint {
		t.Errorf("LoadYandexConfig() = %+v", cfg)
	}
}
