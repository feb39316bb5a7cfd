package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gofrs/flock"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readaloud/internal/audio"
	"github.com/dgnsrekt/readaloud/internal/bookmark"
	"github.com/dgnsrekt/readaloud/internal/cache"
	"github.com/dgnsrekt/readaloud/internal/clock"
	"github.com/dgnsrekt/readaloud/internal/observability"
	"github.com/dgnsrekt/readaloud/internal/playback"
	"github.com/dgnsrekt/readaloud/internal/queue"
	"github.com/dgnsrekt/readaloud/internal/speech"
	"github.com/dgnsrekt/readaloud/internal/speech/pcm"
	"github.com/dgnsrekt/readaloud/internal/speech/simulated"
	"github.com/dgnsrekt/readaloud/internal/synth"
	"github.com/dgnsrekt/readaloud/utils"
)

// ErrSpeakerBusy is returned when another process is already speaking.
var ErrSpeakerBusy = errors.New("another readaloud is already speaking")

const metricsNamespace = "readaloud"

func setSessionDefaults() {
	viper.SetDefault("synth.timeout", 30*time.Second)
	viper.SetDefault("synth.piper.binary", "piper")
	viper.SetDefault("synth.gtts.binary", "gtts-cli")
	viper.SetDefault("synth.gtts.lang", "en")
	viper.SetDefault("synth.gtts.requests_per_minute", 60)
	viper.SetDefault("synth.prefetch", 2)

	c := cache.DefaultConfig()
	viper.SetDefault("cache.memory_bytes", c.MemoryBytes)
	viper.SetDefault("cache.disk_bytes", c.DiskBytes)
	viper.SetDefault("cache.compression_level", c.CompressionLevel)
	viper.SetDefault("cache.ttl", c.TTL)
	viper.SetDefault("cache.cleanup_interval", c.CleanupInterval)

	viper.SetDefault("serve.addr", "127.0.0.1:7381")
	viper.SetDefault("serve.metrics", true)
}

func playbackConfig() (playback.Config, error) {
	cfg := playback.DefaultConfig()
	if err := viper.UnmarshalKey("playback", &cfg); err != nil {
		return cfg, fmt.Errorf("invalid playback config: %w", err)
	}
	// flags are bound to these keys and win over the file
	cfg.Rate = viper.GetFloat64("playback.rate")
	cfg.Volume = viper.GetFloat64("playback.volume")
	cfg.Lang = viper.GetString("playback.lang")
	return cfg, nil
}

func synthConfig(engine string) (synth.Config, error) {
	var cfg synth.Config
	if err := viper.UnmarshalKey("synth", &cfg); err != nil {
		return cfg, fmt.Errorf("invalid synth config: %w", err)
	}
	cfg.Engine = engine
	cfg.Piper.Model = utils.ExpandPath(cfg.Piper.Model)
	if engine == "yandex" && cfg.Yandex.APIKey == "" {
		env, err := synth.LoadYandexConfig()
		if err != nil {
			return cfg, err
		}
		if cfg.Yandex.Voice != "" {
			env.Voice = cfg.Yandex.Voice
		}
		cfg.Yandex = env
	}
	return cfg, nil
}

func cacheConfig() (cache.Config, error) {
	cfg := cache.DefaultConfig()
	if err := viper.UnmarshalKey("cache", &cfg); err != nil {
		return cfg, fmt.Errorf("invalid cache config: %w", err)
	}
	if cfg.Dir == "" {
		dir, err := gap.NewScope(gap.User, appName).CacheDir()
		if err != nil {
			return cfg, err
		}
		cfg.Dir = filepath.Join(dir, "clips")
	}
	cfg.Dir = utils.ExpandPath(cfg.Dir)
	return cfg, nil
}

// openBookmarks opens the configured store, or bookmarks.db in the user
// data directory.
func openBookmarks(ctx context.Context) (bookmark.Store, error) {
	dsn := bookmarksDSN
	if dsn == "" {
		path, err := gap.NewScope(gap.User, appName).DataPath("bookmarks.db")
		if err != nil {
			return nil, fmt.Errorf("unable to find data directory: %w", err)
		}
		dsn = path
	}
	if !isPostgres(dsn) {
		dsn = utils.ExpandPath(dsn)
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("unable to create bookmark directory: %w", err)
		}
	}
	store, err := bookmark.Open(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open bookmarks: %w", err)
	}
	return store, nil
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// session is one engine plus everything it borrows: backend, clip cache,
// prefetch queue, speaker lock and metrics.
type session struct {
	engine   *playback.Engine
	cache    *cache.Store
	prefetch *queue.Queue
	unfollow func()
	lock     *flock.Flock
	metrics  *observability.Metrics
}

type sessionOptions struct {
	engine  string
	clock   clock.Clock
	metrics *observability.Metrics
	// lockPath overrides the speaker lock location.
	lockPath string
}

func openSession(opts sessionOptions) (*session, error) {
	if opts.clock == nil {
		opts.clock = clock.Real()
	}
	cfg, err := playbackConfig()
	if err != nil {
		return nil, err
	}

	if opts.engine != "" && opts.engine != "sim" && cfg.MaxChunkLen > synth.MaxTextLen {
		cfg.MaxChunkLen = synth.MaxTextLen
	}

	s := &session{metrics: opts.metrics}
	backend, err := s.backend(opts, cfg)
	if err != nil {
		_ = s.release()
		return nil, err
	}

	popts := []playback.Option{
		playback.WithClock(opts.clock),
		playback.WithLogger(log.Default().WithPrefix("playback")),
	}
	if opts.metrics != nil {
		popts = append(popts, playback.WithObserver(opts.metrics))
	}
	engine, err := playback.New(backend, cfg, popts...)
	if err != nil {
		_ = speech.Close(backend)
		_ = s.release()
		return nil, err
	}
	s.engine = engine
	if s.prefetch != nil {
		s.unfollow = queue.Follow(engine, s.prefetch, viper.GetString("synth.voice"))
	}
	log.Debug("session opened", "engine", opts.engine, "lang", cfg.Lang, "rate", cfg.Rate)
	return s, nil
}

// backend builds the speech backend. Audible engines first take the
// speaker lock.
func (s *session) backend(opts sessionOptions, cfg playback.Config) (speech.Backend, error) {
	if opts.engine == "" || opts.engine == "sim" {
		return simulated.New(opts.clock, simulated.WithWordsPerMinute(cfg.WordsPerMinute)), nil
	}

	if err := s.acquireSpeaker(opts.lockPath); err != nil {
		return nil, err
	}

	scfg, err := synthConfig(opts.engine)
	if err != nil {
		return nil, err
	}
	engine, err := synth.New(scfg)
	if err != nil {
		return nil, err
	}

	ccfg, err := cacheConfig()
	if err != nil {
		return nil, err
	}
	store, err := cache.Open(ccfg, log.Default().WithPrefix("cache"))
	if err != nil {
		return nil, fmt.Errorf("unable to open clip cache: %w", err)
	}
	s.cache = store
	if s.metrics != nil {
		s.metrics.WatchCache(metricsNamespace, store)
	}

	graph, err := audio.NewGraph(audio.DefaultGraphConfig())
	if err != nil {
		if c, ok := engine.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return nil, fmt.Errorf("unable to open audio output: %w", err)
	}
	cached := synth.NewCached(engine, store, log.Default().WithPrefix("synth"))
	if n := viper.GetInt("synth.prefetch"); n > 0 {
		s.prefetch = queue.New(cached,
			queue.WithLookahead(n),
			queue.WithTimeout(viper.GetDuration("synth.timeout")),
			queue.WithLogger(log.Default().WithPrefix("prefetch")),
		)
	}
	bopts := []pcm.Option{
		pcm.WithLogger(log.Default().WithPrefix("pcm")),
		pcm.WithVoice(viper.GetString("synth.voice")),
	}
	if s.metrics != nil {
		bopts = append(bopts, pcm.WithSynthesisObserver(s.metrics.ObserveSynthesis))
	}
	return pcm.New(cached, graph, bopts...), nil
}

func (s *session) acquireSpeaker(path string) error {
	if path == "" {
		dir, err := gap.NewScope(gap.User, appName).CacheDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec
			return err
		}
		path = filepath.Join(dir, "speaker.lock")
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire speaker lock: %w", err)
	}
	if !ok {
		return ErrSpeakerBusy
	}
	s.lock = lock
	return nil
}

// Close stops prefetching, destroys the engine, which closes the backend,
// then releases the cache and the speaker lock.
func (s *session) Close() error {
	err := s.stopPrefetch()
	if s.engine != nil {
		err = errors.Join(err, s.engine.Destroy())
	}
	return errors.Join(err, s.release())
}

func (s *session) stopPrefetch() error {
	if s.unfollow != nil {
		s.unfollow()
		s.unfollow = nil
	}
	if s.prefetch == nil {
		return nil
	}
	err := s.prefetch.Close()
	s.prefetch = nil
	return err
}

func (s *session) release() error {
	err := s.stopPrefetch()
	if s.cache != nil {
		err = errors.Join(err, s.cache.Close())
		s.cache = nil
	}
	if s.lock != nil {
		err = errors.Join(err, s.lock.Unlock())
		s.lock = nil
	}
	return err
}
