package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/readaloud/internal/audio"
)

// Store keeps clips in memory and, when configured, on disk. Disk hits are
// promoted to memory.
type Store struct {
	cfg    Config
	mem    *Memory
	disk   *Disk
	logger *log.Logger

	hits       atomic.Int64
	misses     atomic.Int64
	promotions atomic.Int64

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open builds a store from cfg. A nil logger uses the default one.
func Open(cfg Config, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.Default().WithPrefix("cache")
	}
	s := &Store{
		cfg:    cfg,
		mem:    NewMemory(cfg.MemoryBytes),
		logger: logger,
		stop:   make(chan struct{}),
	}
	if cfg.Dir != "" {
		d, err := OpenDisk(cfg.Dir, cfg.DiskBytes, cfg.CompressionLevel)
		if err != nil {
			return nil, fmt.Errorf("open disk cache: %w", err)
		}
		s.disk = d
	}
	if cfg.CleanupInterval > 0 {
		s.wg.Add(1)
		go s.cleanupLoop()
	}
	return s, nil
}

// Get returns the clip stored under key.
func (s *Store) Get(key string) (audio.Clip, Tier, bool) {
	if data, ok := s.mem.Get(key); ok {
		if c, err := audio.ParseWAV(data); err == nil {
			s.hits.Add(1)
			return c, TierMemory, true
		}
		s.mem.Delete(key)
	}
	if s.disk != nil {
		data, err := s.disk.Get(key)
		if err == nil {
			c, perr := audio.ParseWAV(data)
			if perr == nil {
				s.hits.Add(1)
				s.promotions.Add(1)
				_ = s.mem.Put(key, data)
				return c, TierDisk, true
			}
			err = fmt.Errorf("%w: %v", ErrCorrupted, perr)
			s.disk.Delete(key)
		}
		if errors.Is(err, ErrCorrupted) {
			s.logger.Warn("dropping cache entry", "key", key, "err", err)
		}
	}
	s.misses.Add(1)
	return audio.Clip{}, TierNone, false
}

// Put stores c in both tiers. A clip too large for a tier skips it.
func (s *Store) Put(key string, c audio.Clip) error {
	if err := c.Validate(); err != nil {
		return err
	}
	data := audio.EncodeWAV(c)
	if err := s.mem.Put(key, data); err != nil && !errors.Is(err, ErrItemTooLarge) {
		return err
	}
	if s.disk == nil {
		return nil
	}
	if err := s.disk.Put(key, data); err != nil && !errors.Is(err, ErrItemTooLarge) {
		s.logger.Warn("disk cache write failed", "key", key, "err", err)
	}
	return nil
}

// Delete removes key from every tier.
func (s *Store) Delete(key string) {
	s.mem.Delete(key)
	if s.disk != nil {
		s.disk.Delete(key)
	}
}

// Clear empties every tier.
func (s *Store) Clear() error {
	s.mem.Clear()
	if s.disk != nil {
		return s.disk.Clear()
	}
	return nil
}

// Summary aggregates counters across tiers.
type Summary struct {
	Hits       int64
	Misses     int64
	Promotions int64
	Memory     Stats
	Disk       Stats
}

// HitRate returns the overall hit rate.
func (s Summary) HitRate() float64 {
	return Stats{Hits: s.Hits, Misses: s.Misses}.HitRate()
}

// Stats returns the store counters.
func (s *Store) Stats() Summary {
	sum := Summary{
		Hits:       s.hits.Load(),
		Misses:     s.misses.Load(),
		Promotions: s.promotions.Load(),
		Memory:     s.mem.Stats(),
	}
	if s.disk != nil {
		sum.Disk = s.disk.Stats()
	}
	return sum
}

// Cleanup expires entries older than the TTL and trims the disk tier.
func (s *Store) Cleanup() {
	if s.cfg.TTL > 0 {
		pruned := s.mem.Prune(s.cfg.TTL)
		expired := 0
		if s.disk != nil {
			expired = s.disk.Expire(time.Now().Add(-s.cfg.TTL))
		}
		if pruned+expired > 0 {
			s.logger.Debug("expired cache entries", "memory", pruned, "disk", expired)
		}
	}
	if s.disk != nil {
		if n := s.disk.Trim(); n > 0 {
			s.logger.Debug("trimmed disk cache", "evicted", n)
		}
	}
}

func (s *Store) cleanupLoop() {
	defer s.wg.Done()
	t := time.NewTicker(s.cfg.CleanupInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			s.Cleanup()
		case <-s.stop:
			return
		}
	}
}

// Close stops the cleanup loop and saves the disk index.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		if s.disk != nil {
			err = s.disk.Close()
		}
	})
	return err
}
