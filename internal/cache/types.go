package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrItemTooLarge is returned when an entry exceeds a tier's capacity.
	ErrItemTooLarge = errors.New("item too large for cache")

	// ErrCorrupted is returned when stored bytes fail to decode.
	ErrCorrupted = errors.New("cache data corrupted")
)

// Tier identifies where an entry was found.
type Tier int

const (
	TierNone Tier = iota
	TierMemory
	TierDisk
)

func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDisk:
		return "disk"
	default:
		return "none"
	}
}

// Stats holds counters for a single tier.
type Stats struct {
	Capacity  int64
	Size      int64
	Items     int64
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns hits / (hits + misses), or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	if s.Hits+s.Misses == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Hits+s.Misses)
}

// Config sizes the tiers. An empty Dir disables the disk tier.
type Config struct {
	MemoryBytes      int64         `mapstructure:"memory_bytes"`
	DiskBytes        int64         `mapstructure:"disk_bytes"`
	Dir              string        `mapstructure:"dir"`
	CompressionLevel int           `mapstructure:"compression_level"`
	TTL              time.Duration `mapstructure:"ttl"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

// DefaultConfig returns 64MB of memory and 512MB of disk kept for a week.
func DefaultConfig() Config {
	return Config{
		MemoryBytes:      64 << 20,
		DiskBytes:        512 << 20,
		CompressionLevel: 3,
		TTL:              7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// Key lists everything that changes a synthesizer's output.
type Key struct {
	Engine string
	Voice  string
	Lang   string
	Text   string
	Rate   float64
	Pitch  float64
}

// String hashes the key into a stable identifier. Whitespace runs in Text
// are collapsed so reflowed documents still hit.
func (k Key) String() string {
	text := strings.Join(strings.Fields(k.Text), " ")
	sum := sha256.Sum256(fmt.Appendf(nil, "%s\x00%s\x00%s\x00%.2f\x00%.2f\x00%s",
		k.Engine, k.Voice, strings.ToLower(k.Lang), k.Rate, k.Pitch, text))
	return hex.EncodeToString(sum[:16])
}
