package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	indexFile = "index.gob"
	// Payloads under this size are stored raw.
	compressMin = 1024
)

// Disk persists entries as one file per key plus a gob index.
type Disk struct {
	dir      string
	capacity int64

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu    sync.Mutex
	size  int64
	index map[string]*diskEntry
	stats Stats
}

// diskEntry is exported field-wise for gob.
type diskEntry struct {
	File       string
	Stored     int64 // bytes on disk
	Raw        int64
	Created    time.Time
	LastAccess time.Time
	Compressed bool
}

// OpenDisk opens or creates a disk tier in dir. A level of 0 disables
// compression.
func OpenDisk(dir string, capacity int64, level int) (*Disk, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	d := &Disk{dir: dir, capacity: capacity, index: make(map[string]*diskEntry)}
	if level > 0 {
		var err error
		d.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		d.dec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
	}
	// A damaged index only costs the old entries.
	if err := d.load(); err != nil {
		d.index = make(map[string]*diskEntry)
	}
	for _, e := range d.index {
		d.size += e.Stored
	}
	return d, nil
}

// Get reads and decompresses the entry for key. Entries whose file is gone
// or unreadable are dropped.
func (d *Disk) Get(key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.index[key]
	if !ok {
		d.stats.Misses++
		return nil, fs.ErrNotExist
	}
	data, err := os.ReadFile(filepath.Join(d.dir, e.File))
	if err == nil && e.Compressed {
		if d.dec == nil {
			err = fmt.Errorf("%w: compressed entry with compression disabled", ErrCorrupted)
		} else if data, err = d.dec.DecodeAll(data, nil); err != nil {
			err = fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
	}
	if err != nil {
		d.dropLocked(key, e)
		d.stats.Misses++
		return nil, err
	}
	e.LastAccess = time.Now()
	d.stats.Hits++
	return data, nil
}

// Put writes value through a temp file and rename.
func (d *Disk) Put(key string, value []byte) error {
	payload, compressed := value, false
	if d.enc != nil && len(value) > compressMin {
		if z := d.enc.EncodeAll(value, nil); len(z) < len(value) {
			payload, compressed = z, true
		}
	}
	n := int64(len(payload))

	d.mu.Lock()
	defer d.mu.Unlock()

	if n > d.capacity {
		return ErrItemTooLarge
	}
	if old, ok := d.index[key]; ok {
		d.dropLocked(key, old)
	}
	for d.size+n > d.capacity && len(d.index) > 0 {
		d.evictLocked()
	}

	name := fileName(key)
	if err := writeAtomic(filepath.Join(d.dir, name), payload); err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	now := time.Now()
	d.index[key] = &diskEntry{
		File:       name,
		Stored:     n,
		Raw:        int64(len(value)),
		Created:    now,
		LastAccess: now,
		Compressed: compressed,
	}
	d.size += n
	return nil
}

// Delete removes key and its file.
func (d *Disk) Delete(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.index[key]; ok {
		d.dropLocked(key, e)
	}
}

// Contains reports presence without touching the access time.
func (d *Disk) Contains(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.index[key]
	return ok
}

// Expire removes entries created before cutoff.
func (d *Disk) Expire(cutoff time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for key, e := range d.index {
		if e.Created.Before(cutoff) {
			d.dropLocked(key, e)
			n++
		}
	}
	return n
}

// Trim evicts least recently read entries until the tier is at 90% of
// capacity or below.
func (d *Disk) Trim() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	target := d.capacity * 9 / 10
	n := 0
	for d.size > target && len(d.index) > 0 {
		d.evictLocked()
		n++
	}
	return n
}

// Clear deletes every entry.
func (d *Disk) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, e := range d.index {
		d.dropLocked(key, e)
	}
	return d.save()
}

// Stats returns a snapshot of the counters.
func (d *Disk) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.stats
	s.Capacity = d.capacity
	s.Size = d.size
	s.Items = int64(len(d.index))
	return s
}

// Close persists the index.
func (d *Disk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enc != nil {
		_ = d.enc.Close()
	}
	if d.dec != nil {
		d.dec.Close()
	}
	return d.save()
}

func (d *Disk) dropLocked(key string, e *diskEntry) {
	_ = os.Remove(filepath.Join(d.dir, e.File))
	delete(d.index, key)
	d.size -= e.Stored
}

func (d *Disk) evictLocked() {
	keys := make([]string, 0, len(d.index))
	for k := range d.index {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return
	}
	oldest := slices.MinFunc(keys, func(a, b string) int {
		return d.index[a].LastAccess.Compare(d.index[b].LastAccess)
	})
	d.dropLocked(oldest, d.index[oldest])
	d.stats.Evictions++
}

func (d *Disk) load() error {
	f, err := os.Open(filepath.Join(d.dir, indexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	if err := gob.NewDecoder(f).Decode(&d.index); err != nil {
		return err
	}
	for key, e := range d.index {
		if _, err := os.Stat(filepath.Join(d.dir, e.File)); err != nil {
			delete(d.index, key)
		}
	}
	return nil
}

func (d *Disk) save() error {
	tmp := filepath.Join(d.dir, indexFile+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	err = gob.NewEncoder(f).Encode(d.index)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, filepath.Join(d.dir, indexFile))
}

func fileName(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:16]) + ".zst"
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
