// Package cache stores synthesized clips so repeated chunks skip the
// synthesizer. A byte-bounded LRU in memory sits in front of a zstd
// compressed directory on disk.
package cache
