// Package queue synthesizes upcoming chunks ahead of playback so their clips
// are already in the cache when the speaker reaches them.
//
// A Queue holds pending jobs ordered by chunk index and runs them on a small
// worker pool. Follow keeps a queue pointed at the chunks after the one a
// playback engine is speaking; every cursor move replaces the pending work.
package queue
