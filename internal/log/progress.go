// Package log carries logging helpers shared by the commands, on top of the
// global zerolog logger.
package log

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// defaultLogInterval throttles progress lines so large downloads do not flood
// the log.
const defaultLogInterval = 2 * time.Second

// Progress reports byte progress for a long-running transfer. It implements
// io.Writer so it can sit on the write side of an io.TeeReader.
type Progress struct {
	mu       sync.Mutex
	name     string
	total    int64
	done     int64
	started  time.Time
	lastLog  time.Time
	interval time.Duration
}

// NewProgress starts a progress report. A non-positive total means the size
// is unknown and percentages are omitted.
func NewProgress(name string, total int64) *Progress {
	now := time.Now()
	return &Progress{
		name:     name,
		total:    total,
		started:  now,
		lastLog:  now,
		interval: defaultLogInterval,
	}
}

func (p *Progress) Write(b []byte) (int, error) {
	p.Add(int64(len(b)))
	return len(b), nil
}

// Add records n more transferred bytes, logging at most once per interval.
func (p *Progress) Add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done += n
	now := time.Now()
	if now.Sub(p.lastLog) < p.interval {
		return
	}
	p.lastLog = now

	ev := log.Info().
		Str("name", p.name).
		Int64("bytes", p.done)
	if p.total > 0 {
		ev = ev.Float64("percent", 100*float64(p.done)/float64(p.total))
	}
	if elapsed := now.Sub(p.started).Seconds(); elapsed > 0 {
		ev = ev.Float64("mb_per_sec", float64(p.done)/elapsed/1e6)
	}
	ev.Msg("transfer progress")
}

// Finish logs the completed transfer.
func (p *Progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	log.Info().
		Str("name", p.name).
		Int64("bytes", p.done).
		Dur("elapsed", time.Since(p.started)).
		Msg("transfer complete")
}

// Bytes returns the transferred byte count so far.
func (p *Progress) Bytes() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}
