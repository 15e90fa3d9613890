// Package fetch downloads remote datasets to local files. Downloads are rate
// limited per host and guarded by a circuit breaker so a failing mirror stops
// being hammered after a few consecutive errors.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	logx "github.com/spatweave/spatweave/internal/log"
)

// Options configures a Fetcher. Zero values pick the defaults.
type Options struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	MaxFailures       uint32
}

func (o Options) withDefaults() Options {
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 2
	}
	if o.Burst <= 0 {
		o.Burst = 4
	}
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Minute
	}
	if o.MaxFailures == 0 {
		o.MaxFailures = 5
	}
	return o
}

// hostLimiter rate limits per host using token buckets created on first use.
type hostLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

func newHostLimiter(rps float64, burst int) *hostLimiter {
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *hostLimiter) get(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[host]
	l.mu.RUnlock()
	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := l.limiters[host]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = limiter
	return limiter
}

func (l *hostLimiter) wait(ctx context.Context, host string) error {
	return l.get(host).Wait(ctx)
}

func (l *hostLimiter) allow(host string) bool {
	return l.get(host).Allow()
}

// Fetcher downloads dataset files.
type Fetcher struct {
	client  *http.Client
	limits  *hostLimiter
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
}

// New builds a Fetcher with the given options.
func New(opts Options) *Fetcher {
	opts = opts.withDefaults()

	settings := gobreaker.Settings{
		Name:    "fetch",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("fetch circuit breaker state change")
		},
	}

	return &Fetcher{
		client:  &http.Client{},
		limits:  newHostLimiter(opts.RequestsPerSecond, opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
		timeout: opts.Timeout,
	}
}

// Download fetches rawURL into dest, writing a temp file and renaming on
// success. It returns the byte count written.
func (f *Fetcher) Download(ctx context.Context, rawURL, dest string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("parsing url %s: %w", rawURL, err)
	}
	if err := f.limits.wait(ctx, u.Host); err != nil {
		return 0, fmt.Errorf("rate limit wait for %s: %w", u.Host, err)
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.download(ctx, rawURL, dest)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func (f *Fetcher) download(ctx context.Context, rawURL, dest string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fetching %s: unexpected status %s", rawURL, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, err
	}
	tmpPath := dest + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return 0, err
	}

	progress := logx.NewProgress(filepath.Base(dest), resp.ContentLength)
	n, err := io.Copy(out, io.TeeReader(resp.Body, progress))
	if err != nil {
		out.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, err
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("fetching %s: short download, %d of %d bytes", rawURL, n, resp.ContentLength)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, err
	}

	progress.Finish()
	log.Info().Str("url", rawURL).Str("dest", dest).Int64("bytes", n).Msg("dataset downloaded")
	return n, nil
}
