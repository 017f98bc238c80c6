package ingest

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/comicpulse/priceintel/internal/config"
)

// PolitenessLimiter wraps a rate.Limiter with adaptive rate adjustment for
// one marketplace host. On success it increases the rate by 20% (up to 2x
// initial); on 429 it halves the rate (down to initial/4).
type PolitenessLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewPolitenessLimiter creates an adaptive per-host limiter.
func NewPolitenessLimiter(initialRate rate.Limit, burst int) *PolitenessLimiter {
	return &PolitenessLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (p *PolitenessLimiter) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (p *PolitenessLimiter) OnSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	newRate := p.currentRate * 1.2
	if newRate > p.maxRate {
		newRate = p.maxRate
	}
	p.currentRate = newRate
	p.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate after a 429 response.
func (p *PolitenessLimiter) OnRateLimit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	newRate := p.currentRate * 0.5
	if newRate < p.minRate {
		newRate = p.minRate
	}
	p.currentRate = newRate
	p.limiter.SetLimit(newRate)
	zap.L().Warn("ingest: reducing host rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (p *PolitenessLimiter) Limit() rate.Limit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentRate
}

// HTTPFetcher implements Fetcher using net/http with retry and per-host
// politeness limiting. This is transport courtesy toward dump hosts; the
// per-source admission budget is enforced separately by the rate limiter
// component before a fetch is attempted.
type HTTPFetcher struct {
	client   *http.Client
	cfg      config.IngestConfig
	mu       sync.Mutex
	limiters map[string]*PolitenessLimiter
}

// NewHTTPFetcher creates an HTTPFetcher from the ingest configuration.
func NewHTTPFetcher(cfg config.IngestConfig) *HTTPFetcher {
	if cfg.TimeoutSecs <= 0 {
		cfg.TimeoutSecs = 30
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "priceintel/1.0"
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   time.Duration(cfg.TimeoutSecs) * time.Second,
			Transport: transport,
		},
		cfg:      cfg,
		limiters: make(map[string]*PolitenessLimiter),
	}
}

// limiterFor returns the politeness limiter for the URL's host, creating a
// default one on first contact.
func (f *HTTPFetcher) limiterFor(rawURL string) *PolitenessLimiter {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if lim, ok := f.limiters[host]; ok {
		return lim
	}
	lim := NewPolitenessLimiter(5, 5)
	f.limiters[host] = lim
	return lim
}

func (f *HTTPFetcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	limiter := f.limiterFor(req.URL.String())

	var lastErr error
	for attempt := range f.cfg.MaxRetries {
		if err := limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "ingest: limiter wait")
		}

		cloned := req.Clone(ctx)
		resp, err := f.client.Do(cloned)
		if err != nil {
			lastErr = err
			zap.L().Warn("ingest: request failed, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			f.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("ingest: http 429 from %s", req.URL.String())
			limiter.OnRateLimit()
			f.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("ingest: http %d from %s", resp.StatusCode, req.URL.String())
			zap.L().Warn("ingest: server error, retrying",
				zap.String("url", req.URL.String()),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			f.backoff(ctx, attempt)
			continue
		}

		limiter.OnSuccess()
		return resp, nil
	}

	return nil, eris.Wrap(lastErr, "ingest: all retries exhausted")
}

func (f *HTTPFetcher) backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Download fetches the URL and returns the response body.
func (f *HTTPFetcher) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create request")
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.doWithRetry(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("ingest: unexpected status %d from %s", resp.StatusCode, rawURL)
	}

	return resp.Body, nil
}

// DownloadToFile fetches the URL and writes it to the given path.
func (f *HTTPFetcher) DownloadToFile(ctx context.Context, rawURL string, path string) (int64, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "ingest: write file")
	}

	return n, nil
}
