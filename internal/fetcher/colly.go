package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

type CollyOptions struct {
	UserAgent      string
	Timeout        time.Duration
	AllowedDomains []string
	Headers        map[string]string
}

func DefaultCollyOptions() CollyOptions {
	return CollyOptions{
		UserAgent:      DefaultUserAgent,
		Timeout:        30 * time.Second,
		AllowedDomains: []string{"www.kabum.com.br", "kabum.com.br", "www.amazon.com.br", "amazon.com.br"},
		Headers:        DefaultHeaders,
	}
}

// CollyFetcher is the default plain-HTTP backend.
type CollyFetcher struct {
	Collector *colly.Collector
	headers   map[string]string
	logger    *slog.Logger
}

func NewCollyFetcher(opts CollyOptions, logger *slog.Logger) *CollyFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	c := colly.NewCollector(
		colly.UserAgent(opts.UserAgent),
		colly.AllowURLRevisit(),
	)
	c.AllowedDomains = opts.AllowedDomains
	if opts.Timeout > 0 {
		c.SetRequestTimeout(opts.Timeout)
	}
	c.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: opts.Timeout,
		MaxIdleConnsPerHost:   4,
	})

	return &CollyFetcher{
		Collector: c,
		headers:   opts.Headers,
		logger:    logger.With("component", "colly_fetcher"),
	}
}

func (f *CollyFetcher) Fetch(ctx context.Context, url string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := f.Collector.Clone()

	var (
		body     string
		fetchErr error
	)

	c.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
			return
		default:
		}
		for k, v := range f.headers {
			r.Headers.Set(k, v)
		}
	})

	c.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})

	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = StatusError(url, r.StatusCode)
			return
		}
		fetchErr = err
	})

	start := time.Now()
	if err := c.Visit(url); err != nil && fetchErr == nil {
		fetchErr = err
	}
	c.Wait()

	if fetchErr == nil {
		if err := ctx.Err(); err != nil {
			fetchErr = err
		}
	}
	if fetchErr != nil {
		f.logger.Warn("fetch failed", "url", url, "error", fetchErr)
		return "", fmt.Errorf("fetch %s: %w", url, fetchErr)
	}

	if IsBlockPage(body) {
		f.logger.Warn("block page detected", "url", url)
		return "", fmt.Errorf("%w: %s", ErrBlocked, url)
	}

	f.logger.Debug("fetched page", "url", url, "bytes", len(body), "duration", time.Since(start))
	return body, nil
}
