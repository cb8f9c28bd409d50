package scraper

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/br-price-tracker/internal/browser"
	"github.com/maltedev/br-price-tracker/internal/fetcher"
	"github.com/maltedev/br-price-tracker/internal/ratelimit"
)

const (
	BackendColly      = "colly"
	BackendPlaywright = "playwright"
	BackendChromedp   = "chromedp"
)

type BackendOptions struct {
	UserAgent  string
	Timeout    time.Duration
	Headless   bool
	ChromePath string
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Adaptive   bool
	MaxRetries int
	RetryDelay time.Duration
}

// Backend is a rate limited fetcher plus the function that releases it.
type Backend struct {
	Fetcher fetcher.Fetcher
	Close   func() error
}

// NewBackend builds the named fetch backend behind its own rate limiter.
func NewBackend(name string, opts BackendOptions, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		raw   fetcher.Fetcher
		closeFn = func() error { return nil }
	)

	switch name {
	case BackendColly, "":
		co := fetcher.DefaultCollyOptions()
		if opts.UserAgent != "" {
			co.UserAgent = opts.UserAgent
		}
		if opts.Timeout > 0 {
			co.Timeout = opts.Timeout
		}
		raw = fetcher.NewCollyFetcher(co, logger)

	case BackendPlaywright:
		bo := browser.DefaultOptions()
		bo.Headless = opts.Headless
		if opts.UserAgent != "" {
			bo.UserAgent = opts.UserAgent
		}
		if opts.Timeout > 0 {
			bo.Timeout = opts.Timeout
		}
		b, err := browser.New(bo, logger)
		if err != nil {
			return nil, err
		}
		raw, closeFn = b, b.Close

	case BackendChromedp:
		co := fetcher.DefaultChromeOptions()
		co.Headless = opts.Headless
		co.ExecPath = opts.ChromePath
		if opts.UserAgent != "" {
			co.UserAgent = opts.UserAgent
		}
		if opts.Timeout > 0 {
			co.Timeout = opts.Timeout
		}
		cf := fetcher.NewChromeFetcher(co, logger)
		raw, closeFn = cf, cf.Close

	default:
		return nil, fmt.Errorf("unknown fetcher backend %q", name)
	}

	var limiter ratelimit.RateLimiter
	if opts.Adaptive {
		limiter = ratelimit.NewAdaptiveRateLimiter(opts.MinDelay, opts.MaxDelay)
	} else {
		limiter = ratelimit.NewSimpleRateLimiter(opts.MinDelay, opts.MaxDelay)
	}

	limited := fetcher.NewLimited(raw, limiter, opts.MaxRetries, logger).WithRetryDelay(opts.RetryDelay)
	logger.Info("fetch backend ready", "backend", name, "adaptive", opts.Adaptive)

	return &Backend{Fetcher: limited, Close: closeFn}, nil
}
