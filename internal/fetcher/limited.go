package fetcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/maltedev/br-price-tracker/internal/ratelimit"
)

// Limited spaces out calls to the wrapped fetcher and retries transient
// failures. Outcomes are reported to adaptive limiters.
type Limited struct {
	next       Fetcher
	limiter    ratelimit.RateLimiter
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

func NewLimited(next Fetcher, limiter ratelimit.RateLimiter, maxRetries int, logger *slog.Logger) *Limited {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Limited{
		next:       next,
		limiter:    limiter,
		maxRetries: maxRetries,
		retryDelay: time.Second,
		logger:     logger.With("component", "limited_fetcher"),
	}
}

// WithRetryDelay sets the base delay between attempts. Attempt n waits n*d.
func (l *Limited) WithRetryDelay(d time.Duration) *Limited {
	if d > 0 {
		l.retryDelay = d
	}
	return l
}

func (l *Limited) Fetch(ctx context.Context, url string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			l.logger.Info("retrying fetch", "attempt", attempt+1, "url", url)
		}
		if err := l.limiter.Wait(ctx); err != nil {
			return "", err
		}

		html, err := l.next.Fetch(ctx, url)
		l.record(err)
		if err == nil {
			return html, nil
		}

		lastErr = err
		if !Retryable(err) {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt+1) * l.retryDelay):
		}
	}

	return "", lastErr
}

func (l *Limited) record(err error) {
	fb, ok := l.limiter.(ratelimit.Feedback)
	if !ok {
		return
	}
	switch {
	case err == nil:
		fb.RecordSuccess()
	case Retryable(err) || isBlocked(err):
		fb.RecordError()
	}
}
