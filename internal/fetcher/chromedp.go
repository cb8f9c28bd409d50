package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

type ChromeOptions struct {
	Headless  bool
	UserAgent string
	Timeout   time.Duration
	// Settle is how long to wait after the DOM is ready so client-side price
	// widgets can render.
	Settle   time.Duration
	ExecPath string
}

func DefaultChromeOptions() ChromeOptions {
	return ChromeOptions{
		Headless:  true,
		UserAgent: DefaultUserAgent,
		Timeout:   45 * time.Second,
		Settle:    2 * time.Second,
	}
}

// ChromeFetcher renders pages in headless Chrome for stores that only fill in
// prices from JavaScript.
type ChromeFetcher struct {
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	opts        ChromeOptions
	logger      *slog.Logger
}

func NewChromeFetcher(opts ChromeOptions, logger *slog.Logger) *ChromeFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(opts.UserAgent),
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("lang", "pt-BR"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	return &ChromeFetcher{
		allocCtx:    allocCtx,
		cancelAlloc: cancel,
		opts:        opts,
		logger:      logger.With("component", "chrome_fetcher"),
	}
}

func (f *ChromeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(f.allocCtx)
	defer cancelTab()

	if f.opts.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		tabCtx, cancelTimeout = context.WithTimeout(tabCtx, f.opts.Timeout)
		defer cancelTimeout()
	}

	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.opts.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		f.logger.Warn("chromedp run failed", "url", url, "error", err)
		return "", fmt.Errorf("chromedp fetch %s: %w", url, err)
	}

	if IsBlockPage(html) {
		f.logger.Warn("block page detected", "url", url)
		return "", fmt.Errorf("%w: %s", ErrBlocked, url)
	}
	return html, nil
}

func (f *ChromeFetcher) Close() error {
	f.cancelAlloc()
	return nil
}
