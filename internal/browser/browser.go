package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/br-price-tracker/internal/fetcher"
	"github.com/playwright-community/playwright-go"
)

// Browser is a headless Chromium driven through playwright. It is the fetch
// backend of last resort for pages that hide prices behind JavaScript or a
// "continue shopping" interstitial.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	MaxRetries     int
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      fetcher.DefaultUserAgent,
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "pt-BR,pt;q=0.9,en-US;q=0.6",
		TimezoneID:     "America/Sao_Paulo",
		Locale:         "pt-BR",
		MaxRetries:     3,
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Encoding": "gzip, deflate, br",
			"DNT":             "1",
		},
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = slog.Default()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
			"--lang=" + opts.Locale,
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := map[string]string{"Accept-Language": opts.AcceptLanguage}
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

// Fetch opens url in a fresh tab and returns the rendered HTML.
func (b *Browser) Fetch(ctx context.Context, url string) (string, error) {
	page, err := b.NewPage()
	if err != nil {
		return "", err
	}
	defer page.Close()

	status, err := b.NavigateWithRetry(ctx, page, url, b.opts.MaxRetries)
	if err != nil {
		return "", err
	}
	if status >= 400 {
		return "", fetcher.StatusError(url, status)
	}

	if err := b.HumanizeInteraction(ctx, page); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		b.logger.Debug("humanize interaction failed", "error", err)
	}

	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	if fetcher.IsBlockPage(content) {
		return "", fmt.Errorf("%w: %s", fetcher.ErrBlocked, url)
	}
	return content, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// NavigateWithRetry loads url and returns the main response status.
func (b *Browser) NavigateWithRetry(ctx context.Context, page playwright.Page, url string, maxRetries int) (int, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			b.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := sleep(ctx, time.Duration(i+1)*time.Second); err != nil {
				return 0, err
			}
		}

		resp, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
		})
		if err != nil {
			lastErr = err
			b.logger.Error("navigation failed", "error", err, "attempt", i+1)
			continue
		}

		status := 0
		if resp != nil {
			status = resp.Status()
		}
		if status == 404 {
			return status, nil
		}

		bypassed, err := b.CheckAndBypassBotProtection(ctx, page)
		if err != nil {
			b.logger.Error("failed to check bot protection", "error", err)
			lastErr = err
			continue
		}
		if bypassed {
			b.logger.Info("bot protection bypassed", "url", url)
			return 200, nil
		}
		return status, nil
	}

	return 0, fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

var interstitialMarkers = []string{
	"clique no botão abaixo para continuar comprando",
	"continuar comprando",
}

// CheckAndBypassBotProtection clicks through the Amazon "continue shopping"
// interstitial. It reports true when a click got the real page back.
func (b *Browser) CheckAndBypassBotProtection(ctx context.Context, page playwright.Page) (bool, error) {
	if err := sleep(ctx, time.Second); err != nil {
		return false, err
	}

	content, err := page.Content()
	if err != nil {
		return false, fmt.Errorf("failed to get page content: %w", err)
	}
	if !isInterstitial(content) {
		return false, nil
	}

	b.logger.Info("bot interstitial detected, attempting bypass")

	buttonSelectors := []string{
		`button:has-text("Continuar comprando")`,
		`input[type="submit"][value*="Continuar"]`,
		`.a-button-primary`,
		`button.a-button-text`,
	}

	for _, selector := range buttonSelectors {
		button := page.Locator(selector).First()

		count, err := button.Count()
		if err != nil || count == 0 {
			continue
		}

		b.logger.Debug("found interstitial button", "selector", selector)
		if err := button.Click(); err != nil {
			b.logger.Error("failed to click button", "error", err)
			continue
		}

		if err := sleep(ctx, 3*time.Second); err != nil {
			return false, err
		}

		newContent, _ := page.Content()
		if !isInterstitial(newContent) {
			return true, nil
		}
	}

	return false, fmt.Errorf("%w: could not get past interstitial", fetcher.ErrBlocked)
}

// HumanizeInteraction moves the mouse and scrolls a little before content is
// read.
func (b *Browser) HumanizeInteraction(ctx context.Context, page playwright.Page) error {
	for i := 0; i < 3; i++ {
		x := float64(100 + i*200)
		y := float64(100 + i*150)
		if err := page.Mouse().Move(x, y); err != nil {
			return err
		}
		if err := sleep(ctx, time.Millisecond*time.Duration(200+i*100)); err != nil {
			return err
		}
	}

	if _, err := page.Evaluate(`window.scrollBy(0, Math.random() * 300)`); err != nil {
		return err
	}
	return sleep(ctx, time.Second)
}

func isInterstitial(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range interstitialMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
