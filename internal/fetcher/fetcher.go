// Package fetcher downloads raw product and search pages. Parsing is left to
// the caller.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotFound         = errors.New("page not found")
	ErrBlocked          = errors.New("blocked by anti-bot protection")
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// DefaultHeaders are sent with every request so the stores serve the
// Portuguese, server-rendered page.
var DefaultHeaders = map[string]string{
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language": "pt-BR,pt;q=0.9,en-US;q=0.6,en;q=0.5",
	"Cache-Control":   "no-cache",
	"DNT":             "1",
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Func adapts a plain function to the Fetcher interface.
type Func func(ctx context.Context, url string) (string, error)

func (f Func) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

var blockMarkers = []string{
	"captchacharacters",
	"/errors/validatecaptcha",
	"digite os caracteres que você vê abaixo",
	"não é um robô",
	"clique no botão abaixo para continuar comprando",
	"robot check",
	"cf-challenge",
	"attention required! | cloudflare",
}

// IsBlockPage reports whether html looks like a captcha or bot wall instead of
// the requested page.
func IsBlockPage(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// StatusError maps a non-2xx status code to one of the package errors.
func StatusError(url string, status int) error {
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrNotFound, url)
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s returned %d", ErrBlocked, url, status)
	default:
		return fmt.Errorf("%w: %s returned %d", ErrUnexpectedStatus, url, status)
	}
}

// Retryable reports whether a failed fetch is worth repeating.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrBlocked)
}

func isBlocked(err error) bool {
	return errors.Is(err, ErrBlocked)
}
