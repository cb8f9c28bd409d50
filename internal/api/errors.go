package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/maltedev/br-price-tracker/internal/fetcher"
	"github.com/maltedev/br-price-tracker/internal/jobs"
	"github.com/maltedev/br-price-tracker/internal/scraper"
	"github.com/maltedev/br-price-tracker/internal/sites"
	"github.com/maltedev/br-price-tracker/internal/storage"
)

// ProblemDetails follows RFC 7807.
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

func (pd *ProblemDetails) Error() string {
	return fmt.Sprintf("%d %s: %s", pd.Status, pd.Title, pd.Detail)
}

func WriteError(w http.ResponseWriter, status int, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(&ProblemDetails{
		Type:     "about:blank",
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sites.ErrUnsupportedSite),
		errors.Is(err, sites.ErrInvalidIdentifier),
		errors.Is(err, storage.ErrUnsupportedVersion):
		return http.StatusBadRequest
	case errors.Is(err, scraper.ErrProductUnavailable),
		errors.Is(err, fetcher.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, jobs.ErrLeaseHeld):
		return http.StatusConflict
	case errors.Is(err, fetcher.ErrBlocked):
		return http.StatusServiceUnavailable
	case errors.Is(err, fetcher.ErrUnexpectedStatus):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
