package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/br-price-tracker/internal/database"
	"github.com/maltedev/br-price-tracker/internal/jobs"
	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/maltedev/br-price-tracker/internal/sites"
	"github.com/maltedev/br-price-tracker/internal/storage"
	"github.com/maltedev/br-price-tracker/internal/tracker"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	maxImportBytes      = 32 << 20
)

type Tracker interface {
	Lookup(ctx context.Context, site models.Site, input string, force bool) (*tracker.LookupResult, error)
	History(ctx context.Context, site models.Site, input string, limit int) ([]models.Snapshot, error)
	Products(ctx context.Context) ([]models.TrackedProduct, error)
	Search(ctx context.Context, site models.Site, query string) ([]models.SearchResult, error)
}

type Refresher interface {
	RunOnce(ctx context.Context) (jobs.Stats, error)
}

// Archive exports and imports the local price history.
type Archive interface {
	Export(ctx context.Context) ([]models.Snapshot, error)
	Import(ctx context.Context, snaps []models.Snapshot) (int, error)
}

type OutboxStats interface {
	Stats(ctx context.Context) (database.RelayStats, error)
}

// HealthCheck reports an error when a dependency is unusable.
type HealthCheck func(ctx context.Context) error

type Handlers struct {
	tracker   Tracker
	refresher Refresher
	archive   Archive
	outbox    OutboxStats
	checks    map[string]HealthCheck
	logger    *slog.Logger
}

type HandlerOption func(*Handlers)

func WithRefresher(r Refresher) HandlerOption { return func(h *Handlers) { h.refresher = r } }

func WithArchive(a Archive) HandlerOption { return func(h *Handlers) { h.archive = a } }

func WithOutbox(o OutboxStats) HandlerOption { return func(h *Handlers) { h.outbox = o } }

func WithHealthCheck(name string, check HealthCheck) HandlerOption {
	return func(h *Handlers) { h.checks[name] = check }
}

func NewHandlers(t Tracker, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		tracker: t,
		checks:  make(map[string]HealthCheck),
		logger:  logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type LookupRequest struct {
	Site  string `json:"site"`
	Input string `json:"input"`
	Force bool   `json:"force"`
}

func (h *Handlers) Lookup(w http.ResponseWriter, r *http.Request) {
	var req LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", r.URL.Path)
		return
	}
	if strings.TrimSpace(req.Input) == "" {
		WriteError(w, http.StatusBadRequest, "input is required", r.URL.Path)
		return
	}

	var site models.Site
	if req.Site == "" {
		detected, ok := sites.Detect(req.Input)
		if !ok {
			WriteError(w, http.StatusBadRequest, "site is required unless input is a product URL", r.URL.Path)
			return
		}
		site = detected
	} else {
		parsed, ok := h.parseSite(w, r, req.Site)
		if !ok {
			return
		}
		site = parsed
	}

	result, err := h.tracker.Lookup(r.Context(), site, req.Input, req.Force)
	if err != nil {
		h.respondFailure(w, r, err, "lookup failed", "site", site, "input", req.Input)
		return
	}
	h.respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.tracker.Products(r.Context())
	if err != nil {
		h.respondFailure(w, r, err, "failed to list products")
		return
	}
	h.respondJSON(w, http.StatusOK, products)
}

func (h *Handlers) ProductHistory(w http.ResponseWriter, r *http.Request) {
	site, ok := h.parseSite(w, r, chi.URLParam(r, "site"))
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer", r.URL.Path)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	snaps, err := h.tracker.History(r.Context(), site, chi.URLParam(r, "id"), limit)
	if err != nil {
		h.respondFailure(w, r, err, "failed to load history", "site", site)
		return
	}
	h.respondJSON(w, http.StatusOK, snaps)
}

func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	site, ok := h.parseSite(w, r, r.URL.Query().Get("site"))
	if !ok {
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		WriteError(w, http.StatusBadRequest, "q is required", r.URL.Path)
		return
	}

	results, err := h.tracker.Search(r.Context(), site, query)
	if err != nil {
		h.respondFailure(w, r, err, "search failed", "site", site, "query", query)
		return
	}
	h.respondJSON(w, http.StatusOK, results)
}

func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		WriteError(w, http.StatusServiceUnavailable, "refresh is disabled", r.URL.Path)
		return
	}

	stats, err := h.refresher.RunOnce(r.Context())
	if err != nil {
		if errors.Is(err, jobs.ErrLeaseHeld) {
			WriteError(w, http.StatusConflict, "a refresh is already running on another instance", r.URL.Path)
			return
		}
		h.respondFailure(w, r, err, "refresh failed")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

func (h *Handlers) ExportHistory(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		WriteError(w, http.StatusServiceUnavailable, "local history is disabled", r.URL.Path)
		return
	}

	snaps, err := h.archive.Export(r.Context())
	if err != nil {
		h.respondFailure(w, r, err, "failed to export history")
		return
	}

	backup := storage.NewBackup(snaps)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="price-history-%s.json"`, backup.ExportedAt.Format("20060102-150405")))
	h.respondJSON(w, http.StatusOK, backup)
}

func (h *Handlers) ImportHistory(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		WriteError(w, http.StatusServiceUnavailable, "local history is disabled", r.URL.Path)
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxImportBytes)).Decode(&raw); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid backup document", r.URL.Path)
		return
	}
	backup, err := storage.DecodeBackup(raw)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), r.URL.Path)
		return
	}

	n, err := h.archive.Import(r.Context(), backup.Snapshots)
	if err != nil {
		h.respondFailure(w, r, err, "failed to import history")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int{
		"received": len(backup.Snapshots),
		"imported": n,
	})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := http.StatusOK
	health := map[string]any{"status": "ok"}

	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			health["status"] = "error"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	if len(checks) > 0 {
		health["checks"] = checks
	}

	if h.outbox != nil {
		stats, err := h.outbox.Stats(ctx)
		if err != nil {
			h.logger.Warn("failed to read outbox stats", "error", err)
		} else {
			health["outbox"] = stats
			if stats.Pending > 1000 && status == http.StatusOK {
				health["status"] = "warning"
				health["message"] = "high number of pending outbox events"
			}
			if stats.DeadLetter > 100 {
				health["status"] = "error"
				health["message"] = "high number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) parseSite(w http.ResponseWriter, r *http.Request, raw string) (models.Site, bool) {
	site, err := models.ParseSite(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error(), r.URL.Path)
		return "", false
	}
	return site, true
}

func (h *Handlers) respondFailure(w http.ResponseWriter, r *http.Request, err error, msg string, attrs ...any) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, append(attrs, "error", err)...)
	} else {
		h.logger.Info(msg, append(attrs, "error", err)...)
	}

	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = msg
	}
	WriteError(w, status, detail, r.URL.Path)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
