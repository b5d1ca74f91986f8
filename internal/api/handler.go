package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/kestrel/internal/consolidate"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// defaultAlertLimit bounds unpaginated alert listings.
const defaultAlertLimit = 100

// Handler holds dependencies for API handlers.
type Handler struct {
	repo    domain.Repository
	cache   domain.Cache
	queries *consolidate.Service
	version string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, queries *consolidate.Service, version string) *Handler {
	return &Handler{
		repo:    repo,
		cache:   cache,
		queries: queries,
		version: version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ListAlerts serves the consolidated alert view, rule and ML alerts
// merged, filtered by query parameters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAlertFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	alerts, err := h.queries.Alerts(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(alerts),
		"alerts": emptyIfNil(alerts),
	})
}

// ListMLAlerts serves model-produced alerts ordered by anomaly score.
func (h *Handler) ListMLAlerts(w http.ResponseWriter, r *http.Request) {
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), defaultAlertLimit)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "limit must be a positive integer",
		})
		return
	}

	alerts, err := h.queries.MLAlerts(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list ml alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list ml alerts",
		})
		return
	}
	if alerts == nil {
		alerts = []*domain.MLAlert{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

// GetCustomer serves a single customer's profile and alert history.
// A customer with no transactions at all is 404; a customer with
// activity but zero alerts returns the profile with an empty alert list.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customerID := chi.URLParam(r, "id")
	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "customer id is required",
		})
		return
	}

	profile, err := h.queries.CustomerProfile(r.Context(), customerID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "customer not found",
			})
			return
		}
		slog.Error("failed to get customer profile", "customer_id", customerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get customer profile",
		})
		return
	}

	if profile.Alerts == nil {
		profile.Alerts = []*domain.Alert{}
	}
	writeJSON(w, http.StatusOK, profile)
}

// GetSummary serves the global detection summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queries.Summary(r.Context())
	if err != nil {
		slog.Error("failed to build summary", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build summary",
		})
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func parseAlertFilter(r *http.Request) (domain.AlertFilter, error) {
	q := r.URL.Query()
	filter := domain.AlertFilter{
		CustomerID: q.Get("customerId"),
		RuleName:   q.Get("rule"),
	}

	limit, err := parsePositiveInt(q.Get("limit"), defaultAlertLimit)
	if err != nil {
		return filter, errors.New("limit must be a positive integer")
	}
	filter.Limit = limit

	if raw := q.Get("minRisk"); raw != "" {
		minRisk, err := strconv.Atoi(raw)
		if err != nil || minRisk < 0 || minRisk > 100 {
			return filter, errors.New("minRisk must be an integer in [0, 100]")
		}
		filter.MinRiskScore = minRisk
	}

	return filter, nil
}

func parsePositiveInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, errors.New("not a positive integer")
	}
	return v, nil
}

func emptyIfNil(alerts []*domain.Alert) []*domain.Alert {
	if alerts == nil {
		return []*domain.Alert{}
	}
	return alerts
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
