package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/modelmux/accounting"
	"github.com/hrygo/modelmux/pipeline"
)

// Dispatch runs one request end to end and returns the assembled
// result. Admission failures map to 429 so clients can back off.
func (s *APIV1Service) Dispatch(c echo.Context) error {
	request := &pipeline.Request{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body").SetInternal(err)
	}
	if request.RequestID == "" {
		request.RequestID = c.Response().Header().Get(echo.HeaderXRequestID)
	}

	result, err := s.Dispatcher.Process(c.Request().Context(), *request)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrEmptyRequest):
			return echo.NewHTTPError(http.StatusBadRequest, "request text is empty")
		case errors.Is(err, accounting.ErrRateLimited):
			return echo.NewHTTPError(http.StatusTooManyRequests, "request rate limit exceeded")
		case errors.Is(err, accounting.ErrBudgetExceeded):
			return echo.NewHTTPError(http.StatusTooManyRequests, "daily budget exceeded")
		}
		slog.Error("apiv1: dispatch failed", "request_id", request.RequestID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "dispatch failed").SetInternal(err)
	}
	return c.JSON(http.StatusOK, result)
}

// ProviderStatus is the read-only view of one configured provider.
type ProviderStatus struct {
	ID        string  `json:"id"`
	Enabled   bool    `json:"enabled"`
	Available bool    `json:"available"`
	Priority  int     `json:"priority"`
	Model     string  `json:"model,omitempty"`
	CostPer1K float64 `json:"cost_per_1k"`
	LatencyMs int     `json:"latency_ms"`
	Quality   float64 `json:"quality"`
}

// ListProviders reports the provider table joined with registry
// availability. Available means the registry can construct the
// capability, not that the upstream endpoint is reachable.
func (s *APIV1Service) ListProviders(c echo.Context) error {
	statuses := make([]ProviderStatus, 0, len(s.Providers))
	for _, p := range s.Providers {
		statuses = append(statuses, ProviderStatus{
			ID:        p.ID,
			Enabled:   p.Enabled,
			Available: s.Registry != nil && s.Registry.Has(p.ID),
			Priority:  p.Priority,
			Model:     p.Model,
			CostPer1K: p.CostPer1K,
			LatencyMs: p.LatencyMs,
			Quality:   p.Quality,
		})
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Priority < statuses[j].Priority
	})
	return c.JSON(http.StatusOK, map[string]any{
		"providers": statuses,
	})
}
