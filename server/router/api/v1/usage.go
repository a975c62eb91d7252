package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/modelmux/store"
)

const (
	defaultUsagePageSize = 50
	maxUsagePageSize     = 200
	defaultBreakdownDays = 7
	maxBreakdownDays     = 90
)

// ListUsage returns persisted usage records, newest first. Filters are
// optional query parameters; limit is capped to keep responses bounded.
func (s *APIV1Service) ListUsage(c echo.Context) error {
	find := &store.FindUsage{}
	if userID := c.QueryParam("user_id"); userID != "" {
		find.UserID = &userID
	}
	if provider := c.QueryParam("provider"); provider != "" {
		find.Provider = &provider
	}
	if requestID := c.QueryParam("request_id"); requestID != "" {
		find.RequestID = &requestID
	}

	limit := defaultUsagePageSize
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = parsed
	}
	if limit > maxUsagePageSize {
		limit = maxUsagePageSize
	}
	find.Limit = &limit

	if raw := c.QueryParam("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		find.Offset = &parsed
	}

	records, err := s.Store.ListUsage(c.Request().Context(), find)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list usage").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"records": records,
	})
}

// DailyUsage returns the per-day request/token/cost rollup for a user.
func (s *APIV1Service) DailyUsage(c echo.Context) error {
	userID := c.QueryParam("user_id")
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_id is required")
	}

	days := defaultBreakdownDays
	if raw := c.QueryParam("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid days")
		}
		days = parsed
	}
	if days > maxBreakdownDays {
		days = maxBreakdownDays
	}

	breakdown, err := s.Store.DailyBreakdown(c.Request().Context(), userID, days)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to aggregate usage").SetInternal(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"user_id": userID,
		"days":    breakdown,
	})
}
