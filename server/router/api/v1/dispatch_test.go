package v1

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/modelmux/accounting"
	"github.com/hrygo/modelmux/capability"
	"github.com/hrygo/modelmux/internal/profile"
	"github.com/hrygo/modelmux/pipeline"
	"github.com/hrygo/modelmux/routing"
	"github.com/hrygo/modelmux/store"
)

type fakeDispatcher struct {
	result *pipeline.Result
	err    error
	last   pipeline.Request
}

func (f *fakeDispatcher) Process(_ context.Context, req pipeline.Request) (*pipeline.Result, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeUsageStore struct {
	lastFind *store.FindUsage
	records  []*store.UsageRecord
	days     []*store.DailyUsage
	err      error
}

func (f *fakeUsageStore) SaveUsage(context.Context, *store.UsageRecord) error { return f.err }

func (f *fakeUsageStore) ListUsage(_ context.Context, find *store.FindUsage) ([]*store.UsageRecord, error) {
	f.lastFind = find
	return f.records, f.err
}

func (f *fakeUsageStore) DailyCost(context.Context, string, time.Time) (float64, error) {
	return 0, f.err
}

func (f *fakeUsageStore) DailyBreakdown(context.Context, string, int) ([]*store.DailyUsage, error) {
	return f.days, f.err
}

func newTestContext(method, target, body string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestDispatchSuccess(t *testing.T) {
	dispatcher := &fakeDispatcher{result: &pipeline.Result{
		RequestID: "req-1",
		Answer:    "the assembled answer",
		Verified:  true,
	}}
	service := &APIV1Service{Dispatcher: dispatcher}

	c, rec := newTestContext(http.MethodPost, "/api/v1/dispatch",
		`{"text":"summarize this","user_id":"alice","depth":"fast"}`)
	require.NoError(t, service.Dispatch(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	var result pipeline.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "the assembled answer", result.Answer)
	assert.True(t, result.Verified)

	assert.Equal(t, "summarize this", dispatcher.last.Text)
	assert.Equal(t, "alice", dispatcher.last.UserID)
	assert.Equal(t, "fast", dispatcher.last.Depth)
}

func TestDispatchUsesRequestIDHeader(t *testing.T) {
	dispatcher := &fakeDispatcher{result: &pipeline.Result{}}
	service := &APIV1Service{Dispatcher: dispatcher}

	c, _ := newTestContext(http.MethodPost, "/api/v1/dispatch", `{"text":"hello there"}`)
	c.Response().Header().Set(echo.HeaderXRequestID, "req-from-header")
	require.NoError(t, service.Dispatch(c))

	assert.Equal(t, "req-from-header", dispatcher.last.RequestID)
}

func TestDispatchMalformedBody(t *testing.T) {
	service := &APIV1Service{Dispatcher: &fakeDispatcher{}}

	c, _ := newTestContext(http.MethodPost, "/api/v1/dispatch", `{"text": not json`)
	err := service.Dispatch(c)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestDispatchErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"empty request", pipeline.ErrEmptyRequest, http.StatusBadRequest},
		{"rate limited", accounting.ErrRateLimited, http.StatusTooManyRequests},
		{"budget exceeded", accounting.ErrBudgetExceeded, http.StatusTooManyRequests},
		{"internal", errors.New("backend exploded"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &APIV1Service{Dispatcher: &fakeDispatcher{err: tt.err}}
			c, _ := newTestContext(http.MethodPost, "/api/v1/dispatch", `{"text":"hello there"}`)

			err := service.Dispatch(c)

			var httpErr *echo.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.code, httpErr.Code)
		})
	}
}

func TestHealthz(t *testing.T) {
	service := &APIV1Service{Profile: &profile.Profile{Version: "0.1.0"}}

	c, rec := newTestContext(http.MethodGet, "/healthz", "")
	require.NoError(t, service.Healthz(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "0.1.0", body["version"])
}

func TestListProviders(t *testing.T) {
	registry := capability.NewRegistry(nil)
	registry.Register("alpha", func() (capability.Capability, error) {
		return capability.NewMock("alpha"), nil
	})
	service := &APIV1Service{
		Registry: registry,
		Providers: []routing.ProviderInfo{
			{ID: "beta", Enabled: true, Priority: 2, Model: "beta-chat"},
			{ID: "alpha", Enabled: true, Priority: 1, Model: "alpha-chat", CostPer1K: 0.004},
		},
	}

	c, rec := newTestContext(http.MethodGet, "/api/v1/providers", "")
	require.NoError(t, service.ListProviders(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Providers []ProviderStatus `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 2)
	assert.Equal(t, "alpha", body.Providers[0].ID)
	assert.True(t, body.Providers[0].Available)
	assert.Equal(t, "beta", body.Providers[1].ID)
	assert.False(t, body.Providers[1].Available)
}

func TestListUsage(t *testing.T) {
	usage := &fakeUsageStore{records: []*store.UsageRecord{
		{ID: 2, UserID: "alice", Provider: "openai", Tokens: 120},
		{ID: 1, UserID: "alice", Provider: "anthropic", Tokens: 80},
	}}
	service := &APIV1Service{Store: &store.Store{UsageStore: usage}}

	c, rec := newTestContext(http.MethodGet, "/api/v1/usage?user_id=alice&provider=openai&limit=2&offset=4", "")
	require.NoError(t, service.ListUsage(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, usage.lastFind)
	require.NotNil(t, usage.lastFind.UserID)
	assert.Equal(t, "alice", *usage.lastFind.UserID)
	require.NotNil(t, usage.lastFind.Provider)
	assert.Equal(t, "openai", *usage.lastFind.Provider)
	require.NotNil(t, usage.lastFind.Limit)
	assert.Equal(t, 2, *usage.lastFind.Limit)
	require.NotNil(t, usage.lastFind.Offset)
	assert.Equal(t, 4, *usage.lastFind.Offset)

	var body struct {
		Records []*store.UsageRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Records, 2)
}

func TestListUsageCapsLimit(t *testing.T) {
	usage := &fakeUsageStore{}
	service := &APIV1Service{Store: &store.Store{UsageStore: usage}}

	c, _ := newTestContext(http.MethodGet, "/api/v1/usage?limit=100000", "")
	require.NoError(t, service.ListUsage(c))

	require.NotNil(t, usage.lastFind.Limit)
	assert.Equal(t, maxUsagePageSize, *usage.lastFind.Limit)
}

func TestListUsageRejectsBadParams(t *testing.T) {
	service := &APIV1Service{Store: &store.Store{UsageStore: &fakeUsageStore{}}}

	for _, target := range []string{
		"/api/v1/usage?limit=zero",
		"/api/v1/usage?limit=-5",
		"/api/v1/usage?offset=nope",
	} {
		c, _ := newTestContext(http.MethodGet, target, "")
		err := service.ListUsage(c)

		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr, target)
		assert.Equal(t, http.StatusBadRequest, httpErr.Code, target)
	}
}

func TestDailyUsage(t *testing.T) {
	usage := &fakeUsageStore{days: []*store.DailyUsage{
		{Date: "2025-03-10", Requests: 4, Tokens: 900, CostUSD: 0.12},
	}}
	service := &APIV1Service{Store: &store.Store{UsageStore: usage}}

	c, rec := newTestContext(http.MethodGet, "/api/v1/usage/daily?user_id=alice&days=14", "")
	require.NoError(t, service.DailyUsage(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		UserID string             `json:"user_id"`
		Days   []*store.DailyUsage `json:"days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alice", body.UserID)
	require.Len(t, body.Days, 1)
	assert.Equal(t, "2025-03-10", body.Days[0].Date)
}

func TestDailyUsageRequiresUser(t *testing.T) {
	service := &APIV1Service{Store: &store.Store{UsageStore: &fakeUsageStore{}}}

	c, _ := newTestContext(http.MethodGet, "/api/v1/usage/daily", "")
	err := service.DailyUsage(c)

	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}
