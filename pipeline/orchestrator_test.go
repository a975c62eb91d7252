package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/modelmux/accounting"
	"github.com/hrygo/modelmux/capability"
	"github.com/hrygo/modelmux/failover"
	"github.com/hrygo/modelmux/intent"
	"github.com/hrygo/modelmux/routing"
	"github.com/hrygo/modelmux/store"
)

var errBackend = errors.New("backend exploded")

const longAnswer = "a sufficiently long answer for the verifier to accept"

func testProviders() []routing.ProviderInfo {
	return []routing.ProviderInfo{
		{ID: "alpha", Enabled: true, Priority: 1, Model: "alpha-chat", CostPer1K: 0.004, LatencyMs: 500, Quality: 0.9},
		{ID: "beta", Enabled: true, Priority: 2, Model: "beta-chat", CostPer1K: 0.002, LatencyMs: 900, Quality: 0.8},
		{ID: "gamma", Enabled: true, Priority: 3, Model: "gamma-chat", CostPer1K: 0.001, LatencyMs: 1200, Quality: 0.7},
	}
}

// newTestOrchestrator wires an orchestrator over mock capabilities with a
// 1ms constant backoff so retry paths stay fast.
func newTestOrchestrator(t *testing.T, mocks map[string]*capability.Mock, routerCfg routing.Config, extra Deps) *Orchestrator {
	t.Helper()

	registry := capability.NewRegistry(nil)
	for id, m := range mocks {
		m := m
		registry.Register(id, func() (capability.Capability, error) { return m, nil })
	}

	providers := testProviders()
	table := routing.NewStrategyTable(nil, nil)
	if routerCfg.FailsafePrimary == "" {
		routerCfg.FailsafePrimary = "alpha"
	}
	if routerCfg.FailsafeSecondary == "" {
		routerCfg.FailsafeSecondary = "beta"
	}

	deps := extra
	deps.Router = routing.NewRouter(providers, table, registry, routerCfg)
	deps.Selector = routing.NewSecondarySelector(providers, table, registry)
	deps.Registry = registry

	cfg := DefaultConfig()
	cfg.Failover = failover.Options{
		Backoff:     failover.BackoffConstant,
		BackoffBase: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	}

	orch, err := NewOrchestrator(deps, cfg)
	require.NoError(t, err)
	return orch
}

func TestOrchestratorRequiresRouterAndRegistry(t *testing.T) {
	_, err := NewOrchestrator(Deps{}, DefaultConfig())
	assert.Error(t, err)
}

func TestProcessSingleTask(t *testing.T) {
	alpha := capability.NewMock("alpha", capability.MockStep{Text: longAnswer, Tokens: 500})
	orch := newTestOrchestrator(t, map[string]*capability.Mock{"alpha": alpha}, routing.Config{}, Deps{})

	result, err := orch.Process(context.Background(), Request{
		RequestID: "req-test-1",
		UserID:    "alice",
		Text:      "please summarize the key points of this design document",
	})
	require.NoError(t, err)

	assert.Equal(t, "req-test-1", result.RequestID)
	assert.Equal(t, longAnswer, result.Answer)
	assert.False(t, result.Failed)
	assert.False(t, result.Partial)
	assert.True(t, result.Verified)
	require.Len(t, result.SubTasks, 1)

	sub := result.SubTasks[0]
	assert.Equal(t, "alpha", sub.Provider)
	assert.Equal(t, 500, sub.TokensUsed)
	assert.False(t, sub.Rescued)
	assert.Equal(t, []string{"alpha"}, sub.Tried)

	assert.Equal(t, int64(500), result.TokensUsed)
	assert.InDelta(t, 0.002, result.CostUSD, 1e-9)
	assert.Equal(t, 1, alpha.Calls())
}

func TestProcessGeneratesRequestID(t *testing.T) {
	alpha := capability.NewMock("alpha", capability.MockStep{Text: longAnswer, Tokens: 10})
	orch := newTestOrchestrator(t, map[string]*capability.Mock{"alpha": alpha}, routing.Config{}, Deps{})

	result, err := orch.Process(context.Background(), Request{Text: "summarize this text for me please"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.RequestID, "req-"))
}

func TestProcessEmptyText(t *testing.T) {
	orch := newTestOrchestrator(t, nil, routing.Config{}, Deps{})

	_, err := orch.Process(context.Background(), Request{Text: "   \n "})
	assert.ErrorIs(t, err, ErrEmptyRequest)
}

func TestProcessFailsOver(t *testing.T) {
	alpha := capability.NewMock("alpha", capability.MockStep{Err: errBackend})
	beta := capability.NewMock("beta", capability.MockStep{Text: longAnswer, Tokens: 100})
	orch := newTestOrchestrator(t, map[string]*capability.Mock{"alpha": alpha, "beta": beta}, routing.Config{}, Deps{})

	result, err := orch.Process(context.Background(), Request{
		UserID: "alice",
		Text:   "summarize the incident report from last week",
		Depth:  "fast",
	})
	require.NoError(t, err)

	require.Len(t, result.SubTasks, 1)
	sub := result.SubTasks[0]
	assert.Equal(t, "beta", sub.Provider)
	assert.Equal(t, []string{"alpha", "beta"}, sub.Tried)
	require.Len(t, sub.Errors, 1)
	assert.Contains(t, sub.Errors[0], "alpha/1")
	assert.False(t, result.Failed)
}

// captureCapability records the exec config of every call.
type captureCapability struct {
	id string

	mu      sync.Mutex
	configs []capability.ExecConfig
}

func (c *captureCapability) ID() string { return c.id }

func (c *captureCapability) Execute(_ context.Context, _ string, cfg capability.ExecConfig) (*capability.ExecResult, error) {
	c.mu.Lock()
	c.configs = append(c.configs, cfg)
	c.mu.Unlock()
	return &capability.ExecResult{Text: longAnswer, TokensUsed: 42, Model: cfg.Model}, nil
}

func TestProcessBindsStrategyModel(t *testing.T) {
	capture := &captureCapability{id: "alpha"}
	registry := capability.NewRegistry(nil)
	registry.Register("alpha", func() (capability.Capability, error) { return capture, nil })

	providers := []routing.ProviderInfo{
		{ID: "alpha", Enabled: true, Priority: 1, Model: "alpha-chat", CostPer1K: 0.004, LatencyMs: 500, Quality: 0.9},
	}
	table := routing.NewStrategyTable([]routing.StrategyEntryConfig{{
		Category:    string(intent.CategorySummary),
		Models:      []routing.ModelRef{{Provider: "alpha", Model: "alpha-digest"}},
		Temperature: 0.3,
	}}, nil)

	orch, err := NewOrchestrator(Deps{
		Router:   routing.NewRouter(providers, table, registry, routing.Config{FailsafePrimary: "alpha"}),
		Registry: registry,
	}, DefaultConfig())
	require.NoError(t, err)

	result, err := orch.Process(context.Background(), Request{
		UserID: "alice",
		Text:   "summarize the key decisions from the quarterly planning meeting",
	})
	require.NoError(t, err)

	// The strategy alias, not the provider's default model, must reach
	// the backend call, with the adjusted temperature alongside it.
	require.Len(t, capture.configs, 1)
	assert.Equal(t, "alpha-digest", capture.configs[0].Model)
	assert.InDelta(t, 0.4, capture.configs[0].Temperature, 1e-6)
	require.Len(t, result.SubTasks, 1)
	assert.Equal(t, "alpha-digest", result.SubTasks[0].Model)
}

func TestProcessDepthControlsRetryBudget(t *testing.T) {
	alpha := capability.NewMock("alpha", capability.MockStep{Err: errBackend})
	orch := newTestOrchestrator(t, map[string]*capability.Mock{"alpha": alpha},
		routing.Config{MaxCandidates: 1}, Deps{})

	result, err := orch.Process(context.Background(), Request{
		Text:  "summarize the deployment runbook",
		Depth: "deep",
	})
	require.NoError(t, err)

	assert.True(t, result.Failed)
	assert.Equal(t, 4, alpha.Calls())
	assert.Len(t, result.SubTasks[0].Errors, 4)
}

func TestProcessDecomposesLists(t *testing.T) {
	alpha := capability.NewMock("alpha",
		capability.MockStep{Text: "first item covered in depth here", Tokens: 40},
		capability.MockStep{Text: "second item covered in depth here", Tokens: 40},
	)
	orch := newTestOrchestrator(t, map[string]*capability.Mock{"alpha": alpha}, routing.Config{}, Deps{})

	result, err := orch.Process(context.Background(), Request{
		UserID: "alice",
		Text:   "- summarize the api design\n- summarize the storage layer",
	})
	require.NoError(t, err)

	require.Len(t, result.SubTasks, 2)
	assert.False(t, result.Parallel)
	assert.Equal(t, "first item covered in depth here"+TaskSeparator+"second item covered in depth here", result.Answer)
	assert.Equal(t, 2, alpha.Calls())
	assert.Equal(t, []string{"summarize the api design", "summarize the storage layer"}, alpha.Prompts())
	assert.Equal(t, int64(80), result.TokensUsed)
}

func TestProcessParallelFanOut(t *testing.T) {
	alpha := capability.NewMock("alpha", capability.MockStep{Text: longAnswer, Tokens: 30})
	orch := newTestOrchestrator(t, map[string]*capability.Mock{"alpha": alpha},
		routing.Config{Multicore: true}, Deps{})

	text := "- compare the throughput characteristics of postgres versus sqlite for analytics workloads in production\n" +
		"- compare the operational cost of managed kubernetes versus bare metal for a small engineering team"
	result, err := orch.Process(context.Background(), Request{UserID: "alice", Text: text})
	require.NoError(t, err)

	assert.True(t, result.Parallel)
	require.Len(t, result.SubTasks, 2)
	for _, sub := range result.SubTasks {
		assert.False(t, sub.Failed)
		assert.Equal(t, "alpha", sub.Provider)
	}
	assert.Equal(t, 2, alpha.Calls())
}

func TestProcessRescuePass(t *testing.T) {
	alpha := capability.NewMock("alpha", capability.MockStep{Err: errBackend})
	beta := capability.NewMock("beta", capability.MockStep{Err: errBackend})
	gamma := capability.NewMock("gamma", capability.MockStep{Text: longAnswer, Tokens: 60})

	// Cap the router at two candidates so gamma is only reachable through
	// the rescue selector.
	orch := newTestOrchestrator(t,
		map[string]*capability.Mock{"alpha": alpha, "beta": beta, "gamma": gamma},
		routing.Config{MaxCandidates: 2}, Deps{})

	result, err := orch.Process(context.Background(), Request{
		UserID: "alice",
		Text:   "summarize the quarterly infrastructure review",
		Depth:  "fast",
	})
	require.NoError(t, err)

	require.Len(t, result.SubTasks, 1)
	sub := result.SubTasks[0]
	assert.True(t, sub.Rescued)
	assert.Equal(t, "gamma", sub.Provider)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, sub.Tried)
	assert.Equal(t, longAnswer, result.Answer)
	assert.False(t, result.Failed)
}

func TestProcessAllProvidersFail(t *testing.T) {
	alpha := capability.NewMock("alpha", capability.MockStep{Err: errBackend})
	beta := capability.NewMock("beta", capability.MockStep{Err: errBackend})
	gamma := capability.NewMock("gamma", capability.MockStep{Err: errBackend})
	orch := newTestOrchestrator(t,
		map[string]*capability.Mock{"alpha": alpha, "beta": beta, "gamma": gamma},
		routing.Config{}, Deps{})

	result, err := orch.Process(context.Background(), Request{
		Text:  "summarize the postmortem for the outage",
		Depth: "fast",
	})
	require.NoError(t, err)

	assert.True(t, result.Failed)
	assert.False(t, result.Verified)
	assert.Empty(t, result.Answer)
	require.Len(t, result.SubTasks, 1)
	assert.True(t, result.SubTasks[0].Failed)
	assert.Len(t, result.SubTasks[0].Errors, 3)
}

func TestProcessMergesPartials(t *testing.T) {
	alpha := capability.NewMock("alpha", capability.MockStep{Text: "hi", Tokens: 1})
	beta := capability.NewMock("beta", capability.MockStep{Text: "yo", Tokens: 2})
	orch := newTestOrchestrator(t, map[string]*capability.Mock{"alpha": alpha, "beta": beta},
		routing.Config{MaxCandidates: 2}, Deps{})

	result, err := orch.Process(context.Background(), Request{
		Text:  "summarize the meeting notes from standup",
		Depth: "fast",
	})
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.False(t, result.Failed)
	require.Len(t, result.SubTasks, 1)
	sub := result.SubTasks[0]
	assert.True(t, sub.Partial)
	assert.Equal(t, "alpha", sub.Provider)
	assert.Equal(t, "hi"+failover.MergeSeparator+"yo", sub.Answer)
	assert.Equal(t, 3, sub.TokensUsed)
}

func TestProcessGateRejection(t *testing.T) {
	alpha := capability.NewMock("alpha", capability.MockStep{Text: longAnswer, Tokens: 10})
	gate := accounting.NewGate(accounting.GateConfig{RateRPM: 60, Burst: 1}, accounting.NewAggregate(), nil)
	orch := newTestOrchestrator(t, map[string]*capability.Mock{"alpha": alpha},
		routing.Config{}, Deps{Gate: gate})

	_, err := orch.Process(context.Background(), Request{UserID: "alice", Text: "summarize this document please"})
	require.NoError(t, err)

	_, err = orch.Process(context.Background(), Request{UserID: "alice", Text: "summarize this other one too"})
	assert.ErrorIs(t, err, accounting.ErrRateLimited)
	assert.Equal(t, 1, alpha.Calls())
}

// captureStore records persisted usage for pipeline-level assertions.
type captureStore struct {
	mu    sync.Mutex
	saved []*store.UsageRecord
}

func (c *captureStore) SaveUsage(_ context.Context, record *store.UsageRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.saved = append(c.saved, record)
	return nil
}

func (c *captureStore) ListUsage(context.Context, *store.FindUsage) ([]*store.UsageRecord, error) {
	return nil, nil
}

func (c *captureStore) DailyCost(context.Context, string, time.Time) (float64, error) {
	return 0, nil
}

func (c *captureStore) DailyBreakdown(context.Context, string, int) ([]*store.DailyUsage, error) {
	return nil, nil
}

func TestProcessPersistsUsage(t *testing.T) {
	alpha := capability.NewMock("alpha", capability.MockStep{Text: longAnswer, Tokens: 250})
	capture := &captureStore{}
	agg := accounting.NewAggregate()
	persister := accounting.NewPersister(capture, agg, 16, nil)
	orch := newTestOrchestrator(t, map[string]*capability.Mock{"alpha": alpha},
		routing.Config{}, Deps{Persister: persister})

	result, err := orch.Process(context.Background(), Request{
		RequestID: "req-persist",
		UserID:    "alice",
		Text:      "summarize the release notes for version two",
	})
	require.NoError(t, err)
	require.NoError(t, persister.Close(5*time.Second))

	capture.mu.Lock()
	defer capture.mu.Unlock()
	require.Len(t, capture.saved, 1)
	saved := capture.saved[0]
	assert.Equal(t, "req-persist", saved.RequestID)
	assert.Equal(t, "alice", saved.UserID)
	assert.Equal(t, "alpha", saved.Provider)
	assert.Equal(t, 250, saved.Tokens)
	assert.InDelta(t, result.CostUSD, saved.CostUSD, 1e-9)

	totals := agg.User("alice")
	assert.Equal(t, 1, totals.Records)
	assert.Equal(t, int64(250), totals.Tokens)
}

