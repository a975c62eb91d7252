// Package pipeline runs the full dispatch flow for one request: intent
// classification, admission, decomposition into sub-tasks, per-task routing
// and failover execution, an optional rescue pass, answer assembly with
// light verification, and accounting.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lithammer/shortuuid/v4"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/modelmux/accounting"
	"github.com/hrygo/modelmux/capability"
	"github.com/hrygo/modelmux/failover"
	"github.com/hrygo/modelmux/intent"
	"github.com/hrygo/modelmux/metrics"
	"github.com/hrygo/modelmux/routing"
)

const (
	// DefaultMaxParallelTasks bounds concurrent sub-task execution.
	DefaultMaxParallelTasks = 3
	// DefaultMinAnswerChars is the verification floor for the assembled
	// answer.
	DefaultMinAnswerChars = 10
	// TaskSeparator joins per-task answers into the final reply.
	TaskSeparator = "\n\n"
)

// ErrEmptyRequest rejects requests with no text.
var ErrEmptyRequest = errors.New("pipeline: empty request text")

// Request is one dispatch request as seen by the orchestrator.
type Request struct {
	RequestID string `json:"request_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Text      string `json:"text"`
	// Depth optionally overrides the failover retry budget: "fast",
	// "normal" or "deep". Unknown values are ignored.
	Depth string `json:"depth,omitempty"`
}

// SubTaskResult reports how one sub-task fared.
type SubTaskResult struct {
	TaskID     string   `json:"task_id"`
	Input      string   `json:"input"`
	Provider   string   `json:"provider,omitempty"`
	Model      string   `json:"model,omitempty"`
	Answer     string   `json:"answer,omitempty"`
	TokensUsed int      `json:"tokens_used,omitempty"`
	Partial    bool     `json:"partial,omitempty"`
	Rescued    bool     `json:"rescued,omitempty"`
	Failed     bool     `json:"failed,omitempty"`
	Tried      []string `json:"tried,omitempty"`
	Errors     []string `json:"errors,omitempty"`
	LatencyMs  int64    `json:"latency_ms"`
}

// Result is the assembled reply for one request.
type Result struct {
	RequestID  string            `json:"request_id"`
	Answer     string            `json:"answer"`
	Category   intent.Category   `json:"category"`
	Complexity intent.Complexity `json:"complexity"`
	SubTasks   []SubTaskResult   `json:"sub_tasks"`
	Partial    bool              `json:"partial"`
	Failed     bool              `json:"failed"`
	Verified   bool              `json:"verified"`
	Parallel   bool              `json:"parallel"`
	TokensUsed int64             `json:"tokens_used"`
	CostUSD    float64           `json:"cost_usd"`
	DurationMs int64             `json:"duration_ms"`
}

// Config tunes the orchestrator.
type Config struct {
	MaxParallelTasks int
	MaxSubTasks      int
	MinAnswerChars   int
	Failover         failover.Options
}

// DefaultConfig returns the stock orchestrator tuning.
func DefaultConfig() Config {
	return Config{
		MaxParallelTasks: DefaultMaxParallelTasks,
		MaxSubTasks:      DefaultMaxSubTasks,
		MinAnswerChars:   DefaultMinAnswerChars,
		Failover:         failover.DefaultOptions(),
	}
}

// Deps carries the orchestrator's collaborators. Router and Registry are
// required. A nil Classifier falls back to the keyword classifier, a nil
// Decomposer to list splitting; nil Selector, Gate, Persister and
// Exporter disable the concern they serve.
type Deps struct {
	Classifier intent.Classifier
	Decomposer Decomposer
	Router     *routing.Router
	Selector   *routing.SecondarySelector
	Registry   *capability.Registry
	Gate       *accounting.Gate
	Persister  *accounting.Persister
	Exporter   *metrics.Exporter
}

// Orchestrator executes dispatch requests end to end. Safe for concurrent
// use; per-request state lives on the stack and in the ledger.
type Orchestrator struct {
	classifier intent.Classifier
	decomposer Decomposer
	router     *routing.Router
	selector   *routing.SecondarySelector
	registry   *capability.Registry
	gate       *accounting.Gate
	persister  *accounting.Persister
	exporter   *metrics.Exporter
	cfg        Config
}

// NewOrchestrator wires the pipeline from deps.
func NewOrchestrator(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Router == nil || deps.Registry == nil {
		return nil, errors.New("pipeline: router and registry are required")
	}
	if cfg.MaxParallelTasks <= 0 {
		cfg.MaxParallelTasks = DefaultMaxParallelTasks
	}
	if cfg.MaxSubTasks <= 0 {
		cfg.MaxSubTasks = DefaultMaxSubTasks
	}
	if cfg.MinAnswerChars <= 0 {
		cfg.MinAnswerChars = DefaultMinAnswerChars
	}
	if deps.Classifier == nil {
		deps.Classifier = intent.NewKeywordClassifier()
	}
	if deps.Decomposer == nil {
		deps.Decomposer = NewListDecomposer(cfg.MaxSubTasks)
	}

	return &Orchestrator{
		classifier: deps.Classifier,
		decomposer: deps.Decomposer,
		router:     deps.Router,
		selector:   deps.Selector,
		registry:   deps.Registry,
		gate:       deps.Gate,
		persister:  deps.Persister,
		exporter:   deps.Exporter,
		cfg:        cfg,
	}, nil
}

// Process runs one request through the pipeline. Provider faults are
// absorbed into the result; the returned error covers only empty input
// and gate rejections (accounting.ErrRateLimited, ErrBudgetExceeded).
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyRequest
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = "req-" + shortuuid.New()
	}

	if o.exporter != nil {
		o.exporter.DispatchStarted()
		defer o.exporter.DispatchFinished()
	}

	if o.gate != nil {
		if err := o.gate.Admit(ctx, req.UserID); err != nil {
			slog.Warn("pipeline: request rejected", "request_id", requestID, "user", req.UserID, "error", err)
			return nil, err
		}
	}

	profile := o.classifier.Classify(ctx, text)
	tasks := o.decomposer.Decompose(ctx, text)

	slog.Info("pipeline: dispatching request",
		"request_id", requestID,
		"category", profile.Category,
		"complexity", profile.Complexity,
		"tasks", len(tasks))

	decisions := make([]routing.Decision, len(tasks))
	for i, task := range tasks {
		decisions[i] = o.router.RouteTask(task, &profile)
	}
	parallel := len(tasks) > 1 && decisions[0].Parallel && dependencyFree(tasks)

	ledger := accounting.NewLedger(requestID, req.UserID)
	subResults := make([]SubTaskResult, len(tasks))

	if parallel {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.MaxParallelTasks)
		for i := range tasks {
			i := i
			g.Go(func() error {
				// runTask absorbs failures into its result.
				subResults[i] = o.runTask(gctx, tasks[i], decisions[i], &profile, req, ledger)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range tasks {
			if ctx.Err() != nil {
				subResults[i] = SubTaskResult{
					TaskID: tasks[i].ID,
					Input:  tasks[i].Text,
					Failed: true,
					Errors: []string{ctx.Err().Error()},
				}
				continue
			}
			subResults[i] = o.runTask(ctx, tasks[i], decisions[i], &profile, req, ledger)
		}
	}

	result := o.assemble(requestID, profile, subResults, parallel)
	totals := ledger.Totals()
	result.TokensUsed = totals.Tokens
	result.CostUSD = totals.CostUSD
	result.DurationMs = time.Since(start).Milliseconds()

	if o.persister != nil {
		o.persister.EnqueueLedger(ledger)
	}
	if o.exporter != nil {
		o.exporter.RecordDispatch(dispatchStatus(result), string(profile.Category), time.Since(start))
	}

	slog.Info("pipeline: request complete",
		"request_id", requestID,
		"status", dispatchStatus(result),
		"tasks", len(tasks),
		"tokens", result.TokensUsed,
		"cost_usd", result.CostUSD,
		"duration_ms", result.DurationMs)

	return result, nil
}

// runTask routes, executes and accounts one sub-task.
func (o *Orchestrator) runTask(ctx context.Context, task routing.Task, decision routing.Decision, profile *intent.Profile, req Request, ledger *accounting.Ledger) SubTaskResult {
	start := time.Now()
	sub := SubTaskResult{TaskID: task.ID, Input: task.Text}

	caps, kept := o.materialize(decision.Candidates)

	executor := failover.NewExecutor(o.failoverOptions(req))
	outcome, err := executor.Execute(ctx, caps, task.Text, capability.ExecConfig{})
	if err != nil {
		// Only an empty capability list errors; fall through with an
		// empty outcome so the rescue pass can still run.
		outcome = &failover.Outcome{}
	}

	if outcome.Failed() && o.selector != nil {
		rescueCands := o.selector.SelectByQualityCostLatency(task, profile, outcome.UsedProviders)
		rescueCaps, rescueKept := o.materialize(rescueCands)
		if len(rescueCaps) > 0 {
			if o.exporter != nil {
				o.exporter.RecordRescue()
			}
			slog.Info("pipeline: rescue pass",
				"task_id", task.ID,
				"candidates", len(rescueCaps))
			rescueOut, rescueErr := executor.Execute(ctx, rescueCaps, task.Text, capability.ExecConfig{})
			if rescueErr == nil && rescueOut != nil {
				outcome.UsedProviders = append(outcome.UsedProviders, rescueOut.UsedProviders...)
				outcome.Errors = append(outcome.Errors, rescueOut.Errors...)
				if !rescueOut.Failed() {
					outcome.Result = rescueOut.Result
					outcome.ProviderID = rescueOut.ProviderID
					outcome.Partial = rescueOut.Partial
					sub.Rescued = true
					kept = append(kept, rescueKept...)
				}
			}
		}
	}

	sub.Tried = outcome.UsedProviders
	sub.LatencyMs = time.Since(start).Milliseconds()
	for _, attemptErr := range outcome.Errors {
		sub.Errors = append(sub.Errors, attemptErr.Error())
		if o.exporter != nil {
			o.exporter.RecordAttempt(attemptErr.Capability, metrics.OutcomeError)
		}
	}

	if outcome.Failed() {
		sub.Failed = true
		slog.Warn("pipeline: sub-task failed",
			"task_id", task.ID,
			"tried", sub.Tried,
			"errors", len(sub.Errors))
		return sub
	}

	res := outcome.Result
	sub.Provider = outcome.ProviderID
	sub.Model = res.Model
	sub.Answer = res.Text
	sub.TokensUsed = res.TokensUsed
	sub.Partial = outcome.Partial

	if o.exporter != nil {
		label := metrics.OutcomeFull
		if outcome.Partial {
			label = metrics.OutcomePartial
		}
		o.exporter.RecordAttempt(outcome.ProviderID, label)
		o.exporter.RecordTokens(outcome.ProviderID, res.Model, res.TokensUsed)
		if outcome.Partial {
			o.exporter.RecordPartialMerge(outcome.ProviderID)
		}
	}

	ledger.Add(accounting.Record{
		TaskID:    task.ID,
		Provider:  outcome.ProviderID,
		Model:     res.Model,
		Category:  string(profile.Category),
		Tokens:    res.TokensUsed,
		CostUSD:   accounting.Cost(costFor(kept, outcome.ProviderID), res.TokensUsed),
		Partial:   outcome.Partial,
		LatencyMs: sub.LatencyMs,
	})

	return sub
}

// materialize turns candidates into executable capabilities, skipping any
// the registry cannot construct. Each capability is bound to its
// candidate's model alias and temperature; the returned candidate slice
// stays aligned with the capabilities for later metadata lookups.
func (o *Orchestrator) materialize(candidates []routing.Candidate) ([]capability.Capability, []routing.Candidate) {
	caps := make([]capability.Capability, 0, len(candidates))
	kept := make([]routing.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		c, err := o.registry.Create(cand.Provider)
		if err != nil {
			slog.Warn("pipeline: skipping unexecutable candidate",
				"provider", cand.Provider,
				"error", err)
			continue
		}
		caps = append(caps, boundCapability{
			Capability:  c,
			model:       cand.Model,
			temperature: cand.Temperature,
		})
		kept = append(kept, cand)
	}
	return caps, kept
}

// boundCapability pins a capability to the model alias and sampling
// temperature its candidate was routed with. Fields already set on the
// incoming config win; fields the candidate leaves empty fall through to
// the capability's own defaults.
type boundCapability struct {
	capability.Capability
	model       string
	temperature float32
}

func (b boundCapability) Execute(ctx context.Context, prompt string, cfg capability.ExecConfig) (*capability.ExecResult, error) {
	if cfg.Model == "" {
		cfg.Model = b.model
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = b.temperature
	}
	return b.Capability.Execute(ctx, prompt, cfg)
}

// failoverOptions applies the per-request depth override.
func (o *Orchestrator) failoverOptions(req Request) failover.Options {
	opts := o.cfg.Failover
	if req.Depth != "" {
		opts.Depth = failover.Depth(req.Depth)
	}
	return opts
}

// costFor returns the cost estimate of the candidate that produced the
// result, zero when unknown.
func costFor(candidates []routing.Candidate, provider string) float64 {
	for _, c := range candidates {
		if c.Provider == provider {
			return c.CostPer1K
		}
	}
	return 0
}

// assemble joins the successful answers and applies light verification:
// the request failed only when every sub-task failed, and it verifies
// when the joined answer clears the minimum length.
func (o *Orchestrator) assemble(requestID string, profile intent.Profile, subResults []SubTaskResult, parallel bool) *Result {
	var answers []string
	partial := false
	failedCount := 0
	for _, sub := range subResults {
		if sub.Failed {
			failedCount++
			continue
		}
		if sub.Answer != "" {
			answers = append(answers, sub.Answer)
		}
		if sub.Partial {
			partial = true
		}
	}

	answer := strings.Join(answers, TaskSeparator)
	failed := failedCount == len(subResults)
	verified := !failed && utf8.RuneCountInString(answer) >= o.cfg.MinAnswerChars

	return &Result{
		RequestID:  requestID,
		Answer:     answer,
		Category:   profile.Category,
		Complexity: profile.Complexity,
		SubTasks:   subResults,
		Partial:    partial,
		Failed:     failed,
		Verified:   verified,
		Parallel:   parallel,
	}
}

func dispatchStatus(r *Result) string {
	switch {
	case r.Failed:
		return metrics.StatusFailed
	case r.Partial:
		return metrics.StatusPartial
	default:
		return metrics.StatusOK
	}
}
