// Package server assembles the dispatch stack and serves it over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/modelmux/accounting"
	"github.com/hrygo/modelmux/capability"
	"github.com/hrygo/modelmux/configloader"
	"github.com/hrygo/modelmux/intent"
	"github.com/hrygo/modelmux/internal/profile"
	"github.com/hrygo/modelmux/metrics"
	"github.com/hrygo/modelmux/pipeline"
	"github.com/hrygo/modelmux/routing"
	apiv1 "github.com/hrygo/modelmux/server/router/api/v1"
	"github.com/hrygo/modelmux/store"
)

const (
	// persisterQueueSize bounds the async usage write queue.
	persisterQueueSize = 100

	shutdownTimeout  = 10 * time.Second
	persisterTimeout = 5 * time.Second
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	persister  *accounting.Persister
	apiService *apiv1.APIV1Service
}

// NewServer builds the full dispatch stack from the profile and the
// dispatch config file, then mounts it on an Echo instance. Missing
// config files fall back to the built-in provider and strategy tables.
func NewServer(_ context.Context, instanceProfile *profile.Profile, storeInstance *store.Store) (*Server, error) {
	loader := configloader.NewLoader(instanceProfile.ConfigDir)
	dispatchCfg, err := configloader.LoadDispatch(loader, "")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrap(err, "failed to load dispatch config")
		}
		slog.Info("server: no dispatch config found, using built-in defaults",
			"dir", instanceProfile.ConfigDir)
		dispatchCfg = &configloader.DispatchConfig{}
	}

	registry := capability.NewRegistry(capability.DefaultSettings())
	providers := dispatchCfg.Routing.Providers
	if len(providers) == 0 {
		providers = routing.DefaultProviders()
	}
	table := routing.NewStrategyTable(dispatchCfg.Routing.Strategies, dispatchCfg.Routing.Weights)
	routerCfg := dispatchCfg.Routing.RouterConfig()
	if instanceProfile.Multicore {
		routerCfg.Multicore = true
	}

	exporter := metrics.NewExporter(metrics.DefaultConfig())
	classifier := intent.NewKeywordClassifier()
	classifier.SetCacheMetrics(exporter)

	aggregate := accounting.NewAggregate()
	gate := accounting.NewGate(accounting.GateConfig{
		RateRPM:        instanceProfile.RateRPM,
		DailyBudgetUSD: instanceProfile.DailyBudgetUSD,
	}, aggregate, storeInstance.UsageStore)
	persister := accounting.NewPersister(storeInstance.UsageStore, aggregate, persisterQueueSize, slog.Default())

	orchestratorCfg := pipeline.DefaultConfig()
	orchestratorCfg.Failover = dispatchCfg.Failover.Options()
	orchestrator, err := pipeline.NewOrchestrator(pipeline.Deps{
		Classifier: classifier,
		Router:     routing.NewRouter(providers, table, registry, routerCfg),
		Selector:   routing.NewSecondarySelector(providers, table, registry),
		Registry:   registry,
		Gate:       gate,
		Persister:  persister,
		Exporter:   exporter,
	}, orchestratorCfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build orchestrator")
	}

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(requestIDMiddleware, requestLoggerMiddleware, middleware.Recover())

	apiService := apiv1.NewAPIV1Service(instanceProfile, storeInstance, orchestrator, registry, providers, exporter)
	apiService.Register(echoServer)

	return &Server{
		Profile:    instanceProfile,
		Store:      storeInstance,
		echoServer: echoServer,
		persister:  persister,
		apiService: apiService,
	}, nil
}

// Start serves HTTP until Shutdown. Returns http.ErrServerClosed after
// a graceful shutdown.
func (s *Server) Start(_ context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server: listening", "address", address, "mode", s.Profile.Mode)
	return s.echoServer.Start(address)
}

// Shutdown stops the HTTP listener, flushes the usage persister, and
// closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("server: failed to shut down http server", "error", err)
	}
	if err := s.persister.Close(persisterTimeout); err != nil {
		slog.Error("server: failed to flush usage persister", "error", err)
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("server: failed to close store", "error", err)
	}
	slog.Info("server: shutdown complete")
}

// requestIDMiddleware honors an inbound X-Request-Id or assigns one.
func requestIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(echo.HeaderXRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(echo.HeaderXRequestID, id)
		return next(c)
	}
}

// requestLoggerMiddleware logs one line per request after the handler
// runs, committing handler errors first so the status is final.
func requestLoggerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		status := c.Response().Status
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(c.Request().Context(), level, "server: request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
		)
		return err
	}
}
