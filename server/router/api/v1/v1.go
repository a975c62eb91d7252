// Package v1 exposes the dispatch subsystem over HTTP: a dispatch
// endpoint, read-only provider and usage views, and the health and
// metrics probes.
package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/modelmux/capability"
	"github.com/hrygo/modelmux/internal/profile"
	"github.com/hrygo/modelmux/metrics"
	"github.com/hrygo/modelmux/pipeline"
	"github.com/hrygo/modelmux/routing"
	"github.com/hrygo/modelmux/store"
)

// Dispatcher runs one request through classification, routing, and
// failover execution. *pipeline.Orchestrator is the production
// implementation; tests substitute fakes.
type Dispatcher interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type APIV1Service struct {
	Profile    *profile.Profile
	Store      *store.Store
	Dispatcher Dispatcher
	Registry   *capability.Registry
	Providers  []routing.ProviderInfo
	Exporter   *metrics.Exporter
}

func NewAPIV1Service(profile *profile.Profile, store *store.Store, dispatcher Dispatcher, registry *capability.Registry, providers []routing.ProviderInfo, exporter *metrics.Exporter) *APIV1Service {
	return &APIV1Service{
		Profile:    profile,
		Store:      store,
		Dispatcher: dispatcher,
		Registry:   registry,
		Providers:  providers,
		Exporter:   exporter,
	}
}

// Register mounts the API routes on the given Echo instance.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	apiGroup := echoServer.Group("/api/v1")
	apiGroup.Use(middleware.CORS())
	apiGroup.POST("/dispatch", s.Dispatch)
	apiGroup.GET("/providers", s.ListProviders)
	apiGroup.GET("/usage", s.ListUsage)
	apiGroup.GET("/usage/daily", s.DailyUsage)

	echoServer.GET("/healthz", s.Healthz)
	if s.Exporter != nil {
		echoServer.GET("/metrics", echo.WrapHandler(s.Exporter.Handler()))
	}
}

func (s *APIV1Service) Healthz(c echo.Context) error {
	version := ""
	if s.Profile != nil {
		version = s.Profile.Version
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version,
	})
}
