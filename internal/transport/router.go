package transport

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/vendordesk/internal/command"
	"github.com/pitabwire/vendordesk/internal/config"
	"github.com/pitabwire/vendordesk/internal/listview"
	"github.com/pitabwire/vendordesk/internal/metadata"
	"github.com/pitabwire/vendordesk/model"
)

// Views hands out the caller's list view controllers and saves their state.
type Views interface {
	Controller(ctx context.Context, rctx *model.RequestContext, def *model.ListDefinition) (*listview.Controller, error)
	Persist(ctx context.Context, rctx *model.RequestContext, ctrl *listview.Controller) error
}

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Authenticate       func(http.Handler) http.Handler
	CapabilityResolver model.CapabilityResolver
	Lists              *metadata.ListProvider
	Views              Views
	Executor           *command.Executor
	HealthHandler      http.Handler
	ReadyHandler       http.Handler
	MetricsHandler     http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes bypass authentication.
	r.Method(http.MethodGet, "/ui/health", orDefault(deps.HealthHandler, statusHandler("ok")))
	r.Method(http.MethodGet, "/ui/ready", orDefault(deps.ReadyHandler, statusHandler("ready")))
	if deps.MetricsHandler != nil {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, deps.MetricsHandler)
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	lists := &listHandlers{lists: deps.Lists, views: deps.Views, logger: logger}
	actions := &actionHandlers{lists: deps.Lists, executor: deps.Executor}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))

		r.Get("/ui/lists", lists.handleCatalogue)
		r.Route("/ui/lists/{listId}", func(r chi.Router) {
			r.Get("/", lists.handleGetView())
			r.Put("/criteria", lists.handleSetCriteria())
			r.Put("/sort", lists.handleSetSort())
			r.Put("/page", lists.handleSetPage())
			r.Post("/more", lists.handleLoadMore())
			r.Post("/refresh", lists.handleRefresh())
			r.Post("/selection/toggle", lists.handleToggle())
			r.Post("/selection/toggle-all", lists.handleToggleAll())
			r.Delete("/selection", lists.handleClearSelection())
			r.Get("/facets/{field}", lists.handleFacets)
			r.Post("/rows/{itemId}/actions/{actionId}", actions.handleRowAction)
			r.Post("/bulk/{actionId}", actions.handleBulkAction)
		})
	})

	return r
}

func orDefault(h, fallback http.Handler) http.Handler {
	if h != nil {
		return h
	}
	return fallback
}

func statusHandler(status string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": status})
	})
}
