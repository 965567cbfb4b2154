package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/handler/instance"
	"github.com/venux/panel/backend/internal/handler/live"
	"github.com/venux/panel/backend/internal/handler/session"
	"github.com/venux/panel/backend/internal/metrics"
	"github.com/venux/panel/backend/internal/middleware"
	"github.com/venux/panel/backend/internal/service/ai"
	"github.com/venux/panel/backend/internal/service/view"
	"github.com/venux/panel/backend/pkg/utils"
)

// Services are the collaborators the routes are wired to.
type Services struct {
	Views        view.Factory
	Submitter    instance.Submitter
	Fetcher      instance.Fetcher
	AI           *ai.Service
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
	CookieSecure bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	logger := svc.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)

	sessionHandler := session.New(svc.Views, svc.CookieSecure, logger)
	instanceHandler := instance.New(svc.Submitter, svc.Fetcher, svc.AI, logger)
	liveHandler := live.New(svc.Views, logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if svc.Metrics != nil {
		r.Handle("/metrics", svc.Metrics.Handler())
	}

	r.Route("/api", func(api chi.Router) {
		sessionHandler.RegisterPublicRoutes(api)

		api.Group(func(tenantScoped chi.Router) {
			tenantScoped.Use(middleware.Tenant(svc.CookieSecure, logger))
			sessionHandler.RegisterRoutes(tenantScoped)
			instanceHandler.RegisterRoutes(tenantScoped)
			liveHandler.RegisterRoutes(tenantScoped)
		})

		api.Group(func(admin chi.Router) {
			admin.Use(middleware.User(svc.CookieSecure, logger))
			sessionHandler.RegisterAdminRoutes(admin)
		})
	})

	return r
}
