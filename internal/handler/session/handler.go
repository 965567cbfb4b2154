package session

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/identity"
	"github.com/venux/panel/backend/internal/middleware"
	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/service/fetcher"
	"github.com/venux/panel/backend/internal/service/view"
	"github.com/venux/panel/backend/pkg/utils"
)

// Handler serves the read side of both panels.
type Handler struct {
	views  view.Factory
	secure bool
	logger *zap.Logger
}

// New creates the session handler.
func New(views view.Factory, cookieSecure bool, logger *zap.Logger) *Handler {
	return &Handler{views: views, secure: cookieSecure, logger: logger.Named("session")}
}

type sessionResponse struct {
	State string     `json:"state"`
	View  view.State `json:"view"`
}

// RegisterRoutes registers the tenant panel routes; r must already carry the
// Tenant middleware.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session", h.handleSession)
	r.Get("/instances", h.handleInstances)
}

// RegisterPublicRoutes registers routes that work without an identity.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/admin/login", h.handleAdminLogin)
	r.Post("/admin/logout", h.handleAdminLogout)
}

// RegisterAdminRoutes registers the analytics dashboard routes; r must carry
// the User middleware.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/admin/tenants/{tid}", h.handleAdminTenant)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.TenantFrom(r.Context())
	state, ok := h.load(w, r, id)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessionResponse{State: "ready", View: state})
}

func (h *Handler) handleInstances(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.TenantFrom(r.Context())
	state, ok := h.load(w, r, id)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"instances": state.Instances})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TID string `json:"tid"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.login(w, r, identity.KeyTenant, payload.TID)
}

func (h *Handler) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		User string `json:"user"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.login(w, r, identity.KeyUser, payload.User)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, key, raw string) {
	if _, ok := tenant.ParseIdentity(raw); !ok {
		utils.RespondError(w, http.StatusBadRequest, "identity is required")
		return
	}
	id, _, err := identity.NewResolver(key, identity.NewCookieJar(w, r, h.secure)).Resolve(raw)
	if err != nil {
		h.logger.Error("login failed", zap.String("key", key), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"state": "authenticated", "id": id.String()})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r, identity.KeyTenant)
}

func (h *Handler) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	h.logout(w, r, identity.KeyUser)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request, key string) {
	if err := identity.NewResolver(key, identity.NewCookieJar(w, r, h.secure)).Clear(); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type adminTenantResponse struct {
	Viewer tenant.Identity `json:"viewer"`
	View   view.State      `json:"view"`
}

func (h *Handler) handleAdminTenant(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.UserFrom(r.Context())
	id, ok := tenant.ParseIdentity(chi.URLParam(r, "tid"))
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "tid is required")
		return
	}
	state, ok := h.load(w, r, id)
	if !ok {
		return
	}
	h.logger.Info("dashboard view", zap.String("user", user.String()), zap.String("tid", id.String()))
	utils.RespondJSON(w, http.StatusOK, adminTenantResponse{Viewer: user, View: state})
}

// load runs one refresh on a short-lived controller and writes the error
// response itself when it fails.
func (h *Handler) load(w http.ResponseWriter, r *http.Request, id tenant.Identity) (view.State, bool) {
	c := h.views.New(id)
	defer c.Close()

	state, err := c.Refresh(r.Context())
	if err == nil {
		return state, true
	}
	switch {
	case errors.Is(err, fetcher.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tenant.ErrInvalidRecord):
		h.logger.Error("invalid session row", zap.String("tid", id.String()), zap.Error(err))
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("fetch failed", zap.String("tid", id.String()), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, err.Error())
	}
	return view.State{}, false
}
