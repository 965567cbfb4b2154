package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/identity"
	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/pkg/utils"
)

type ctxKey int

const (
	tenantKey ctxKey = iota
	userKey
)

// Unauthenticated is the body of every 401 answer.
var Unauthenticated = map[string]string{"state": "unauthenticated"}

// Tenant resolves the tenant identity from ?tid= or the venux_tid cookie and
// stores it in the request context. Requests without one get 401.
func Tenant(secure bool, logger *zap.Logger) func(http.Handler) http.Handler {
	return resolve(identity.KeyTenant, "tid", tenantKey, secure, logger)
}

// User is the analytics dashboard counterpart of Tenant, keyed on venux_user.
func User(secure bool, logger *zap.Logger) func(http.Handler) http.Handler {
	return resolve(identity.KeyUser, "user", userKey, secure, logger)
}

func resolve(key, param string, ck ctxKey, secure bool, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resolver := identity.NewResolver(key, identity.NewCookieJar(w, r, secure))
			id, ok, err := resolver.Resolve(r.URL.Query().Get(param))
			if err != nil {
				logger.Error("identity resolution failed", zap.String("key", key), zap.Error(err))
				utils.RespondError(w, http.StatusInternalServerError, "identity unavailable")
				return
			}
			if !ok {
				utils.RespondJSON(w, http.StatusUnauthorized, Unauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ck, id)))
		})
	}
}

// TenantFrom returns the identity stored by Tenant.
func TenantFrom(ctx context.Context) (tenant.Identity, bool) {
	id, ok := ctx.Value(tenantKey).(tenant.Identity)
	return id, ok
}

// UserFrom returns the identity stored by User.
func UserFrom(ctx context.Context) (tenant.Identity, bool) {
	id, ok := ctx.Value(userKey).(tenant.Identity)
	return id, ok
}

// WithTenant stores id as the request tenant, for tests and internal calls.
func WithTenant(ctx context.Context, id tenant.Identity) context.Context {
	return context.WithValue(ctx, tenantKey, id)
}
