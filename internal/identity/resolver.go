// Package identity resolves which tenant a viewer is looking at.
package identity

import (
	"fmt"

	"github.com/venux/panel/backend/internal/model/tenant"
)

// Persisted keys used by the two panels.
const (
	KeyTenant = "venux_tid"
	KeyUser   = "venux_user"
)

// Persister stores resolved identities between visits.
type Persister interface {
	Load(key string) (string, bool, error)
	Save(key, value string) error
	Delete(key string) error
}

// Resolver applies the precedence explicit signal > persisted value > absent.
type Resolver struct {
	key       string
	persister Persister
}

// NewResolver returns a resolver persisting under key.
func NewResolver(key string, persister Persister) *Resolver {
	return &Resolver{key: key, persister: persister}
}

// Resolve returns the identity to use. An explicit signal is persisted and
// wins; otherwise the persisted value is returned. ok is false when neither
// exists, which callers render as the not-authenticated state.
func (r *Resolver) Resolve(explicit string) (id tenant.Identity, ok bool, err error) {
	if id, ok := tenant.ParseIdentity(explicit); ok {
		if err := r.persister.Save(r.key, string(id)); err != nil {
			return "", false, fmt.Errorf("persist %s: %w", r.key, err)
		}
		return id, true, nil
	}

	stored, found, err := r.persister.Load(r.key)
	if err != nil {
		return "", false, fmt.Errorf("load %s: %w", r.key, err)
	}
	if !found {
		return "", false, nil
	}
	id, ok = tenant.ParseIdentity(stored)
	return id, ok, nil
}

// Clear forgets the persisted identity (logout).
func (r *Resolver) Clear() error {
	if err := r.persister.Delete(r.key); err != nil {
		return fmt.Errorf("clear %s: %w", r.key, err)
	}
	return nil
}
