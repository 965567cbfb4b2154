package view

import "github.com/venux/panel/backend/internal/model/tenant"

// Factory creates controllers sharing the same collaborators.
type Factory struct {
	Deps    Deps
	Options Options
}

// New returns a controller for id.
func (f Factory) New(id tenant.Identity) *Controller {
	return New(id, f.Deps, f.Options)
}
