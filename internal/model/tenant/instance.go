package tenant

import (
	"fmt"
	"strings"
)

// Presence is the connection state reported for a messaging channel.
type Presence string

const (
	PresenceAvailable   Presence = "available"
	PresenceUnavailable Presence = "unavailable"
)

// Valid reports whether p is one of the known presence values.
func (p Presence) Valid() bool {
	return p == PresenceAvailable || p == PresenceUnavailable
}

// Instance is one connected messaging channel owned by a tenant.
type Instance struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Status          Presence `json:"status"`
	AIEnabled       bool     `json:"ai_enabled"`
	AIPrompt        string   `json:"ai_prompt,omitempty"`
	AIHandoffTopics string   `json:"ai_handoff_topics,omitempty"`
}

// InstancePatch carries a partial update. Nil fields are left untouched.
type InstancePatch struct {
	Name            *string   `json:"name,omitempty"`
	Status          *Presence `json:"status,omitempty"`
	AIEnabled       *bool     `json:"ai_enabled,omitempty"`
	AIPrompt        *string   `json:"ai_prompt,omitempty"`
	AIHandoffTopics *string   `json:"ai_handoff_topics,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p InstancePatch) Empty() bool {
	return p.Name == nil && p.Status == nil && p.AIEnabled == nil && p.AIPrompt == nil && p.AIHandoffTopics == nil
}

// Apply returns a copy of inst with the patch merged over it.
func (p InstancePatch) Apply(inst Instance) Instance {
	if p.Name != nil {
		inst.Name = *p.Name
	}
	if p.Status != nil {
		inst.Status = *p.Status
	}
	if p.AIEnabled != nil {
		inst.AIEnabled = *p.AIEnabled
	}
	if p.AIPrompt != nil {
		inst.AIPrompt = *p.AIPrompt
	}
	if p.AIHandoffTopics != nil {
		inst.AIHandoffTopics = *p.AIHandoffTopics
	}
	return inst
}

// Validate rejects instances the panel cannot render.
func (i Instance) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("%w: instance id is empty", ErrInvalidRecord)
	}
	if !i.Status.Valid() {
		return fmt.Errorf("%w: instance %s has unknown status %q", ErrInvalidRecord, i.ID, i.Status)
	}
	return nil
}

// ValidateInstances validates every entry and rejects duplicate ids.
func ValidateInstances(items []Instance) error {
	seen := make(map[string]struct{}, len(items))
	for _, inst := range items {
		if err := inst.Validate(); err != nil {
			return err
		}
		if _, dup := seen[inst.ID]; dup {
			return fmt.Errorf("%w: duplicate instance id %s", ErrInvalidRecord, inst.ID)
		}
		seen[inst.ID] = struct{}{}
	}
	return nil
}

// FindInstance returns the index of the instance with the given id, or -1.
func FindInstance(items []Instance, id string) int {
	for i, inst := range items {
		if inst.ID == id {
			return i
		}
	}
	return -1
}

// CloneInstances copies the slice so callers never share backing arrays.
func CloneInstances(items []Instance) []Instance {
	if items == nil {
		return nil
	}
	return append([]Instance(nil), items...)
}
