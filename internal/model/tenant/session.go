package tenant

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Identity is the opaque token scoping every read and write to one tenant.
type Identity string

// ParseIdentity trims the raw signal and reports whether anything is left.
func ParseIdentity(raw string) (Identity, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", false
	}
	return Identity(trimmed), true
}

func (id Identity) String() string { return string(id) }

// Session is the store row holding one tenant's full state.
type Session struct {
	ID        Identity    `json:"id"`
	Name      string      `json:"name,omitempty"`
	Data      SessionData `json:"data"`
	UpdatedAt *time.Time  `json:"updated_at,omitempty"`
}

// SessionData is the nested payload of a Session row. Keys other than the
// typed ones are kept in Extra and written back untouched.
type SessionData struct {
	Instances []Instance                 `json:"instances"`
	Company   string                     `json:"company,omitempty"`
	Plan      string                     `json:"plan,omitempty"`
	Extra     map[string]json.RawMessage `json:"-"`
}

type sessionDataFields struct {
	Instances []Instance `json:"instances"`
	Company   string     `json:"company,omitempty"`
	Plan      string     `json:"plan,omitempty"`
}

var sessionDataKeys = []string{"instances", "company", "plan"}

// UnmarshalJSON decodes the typed fields and keeps everything else in Extra.
func (d *SessionData) UnmarshalJSON(raw []byte) error {
	var fields sessionDataFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return err
	}
	for _, key := range sessionDataKeys {
		delete(all, key)
	}
	if len(all) == 0 {
		all = nil
	}
	*d = SessionData{
		Instances: fields.Instances,
		Company:   fields.Company,
		Plan:      fields.Plan,
		Extra:     all,
	}
	return nil
}

// MarshalJSON merges Extra back next to the typed fields.
func (d SessionData) MarshalJSON() ([]byte, error) {
	instances := d.Instances
	if instances == nil {
		instances = []Instance{}
	}
	typed, err := json.Marshal(sessionDataFields{Instances: instances, Company: d.Company, Plan: d.Plan})
	if err != nil {
		return nil, err
	}
	if len(d.Extra) == 0 {
		return typed, nil
	}
	merged := make(map[string]json.RawMessage, len(d.Extra)+len(sessionDataKeys))
	for key, value := range d.Extra {
		merged[key] = value
	}
	var typedFields map[string]json.RawMessage
	if err := json.Unmarshal(typed, &typedFields); err != nil {
		return nil, err
	}
	for key, value := range typedFields {
		merged[key] = value
	}
	return json.Marshal(merged)
}

// Validate checks the row before it reaches any view state.
func (s Session) Validate() error {
	if strings.TrimSpace(string(s.ID)) == "" {
		return fmt.Errorf("%w: session id is empty", ErrInvalidRecord)
	}
	return ValidateInstances(s.Data.Instances)
}

// InstanceIDs returns the ids of the nested instances in payload order.
func (s Session) InstanceIDs() []string {
	ids := make([]string, 0, len(s.Data.Instances))
	for _, inst := range s.Data.Instances {
		ids = append(ids, inst.ID)
	}
	return ids
}
