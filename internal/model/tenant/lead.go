package tenant

import (
	"fmt"
	"strings"
	"time"
)

// LeadStatus is the funnel stage of a lead.
type LeadStatus string

const (
	LeadAISent      LeadStatus = "AI_SENT"
	LeadResponded   LeadStatus = "RESPONDED"
	LeadNudged      LeadStatus = "NUDGED"
	LeadHumanActive LeadStatus = "HUMAN_ACTIVE"
	LeadTransferred LeadStatus = "TRANSFERRED"
)

var leadStatuses = []LeadStatus{LeadAISent, LeadResponded, LeadNudged, LeadHumanActive, LeadTransferred}

// LeadStatuses returns every status in funnel order.
func LeadStatuses() []LeadStatus {
	return append([]LeadStatus(nil), leadStatuses...)
}

// Valid reports whether s is a known status.
func (s LeadStatus) Valid() bool {
	for _, known := range leadStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Lead is a prospective contact tracked under an instance. It is written by
// the messaging workers and only read here.
type Lead struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Phone           string     `json:"phone,omitempty"`
	Status          LeadStatus `json:"status"`
	LastInteraction time.Time  `json:"last_interaction"`
	InstanceID      string     `json:"instance_id"`
}

// Validate rejects leads with missing ids or unknown statuses.
func (l Lead) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("%w: lead id is empty", ErrInvalidRecord)
	}
	if !l.Status.Valid() {
		return fmt.Errorf("%w: lead %s has unknown status %q", ErrInvalidRecord, l.ID, l.Status)
	}
	return nil
}
