package tenant

import (
	"fmt"
	"strings"
)

// Broker is a human agent that receives transferred leads.
type Broker struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Active        bool     `json:"active"`
	LeadsReceived int      `json:"leads_received"`
	OwnerID       Identity `json:"owner_id"`
}

// Validate rejects brokers without an id.
func (b Broker) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("%w: broker id is empty", ErrInvalidRecord)
	}
	if b.LeadsReceived < 0 {
		return fmt.Errorf("%w: broker %s has negative lead count", ErrInvalidRecord, b.ID)
	}
	return nil
}
