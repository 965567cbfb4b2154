package tenant

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidRecord marks rows that fail validation at the fetch boundary.
var ErrInvalidRecord = errors.New("invalid record")

// DecodeSession converts a raw store row into a validated Session.
func DecodeSession(row map[string]any) (Session, error) {
	var session Session
	if err := decodeRow(row, &session); err != nil {
		return Session{}, err
	}
	if err := session.Validate(); err != nil {
		return Session{}, err
	}
	return session, nil
}

// DecodeLead converts a raw store row into a validated Lead.
func DecodeLead(row map[string]any) (Lead, error) {
	var lead Lead
	if err := decodeRow(row, &lead); err != nil {
		return Lead{}, err
	}
	if err := lead.Validate(); err != nil {
		return Lead{}, err
	}
	return lead, nil
}

// DecodeBroker converts a raw store row into a validated Broker.
func DecodeBroker(row map[string]any) (Broker, error) {
	var broker Broker
	if err := decodeRow(row, &broker); err != nil {
		return Broker{}, err
	}
	if err := broker.Validate(); err != nil {
		return Broker{}, err
	}
	return broker, nil
}

// EncodeSessionData turns the typed payload back into the JSON-shaped value
// the store persists in the data column.
func EncodeSessionData(data SessionData) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode session data: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode session data: %w", err)
	}
	return out, nil
}

// EncodeInstance turns one instance into its JSON-shaped form.
func EncodeInstance(inst Instance) (map[string]any, error) {
	raw, err := json.Marshal(inst)
	if err != nil {
		return nil, fmt.Errorf("encode instance: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode instance: %w", err)
	}
	return out, nil
}

// rows arrive as loosely typed JSON documents; a round trip through
// encoding/json gives the struct tags the final say.
func decodeRow(row map[string]any, target any) error {
	if row == nil {
		return fmt.Errorf("%w: empty row", ErrInvalidRecord)
	}
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}
