// Package mutation writes instance edits back into the session payload.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/venux/panel/backend/internal/metrics"
	"github.com/venux/panel/backend/internal/model/tenant"
	"github.com/venux/panel/backend/internal/store"
)

// ErrEmptyPatch rejects submissions that would change nothing.
var ErrEmptyPatch = errors.New("empty instance patch")

// NotFoundError means the session or the instance does not exist. Nothing
// was written.
type NotFoundError struct {
	Identity   tenant.Identity
	InstanceID string
}

func (e *NotFoundError) Error() string {
	if e.InstanceID == "" {
		return fmt.Sprintf("session %s not found", e.Identity)
	}
	return fmt.Sprintf("instance %s not found in session %s", e.InstanceID, e.Identity)
}

// MutationError wraps a failed read, validation or write.
type MutationError struct {
	Identity   tenant.Identity
	InstanceID string
	Op         string
	Err        error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s instance %s of %s: %v", e.Op, e.InstanceID, e.Identity, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// Submitter performs read-merge-write updates of single instances.
// Concurrent writers to the same session race; the last write wins.
type Submitter struct {
	store   store.Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSubmitter returns a submitter. m may be nil.
func NewSubmitter(s store.Store, logger *zap.Logger, m *metrics.Metrics) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Submitter{store: s, logger: logger.Named("mutation"), metrics: m, now: time.Now}
}

// SubmitInstanceUpdate merges patch over one instance and writes the whole
// instance list back. Every other instance and every other key of the
// payload is written back unchanged. It returns the confirmed list.
func (s *Submitter) SubmitInstanceUpdate(ctx context.Context, id tenant.Identity, instanceID string, patch tenant.InstancePatch) ([]tenant.Instance, error) {
	out, err := s.submit(ctx, id, instanceID, patch)
	var notFound *NotFoundError
	switch {
	case err == nil:
		s.metrics.Mutation("success")
	case errors.As(err, &notFound):
		s.metrics.Mutation("not_found")
	default:
		s.metrics.Mutation("failed")
		s.logger.Warn("instance update failed", zap.String("tid", id.String()), zap.String("instance", instanceID), zap.Error(err))
	}
	return out, err
}

func (s *Submitter) submit(ctx context.Context, id tenant.Identity, instanceID string, patch tenant.InstancePatch) ([]tenant.Instance, error) {
	fail := func(op string, err error) error {
		return &MutationError{Identity: id, InstanceID: instanceID, Op: op, Err: err}
	}
	if patch.Empty() {
		return nil, fail("validate", ErrEmptyPatch)
	}

	filters := []store.Filter{store.Eq("id", string(id))}
	rows, err := s.store.Select(ctx, store.TableSessions, store.Where(filters...))
	if err != nil {
		return nil, fail("read", err)
	}
	if len(rows) == 0 {
		return nil, &NotFoundError{Identity: id}
	}
	session, err := tenant.DecodeSession(rows[0])
	if err != nil {
		return nil, fail("read", err)
	}

	idx := tenant.FindInstance(session.Data.Instances, instanceID)
	if idx < 0 {
		return nil, &NotFoundError{Identity: id, InstanceID: instanceID}
	}
	updated := tenant.CloneInstances(session.Data.Instances)
	updated[idx] = patch.Apply(updated[idx])
	if err := tenant.ValidateInstances(updated); err != nil {
		return nil, fail("validate", err)
	}

	encoded, err := encodePayload(rows[0]["data"], session.Data, idx, updated)
	if err != nil {
		return nil, fail("encode", err)
	}
	row := store.Row{
		"data":       encoded,
		"updated_at": s.now().UTC().Format(time.RFC3339Nano),
	}
	n, err := s.store.Update(ctx, store.TableSessions, row, filters)
	if err != nil {
		return nil, fail("write", err)
	}
	if n == 0 {
		return nil, &NotFoundError{Identity: id}
	}
	s.logger.Info("instance updated", zap.String("tid", id.String()), zap.String("instance", instanceID))
	return updated, nil
}

var instanceKeys = []string{"id", "name", "status", "ai_enabled", "ai_prompt", "ai_handoff_topics"}

// encodePayload rewrites only entry idx of the stored payload so keys the
// typed model does not know about survive on every instance. It falls back
// to re-encoding the typed payload when the stored shape is unexpected.
func encodePayload(stored any, typed tenant.SessionData, idx int, updated []tenant.Instance) (map[string]any, error) {
	if raw, ok := stored.(map[string]any); ok {
		if list, ok := raw["instances"].([]any); ok && len(list) == len(updated) {
			if entry, ok := list[idx].(map[string]any); ok {
				fields, err := tenant.EncodeInstance(updated[idx])
				if err != nil {
					return nil, err
				}
				merged := store.Row(entry).Clone()
				for _, key := range instanceKeys {
					delete(merged, key)
				}
				for key, value := range fields {
					merged[key] = value
				}
				out := store.Row(raw).Clone()
				instances := append([]any(nil), list...)
				instances[idx] = map[string]any(merged)
				out["instances"] = instances
				return out, nil
			}
		}
	}
	typed.Instances = updated
	return tenant.EncodeSessionData(typed)
}
