// Package session is a thin validation layer over internal/store's opaque
// Session rows, enforcing the one property spec §3.5 assigns to the core:
// "advancing to a state which requires a bound Approval or Job id must
// provide that id." The declared state set itself belongs to the
// collaborator driving scan -> tag -> parser -> run, not to this package;
// callers say explicitly, per call, whether the target state binds an
// approval and/or a job, and this package refuses the advance if the
// corresponding id is missing.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/casparianflow/sentinel/internal/store"
)

// ErrMissingApprovalID is returned when AdvanceOptions.RequiresApprovalID
// is set but ApprovalID is empty.
var ErrMissingApprovalID = errors.New("session: target state requires a bound approval id")

// ErrMissingJobID is returned when AdvanceOptions.RequiresJobID is set but
// JobID is zero.
var ErrMissingJobID = errors.New("session: target state requires a bound job id")

// Payload is the JSON shape stored in store.Session.Payload: the bound
// approval/job ids (if any) plus whatever collaborator-defined extra data
// rides along with the state.
type Payload struct {
	ApprovalID *string         `json:"approval_id,omitempty"`
	JobID      *uint64         `json:"job_id,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
}

// AdvanceOptions describes one state transition request.
type AdvanceOptions struct {
	RequiresApprovalID bool
	ApprovalID         string
	RequiresJobID      bool
	JobID              uint64
	Extra              json.RawMessage
}

// Manager advances and reads Session rows.
type Manager struct {
	store *store.Store
}

// New builds a Manager over an already-opened Store.
func New(s *store.Store) *Manager {
	return &Manager{store: s}
}

// Advance validates opts against spec §3.5's binding rule and, if valid,
// upserts the session row at the new state.
func (m *Manager) Advance(ctx context.Context, sessionID, state string, opts AdvanceOptions) error {
	if opts.RequiresApprovalID && opts.ApprovalID == "" {
		return fmt.Errorf("%w: session=%s state=%s", ErrMissingApprovalID, sessionID, state)
	}
	if opts.RequiresJobID && opts.JobID == 0 {
		return fmt.Errorf("%w: session=%s state=%s", ErrMissingJobID, sessionID, state)
	}

	payload := Payload{Extra: opts.Extra}
	if opts.ApprovalID != "" {
		payload.ApprovalID = &opts.ApprovalID
	}
	if opts.JobID != 0 {
		payload.JobID = &opts.JobID
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return m.store.UpsertSession(ctx, sessionID, state, raw)
}

// Get fetches a session's current state and decoded payload.
func (m *Manager) Get(ctx context.Context, sessionID string) (state string, payload Payload, err error) {
	row, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", Payload{}, err
	}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return "", Payload{}, err
		}
	}
	return row.State, payload, nil
}
