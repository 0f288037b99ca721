// Package gate holds proposed write actions for human approval before any
// value reaches the upstream application. Nothing is written upstream until
// an operator approves the action.
package gate

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/tetherview/scadabridge/pkg/errors"
	"github.com/tetherview/scadabridge/pkg/observability"
	"github.com/tetherview/scadabridge/pkg/registry"
	"github.com/tetherview/scadabridge/pkg/upstream"
)

// ActionState is the lifecycle state of a proposed write.
type ActionState string

const (
	StateAwaitingApproval ActionState = "AWAITING_APPROVAL"
	StateApproved         ActionState = "APPROVED"
	StateRejected         ActionState = "REJECTED"
	StateSuperseded       ActionState = "SUPERSEDED"
	StateExecuted         ActionState = "EXECUTED"
	StateExecutionFailed  ActionState = "EXECUTION_FAILED"
)

// Action is one proposed write and its resolution.
type Action struct {
	ID         string            `json:"id"`
	PointID    string            `json:"point_id"`
	Tag        string            `json:"tag"`
	Value      float64           `json:"value"`
	DataType   upstream.DataType `json:"data_type"`
	Rationale  string            `json:"rationale,omitempty"`
	State      ActionState       `json:"state"`
	ProposedAt time.Time         `json:"proposed_at"`
	ResolvedAt time.Time         `json:"resolved_at,omitzero"`
	// Error carries the upstream failure message for EXECUTION_FAILED.
	Error string `json:"error,omitempty"`
	// Reason is the operator's note on rejection.
	Reason string `json:"reason,omitempty"`

	// seq orders proposals that share a timestamp.
	seq uint64
}

// Proposal is the operator-facing input for a new action.
type Proposal struct {
	Point     string  `json:"point"`
	Value     float64 `json:"value"`
	DataType  string  `json:"data_type,omitempty"`
	Rationale string  `json:"rationale,omitempty"`
}

// PointWriter commits an approved value to the upstream application.
type PointWriter interface {
	WritePoint(ctx context.Context, tag string, dataType upstream.DataType, value float64) error
}

// RegistrySource yields the current point configuration.
type RegistrySource interface {
	Snapshot() *registry.Snapshot
}

const auditLimit = 256

// Gate tracks at most one pending action per point. A newer proposal for the
// same point supersedes the older one; approval and rejection race safely
// with the first resolver winning.
type Gate struct {
	writer PointWriter
	source RegistrySource
	logger *slog.Logger

	mu      sync.Mutex
	seq     uint64
	pending map[string]*Action // keyed by point ID
	byID    map[string]*Action
	audit   []*Action
}

// New constructs a command gate.
func New(writer PointWriter, source RegistrySource, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		writer:  writer,
		source:  source,
		logger:  logger,
		pending: make(map[string]*Action),
		byID:    make(map[string]*Action),
	}
}

// Propose validates a write request against the registry and parks it for
// approval. An existing pending action for the same point is superseded.
func (g *Gate) Propose(p Proposal) (Action, error) {
	def, ok := g.source.Snapshot().Resolve(p.Point)
	if !ok {
		observability.ActionsProposed.WithLabelValues("unknown_point").Inc()
		return Action{}, errors.New(errors.ErrCodeUnknownPoint, "unknown point: "+p.Point)
	}
	if !def.Writable {
		observability.ActionsProposed.WithLabelValues("not_writable").Inc()
		return Action{}, errors.New(errors.ErrCodeUnknownPoint, "point is not writable: "+def.ID)
	}
	dataType := upstream.DataTypeNumeric
	if p.DataType != "" {
		dt, err := upstream.ParseDataType(p.DataType)
		if err != nil {
			observability.ActionsProposed.WithLabelValues("invalid_input").Inc()
			return Action{}, err
		}
		dataType = dt
	}
	if !def.InRange(p.Value) {
		observability.ActionsProposed.WithLabelValues("out_of_range").Inc()
		return Action{}, errors.Newf(errors.ErrCodeOutOfRange,
			"value %v outside safety bounds for %s", p.Value, def.ID)
	}

	action := &Action{
		ID:         ulid.Make().String(),
		PointID:    def.ID,
		Tag:        def.Tag,
		Value:      p.Value,
		DataType:   dataType,
		Rationale:  p.Rationale,
		State:      StateAwaitingApproval,
		ProposedAt: time.Now(),
	}

	g.mu.Lock()
	g.seq++
	action.seq = g.seq
	if prev, exists := g.pending[def.ID]; exists {
		prev.State = StateSuperseded
		prev.ResolvedAt = time.Now()
		g.record(prev)
		g.logger.Info("action superseded",
			"action_id", prev.ID, "point", prev.PointID, "superseded_by", action.ID)
	}
	g.pending[def.ID] = action
	g.byID[action.ID] = action
	g.mu.Unlock()

	observability.ActionsProposed.WithLabelValues("accepted").Inc()
	g.logger.Info("action proposed",
		"action_id", action.ID, "point", action.PointID, "value", action.Value)
	return *action, nil
}

// Approve resolves a pending action and synchronously writes the value
// upstream. Exactly one of a racing approve/reject pair wins; the loser
// gets a NO_PENDING_ACTION error.
func (g *Gate) Approve(ctx context.Context, actionID string) (Action, error) {
	action, err := g.takePending(actionID, StateApproved)
	if err != nil {
		return Action{}, err
	}

	writeErr := g.writer.WritePoint(ctx, action.Tag, action.DataType, action.Value)

	g.mu.Lock()
	if writeErr != nil {
		action.State = StateExecutionFailed
		action.Error = writeErr.Error()
	} else {
		action.State = StateExecuted
	}
	action.ResolvedAt = time.Now()
	out := *action
	g.mu.Unlock()

	observability.ActionsResolved.WithLabelValues(string(out.State)).Inc()
	if writeErr != nil {
		g.logger.Error("approved action failed to execute",
			"action_id", out.ID, "point", out.PointID, "error", writeErr)
		return out, writeErr
	}
	g.logger.Info("action executed",
		"action_id", out.ID, "point", out.PointID, "value", out.Value)
	return out, nil
}

// Reject resolves a pending action without writing anything upstream.
func (g *Gate) Reject(actionID, reason string) (Action, error) {
	action, err := g.takePending(actionID, StateRejected)
	if err != nil {
		return Action{}, err
	}

	g.mu.Lock()
	action.Reason = reason
	action.ResolvedAt = time.Now()
	out := *action
	g.mu.Unlock()

	observability.ActionsResolved.WithLabelValues(string(StateRejected)).Inc()
	g.logger.Info("action rejected", "action_id", out.ID, "point", out.PointID, "reason", reason)
	return out, nil
}

// takePending atomically removes the action from the pending set and moves
// it to the given state. Only an AWAITING_APPROVAL action can be taken.
func (g *Gate) takePending(actionID string, next ActionState) (*Action, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	action, ok := g.byID[actionID]
	if !ok || action.State != StateAwaitingApproval {
		return nil, errors.New(errors.ErrCodeNoPendingAction, "no pending action: "+actionID)
	}
	action.State = next
	delete(g.pending, action.PointID)
	g.record(action)
	return action, nil
}

// Pending lists actions awaiting approval, oldest first.
func (g *Gate) Pending() []Action {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Action, 0, len(g.pending))
	for _, a := range g.pending {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Get returns an action by ID, pending or resolved.
func (g *Gate) Get(actionID string) (Action, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if a, ok := g.byID[actionID]; ok {
		return *a, true
	}
	return Action{}, false
}

// Audit returns the resolved-action history, oldest first.
func (g *Gate) Audit() []Action {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Action, 0, len(g.audit))
	for _, a := range g.audit {
		out = append(out, *a)
	}
	return out
}

// record appends to the bounded audit trail. Caller holds g.mu. Actions
// evicted from the trail also leave the byID index so memory stays bounded.
func (g *Gate) record(a *Action) {
	g.audit = append(g.audit, a)
	if len(g.audit) > auditLimit {
		evicted := g.audit[0]
		g.audit = g.audit[1:]
		if evicted.State != StateAwaitingApproval {
			delete(g.byID, evicted.ID)
		}
	}
}
