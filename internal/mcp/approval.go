package mcpserver

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventEmitter allows the approval queue to notify whoever decides.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// ApprovalMode selects how destructive tools are confirmed.
type ApprovalMode int

const (
	// ApprovalDeny rejects destructive tools outright.
	ApprovalDeny ApprovalMode = iota
	// ApprovalAsk blocks until Approve or Reject is called.
	ApprovalAsk
	// ApprovalAuto accepts every request.
	ApprovalAuto
)

// PendingAction represents a destructive operation awaiting user approval.
type PendingAction struct {
	ID          string `json:"id"`
	Tool        string `json:"tool"`
	Description string `json:"description"`
	CreatedAt   string `json:"createdAt"`
}

type pendingEntry struct {
	action PendingAction
	result chan bool
}

// ApprovalQueue manages human-in-the-loop approval for destructive MCP tool calls.
type ApprovalQueue struct {
	mu      sync.Mutex
	pending map[string]pendingEntry
	ctx     context.Context
	emitter EventEmitter
	mode    ApprovalMode
	timeout time.Duration
}

func NewApprovalQueue(ctx context.Context, emitter EventEmitter, mode ApprovalMode) *ApprovalQueue {
	return &ApprovalQueue{
		pending: make(map[string]pendingEntry),
		ctx:     ctx,
		emitter: emitter,
		mode:    mode,
		timeout: 120 * time.Second,
	}
}

// Request asks for approval and blocks until approved, rejected or timed out.
func (q *ApprovalQueue) Request(tool, description string) (bool, error) {
	switch q.mode {
	case ApprovalAuto:
		return true, nil
	case ApprovalDeny:
		return false, fmt.Errorf("%s requires approval and this server does not accept destructive actions", tool)
	}

	id := uuid.NewString()
	entry := pendingEntry{
		action: PendingAction{
			ID:          id,
			Tool:        tool,
			Description: description,
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		},
		result: make(chan bool, 1),
	}
	q.mu.Lock()
	q.pending[id] = entry
	q.mu.Unlock()
	defer q.cleanup(id)

	q.emitter.Emit(q.ctx, "mcp:approval-required", entry.action)

	select {
	case approved := <-entry.result:
		if !approved {
			return false, fmt.Errorf("action rejected by user: %s", tool)
		}
		return true, nil
	case <-time.After(q.timeout):
		q.emitter.Emit(q.ctx, "mcp:approval-dismissed", map[string]string{"id": id})
		return false, fmt.Errorf("action timed out after %s: %s", q.timeout, tool)
	case <-q.ctx.Done():
		return false, fmt.Errorf("context cancelled")
	}
}

// Approve marks a pending action as approved. Returns false if id is unknown.
func (q *ApprovalQueue) Approve(actionID string) bool {
	return q.resolve(actionID, true)
}

// Reject marks a pending action as rejected. Returns false if id is unknown.
func (q *ApprovalQueue) Reject(actionID string) bool {
	return q.resolve(actionID, false)
}

func (q *ApprovalQueue) resolve(actionID string, approved bool) bool {
	q.mu.Lock()
	entry, ok := q.pending[actionID]
	q.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case entry.result <- approved:
	default:
	}
	return true
}

// Pending lists waiting actions, oldest first.
func (q *ApprovalQueue) Pending() []PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]PendingAction, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, e.action)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

func (q *ApprovalQueue) cleanup(id string) {
	q.mu.Lock()
	delete(q.pending, id)
	q.mu.Unlock()
}
