// Package approval bridges synchronous tool calls to asynchronous
// out-of-band decisions (a human UI action or a supervisory verdict).
//
// The registry is a process-wide singleton. Entries are keyed by tool call
// id, so concurrent unrelated requests never contend on the same entry.
// Exactly one resolution per id is honored; the race between resolve,
// deny, and timeout is settled by first writer wins.
package approval

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// DefaultTimeout bounds how long a pending approval may wait. Timeout
// resolves to denied, never to silent approval.
const DefaultTimeout = 300 * time.Second

// Status is the decision for a pending approval.
type Status string

const (
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
)

// Decision is the resolution delivered to a waiting tool call.
type Decision struct {
	Status  Status          `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// TimedOut marks a decision synthesized by timer expiry (always denied).
	TimedOut bool `json:"timed_out,omitempty"`
}

// Approved reports whether the decision permits execution.
func (d Decision) Approved() bool { return d.Status == StatusApproved }

var (
	// ErrNotPending is returned when a resolution carries no tool call id,
	// so neither a pending entry nor a cache slot can ever match it.
	ErrNotPending = errors.New("approval: tool call not pending")

	// ErrAlreadyResolved is returned for duplicate resolutions; the
	// original decision stands.
	ErrAlreadyResolved = errors.New("approval: already resolved")
)

type pendingEntry struct {
	ch    chan Decision
	timer *time.Timer
}

type earlyEntry struct {
	decision Decision
	at       time.Time
}

// Registry holds outstanding approvals and early decisions.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	// early caches decisions that arrived before registration, a
	// legitimate race when the client responds unusually fast. The next
	// Register for the id consumes the slot; slots nothing ever consumes
	// (a mistyped id, for instance) are swept by Prune.
	early   map[string]earlyEntry
	settled map[string]time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]*pendingEntry),
		early:   make(map[string]earlyEntry),
		settled: make(map[string]time.Time),
	}
}

// Register creates the pending entry for toolCallID and returns a channel
// delivering exactly one decision: the out-of-band resolution, or a denied
// decision synthesized when timeout expires. A cached early decision is
// consumed immediately.
func (r *Registry) Register(toolCallID string, timeout time.Duration) <-chan Decision {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan Decision, 1)

	if cached, ok := r.early[toolCallID]; ok {
		delete(r.early, toolCallID)
		r.settled[toolCallID] = time.Now()
		ch <- cached.decision
		return ch
	}

	entry := &pendingEntry{ch: ch}
	entry.timer = time.AfterFunc(timeout, func() {
		r.expire(toolCallID)
	})
	r.pending[toolCallID] = entry
	return ch
}

// Resolve delivers a decision for toolCallID. A decision arriving before
// registration is cached for the next Register; cache entries nothing
// consumes age out via Prune. Duplicate resolutions are no-ops returning
// ErrAlreadyResolved, and an empty id returns ErrNotPending.
func (r *Registry) Resolve(toolCallID string, status Status, payload json.RawMessage) error {
	if toolCallID == "" {
		return ErrNotPending
	}
	decision := Decision{Status: status, Payload: payload}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.pending[toolCallID]; ok {
		entry.timer.Stop()
		delete(r.pending, toolCallID)
		r.settled[toolCallID] = time.Now()
		entry.ch <- decision
		return nil
	}

	if _, ok := r.settled[toolCallID]; ok {
		return ErrAlreadyResolved
	}
	if _, ok := r.early[toolCallID]; ok {
		return ErrAlreadyResolved
	}

	r.early[toolCallID] = earlyEntry{decision: decision, at: time.Now()}
	return nil
}

// Cancel withdraws a pending entry without delivering a decision, for use
// when the waiting turn is aborted.
func (r *Registry) Cancel(toolCallID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.pending[toolCallID]; ok {
		entry.timer.Stop()
		delete(r.pending, toolCallID)
		r.settled[toolCallID] = time.Now()
	}
}

// Pending returns the number of outstanding entries.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Prune drops settled-id bookkeeping and unconsumed early decisions older
// than the given age, bounding memory growth across many turns.
func (r *Registry) Prune(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for id, at := range r.settled {
		if at.Before(cutoff) {
			delete(r.settled, id)
			pruned++
		}
	}
	for id, entry := range r.early {
		if entry.at.Before(cutoff) {
			delete(r.early, id)
			pruned++
		}
	}
	return pruned
}

func (r *Registry) expire(toolCallID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.pending[toolCallID]
	if !ok {
		return
	}
	delete(r.pending, toolCallID)
	r.settled[toolCallID] = time.Now()
	entry.ch <- Decision{Status: StatusDenied, TimedOut: true}
}
