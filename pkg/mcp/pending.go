package mcp

import (
	"encoding/json"
	"sync"
	"time"
)

// callResult is delivered exactly once per pending call.
type callResult struct {
	result json.RawMessage
	err    error
}

// pendingCall is one in-flight request. The done channel is buffered so
// delivery never blocks table mutation; it is owned by the table until
// resolution and read only by the original caller.
type pendingCall struct {
	id       int64
	method   string
	epoch    uint64
	created  time.Time
	deadline time.Time
	done     chan callResult
}

// pendingTable correlates multiplexed responses back to their callers.
// All mutations happen under mu; resolution removes the entry before
// delivering, so a second resolve for the same id is a no-op.
type pendingTable struct {
	mu    sync.Mutex
	calls map[int64]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[int64]*pendingCall)}
}

func (t *pendingTable) register(epoch uint64, id int64, method string, deadline time.Time) (*pendingCall, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.calls[id]; exists {
		return nil, ErrDuplicateID
	}

	call := &pendingCall{
		id:       id,
		method:   method,
		epoch:    epoch,
		created:  time.Now(),
		deadline: deadline,
		done:     make(chan callResult, 1),
	}
	t.calls[id] = call
	return call, nil
}

// resolve completes a call. Unknown ids are ignored: the call may have timed
// out already, or belong to a flushed epoch whose response arrived late.
func (t *pendingTable) resolve(id int64, result json.RawMessage, err error) bool {
	t.mu.Lock()
	call, ok := t.calls[id]
	if ok {
		delete(t.calls, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	call.done <- callResult{result: result, err: err}
	return true
}

// remove drops a call without delivering anything. Used when the caller
// abandons the wait; the eventual response hits the unknown-id path.
func (t *pendingTable) remove(id int64) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

// expire resolves every call whose deadline has passed with ErrTimeout and
// reports how many were expired.
func (t *pendingTable) expire(now time.Time) int {
	t.mu.Lock()
	var expired []*pendingCall
	for id, call := range t.calls {
		if now.After(call.deadline) {
			delete(t.calls, id)
			expired = append(expired, call)
		}
	}
	t.mu.Unlock()

	for _, call := range expired {
		call.done <- callResult{err: ErrTimeout}
	}
	return len(expired)
}

// flush resolves every call belonging to the given epoch with err. Called on
// stream close with the old epoch before reconnecting.
func (t *pendingTable) flush(epoch uint64, err error) int {
	t.mu.Lock()
	var flushed []*pendingCall
	for id, call := range t.calls {
		if call.epoch == epoch {
			delete(t.calls, id)
			flushed = append(flushed, call)
		}
	}
	t.mu.Unlock()

	for _, call := range flushed {
		call.done <- callResult{err: err}
	}
	return len(flushed)
}

func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
