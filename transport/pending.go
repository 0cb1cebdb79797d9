package transport

import (
	"errors"
	"fmt"
	"sync"

	"mini-rpc/message"
)

// ErrDuplicateCallID means a call id was registered twice, which is a bug in
// the caller's id generation.
var ErrDuplicateCallID = errors.New("duplicate call id")

// PendingCall is the client-side record of one in-flight request.
//
// Its result slot is written at most once: only the party that removes the
// entry from the PendingTable may resolve it, and removal is exclusive.
type PendingCall struct {
	CallID uint64
	done   chan struct{}
	resp   *message.Response
	err    error
}

// Done is closed once the call has a response or an error.
func (pc *PendingCall) Done() <-chan struct{} {
	return pc.done
}

// Result returns the outcome. Only valid after Done is closed.
func (pc *PendingCall) Result() (*message.Response, error) {
	return pc.resp, pc.err
}

func (pc *PendingCall) resolve(resp *message.Response, err error) {
	pc.resp = resp
	pc.err = err
	close(pc.done)
}

// PendingTable maps call ids to in-flight calls. It is shared between callers
// (Register, CancelOnTimeout, Remove) and the connection's read loop (Complete,
// FailAll).
//
// Every removal goes through LoadAndDelete, so for a given id exactly one of
// Complete, CancelOnTimeout, Remove and FailAll wins; the others are no-ops.
type PendingTable struct {
	calls sync.Map // map[uint64]*PendingCall
}

// Register creates and inserts a pending call for id.
func (t *PendingTable) Register(id uint64) (*PendingCall, error) {
	pc := &PendingCall{CallID: id, done: make(chan struct{})}
	if _, loaded := t.calls.LoadOrStore(id, pc); loaded {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateCallID, id)
	}
	return pc, nil
}

// Complete delivers resp to the call waiting on id. It reports false when no
// such call exists (already timed out, never made, or a duplicate response).
func (t *PendingTable) Complete(id uint64, resp *message.Response) bool {
	v, ok := t.calls.LoadAndDelete(id)
	if !ok {
		return false
	}
	v.(*PendingCall).resolve(resp, nil)
	return true
}

// CancelOnTimeout fails the call waiting on id with ErrTimeout. It reports
// false when a response already claimed the call.
func (t *PendingTable) CancelOnTimeout(id uint64) bool {
	return t.Cancel(id, ErrTimeout)
}

// Cancel fails the call waiting on id with err, unless something else
// resolved it first.
func (t *PendingTable) Cancel(id uint64, err error) bool {
	v, ok := t.calls.LoadAndDelete(id)
	if !ok {
		return false
	}
	v.(*PendingCall).resolve(nil, err)
	return true
}

// Remove drops id without resolving it; used when the request never made it
// onto the wire.
func (t *PendingTable) Remove(id uint64) bool {
	_, ok := t.calls.LoadAndDelete(id)
	return ok
}

// FailAll resolves every pending call with err. Called when the connection breaks.
func (t *PendingTable) FailAll(err error) int {
	n := 0
	t.calls.Range(func(key, _ any) bool {
		if v, ok := t.calls.LoadAndDelete(key); ok {
			v.(*PendingCall).resolve(nil, err)
			n++
		}
		return true
	})
	return n
}

// Len returns the number of in-flight calls.
func (t *PendingTable) Len() int {
	n := 0
	t.calls.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
