package rpc

import (
	"strconv"
)

// requestResult is what a suspended caller eventually receives.
type requestResult struct {
	body []byte
	err  error
}

// registry tracks in-flight requests by correlation id. It is owned
// exclusively by one actor loop, so no locking is needed.
type registry struct {
	next    uint64
	pending map[string]chan requestResult
}

func newRegistry() *registry {
	return &registry{pending: make(map[string]chan requestResult)}
}

// generate returns a correlation id that never repeats within the actor's
// lifetime: a monotonically increasing counter rendered to a decimal string.
func (r *registry) generate() string {
	r.next++
	return strconv.FormatUint(r.next, 10)
}

// register records a waiting caller under id. Each id is registered at most
// once.
func (r *registry) register(id string, waiter chan requestResult) {
	r.pending[id] = waiter
}

// pop removes and returns the caller waiting on id. A false result is not an
// error: the response belongs to a request the actor no longer tracks and
// must be silently discarded.
func (r *registry) pop(id string) (chan requestResult, bool) {
	waiter, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return waiter, ok
}

// drain removes every entry and answers each waiter with reason. Used at
// actor termination so suspended callers unblock.
func (r *registry) drain(reason error) {
	for id, waiter := range r.pending {
		delete(r.pending, id)
		select {
		case waiter <- requestResult{err: reason}:
		default:
		}
	}
}

// len reports the number of in-flight requests.
func (r *registry) len() int {
	return len(r.pending)
}
