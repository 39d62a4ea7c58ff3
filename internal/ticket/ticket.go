// Package ticket implements the per-fingerprint wait-set registry used
// by the build coordinator to let concurrent openers of the same
// derived file block on a single in-flight build and wake together when
// it resolves. It exists alongside
// golang.org/x/sync/singleflight because singleflight alone cannot
// distinguish "I was waiting and the build was cancelled out from under
// me" from "the build I was waiting on completed" — callers need that
// distinction to map cancellation onto EINTR rather than EIO.
package ticket

import (
	"sync"
)

// Result is what a ticket resolves to: either a successful outcome
// value or an error. The value is opaque to this package; buildcoord
// puts whatever result type its own callers expect there.
type Result struct {
	Value any
	Err error
}

// Ticket represents one build in flight for a single fingerprint. All
// goroutines that observe the same fingerprint as "building" share the
// same Ticket and Wait for the same Result.
type Ticket struct {
	fingerprint string
	done chan struct{}
	result Result
}

// Fingerprint returns the fingerprint this ticket was issued for.
func (t *Ticket) Fingerprint() string { return t.fingerprint }

// Wait blocks until the ticket is resolved and returns its result. It
// is safe to call from any number of goroutines.
func (t *Ticket) Wait() Result {
	<-t.done
	return t.result
}

// Done returns a channel that is closed when the ticket resolves, for
// callers that need to select on cancellation alongside the wait — a
// waiter's own context cancellation must not cancel the build for
// other waiters.
func (t *Ticket) Done() <-chan struct{} {
	return t.done
}

// Registry maps fingerprints to their in-flight Ticket, so that a
// second caller observing the same fingerprint as "building" joins the
// first caller's wait instead of starting a redundant build — at most
// one concurrent build per fingerprint.
type Registry struct {
	mu sync.Mutex
	tickets map[string]*Ticket
}

// NewRegistry returns an empty ticket registry.
func NewRegistry() *Registry {
	return &Registry{tickets: make(map[string]*Ticket)}
}

// Issue either returns the existing ticket for fp (joined == true) or
// creates and registers a fresh one (joined == false). The caller that
// receives joined == false owns the ticket and must eventually call
// Resolve.
func (r *Registry) Issue(fp string) (t *Ticket, joined bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tickets[fp]; ok {
		return existing, true
	}

	t = &Ticket{fingerprint: fp, done: make(chan struct{})}
	r.tickets[fp] = t
	return t, false
}

// Resolve stores result on t, wakes every waiter, and removes t from
// the registry so a future Issue for the same fingerprint starts fresh.
// Resolve must be called exactly once, by the ticket's owner.
func (r *Registry) Resolve(t *Ticket, result Result) {
	r.mu.Lock()
	if r.tickets[t.fingerprint] == t {
		delete(r.tickets, t.fingerprint)
	}
	r.mu.Unlock()

	t.result = result
	close(t.done)
}

// Inflight reports the number of fingerprints with a build currently in
// progress, for diagnostics.
func (r *Registry) Inflight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tickets)
}
