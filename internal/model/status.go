package model

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of an e-invoice
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusValidated Status = "VALIDATED"
	StatusGenerated Status = "GENERATED"
	StatusSent      Status = "SENT"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
)

// legal forward edges; SENT -> SENT is only reachable through Retry
var transitions = map[Status][]Status{
	StatusDraft:     {StatusValidated},
	StatusValidated: {StatusGenerated},
	StatusGenerated: {StatusSent},
	StatusSent:      {StatusAccepted, StatusRejected},
}

var statusOrder = map[Status]int{
	StatusDraft:     0,
	StatusValidated: 1,
	StatusGenerated: 2,
	StatusSent:      3,
	StatusAccepted:  4,
	StatusRejected:  4,
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	_, ok := statusOrder[s]
	return ok
}

// Final reports whether no further transition is possible
func (s Status) Final() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Before reports whether s comes strictly earlier in the lifecycle than other
func (s Status) Before(other Status) bool {
	return statusOrder[s] < statusOrder[other]
}

// CanTransition reports whether s -> to is a legal forward edge
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// UnmarshalText rejects unknown statuses
func (s *Status) UnmarshalText(text []byte) error {
	v := Status(text)
	if !v.Valid() {
		return fmt.Errorf("unknown status %q", string(text))
	}
	*s = v
	return nil
}

// Transition is one audited status change
type Transition struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Lifecycle guards the only mutable part of an invoice
type Lifecycle struct {
	mu      sync.Mutex
	status  Status
	history []Transition
	now     func() time.Time
}

// NewLifecycle starts a lifecycle in DRAFT
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		status: StatusDraft,
		now:    time.Now,
	}
}

// Status returns the current status
func (l *Lifecycle) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Advance moves to the given status if the edge is legal
func (l *Lifecycle) Advance(to Status, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.status.CanTransition(to) {
		return &StateError{From: l.status, To: to}
	}
	l.record(to, reason)
	return nil
}

// AdvanceTo walks the legal edges until the lifecycle reaches to.
// It is a no-op when the lifecycle is already at or past to on the same path.
func (l *Lifecycle) AdvanceTo(to Status, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status == to {
		return nil
	}
	if l.status.Final() || !l.status.Before(to) {
		return &StateError{From: l.status, To: to}
	}
	for l.status != to {
		next := l.nextToward(to)
		if next == "" {
			return &StateError{From: l.status, To: to}
		}
		l.record(next, reason)
	}
	return nil
}

// CompareAndSwap transitions from -> to only if the current status is from
func (l *Lifecycle) CompareAndSwap(from, to Status, reason string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != from || !from.CanTransition(to) {
		return false
	}
	l.record(to, reason)
	return true
}

// Retry records the explicit SENT -> SENT re-entry while awaiting a channel response
func (l *Lifecycle) Retry(reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.status != StatusSent {
		return &StateError{From: l.status, To: StatusSent}
	}
	l.record(StatusSent, reason)
	return nil
}

// History returns a copy of the audit trail
func (l *Lifecycle) History() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Transition, len(l.history))
	copy(out, l.history)
	return out
}

func (l *Lifecycle) nextToward(to Status) Status {
	for _, next := range transitions[l.status] {
		if next == to || (!next.Final() && next.Before(to)) {
			return next
		}
	}
	return ""
}

func (l *Lifecycle) record(to Status, reason string) {
	l.history = append(l.history, Transition{
		From:   l.status,
		To:     to,
		At:     l.now(),
		Reason: reason,
	})
	l.status = to
}
