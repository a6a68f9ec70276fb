package domain

import "fmt"

// State is the lifecycle position of a single proxied call.
type State string

const (
	StateIdle             State = "idle"
	StateConfigResolved   State = "config_resolved"
	StateFundsReserved    State = "funds_reserved"
	StateUpstreamInFlight State = "upstream_in_flight"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

var transitions = map[State][]State{
	StateIdle:             {StateConfigResolved, StateFailed},
	StateConfigResolved:   {StateFundsReserved, StateFailed},
	StateFundsReserved:    {StateUpstreamInFlight, StateFailed},
	StateUpstreamInFlight: {StateCompleted, StateFailed},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Tracker enforces the call lifecycle. It is not safe for concurrent use;
// each call owns one.
type Tracker struct {
	state    State
	reserved bool
}

func NewTracker() *Tracker {
	return &Tracker{state: StateIdle}
}

func (t *Tracker) State() State { return t.state }

// Advance moves to next or returns an error for an illegal transition.
func (t *Tracker) Advance(next State) error {
	for _, allowed := range transitions[t.state] {
		if allowed == next {
			t.state = next
			if next == StateFundsReserved {
				t.reserved = true
			}
			return nil
		}
	}
	return fmt.Errorf("illegal proxy state transition %s -> %s", t.state, next)
}

// Reserved reports whether funds were debited for this call, including
// after it failed.
func (t *Tracker) Reserved() bool { return t.reserved }
