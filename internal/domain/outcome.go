package domain

import "fmt"

// OutcomeState is the per-identifier delivery state.
type OutcomeState string

const (
	OutcomePending     OutcomeState = "PENDING"
	OutcomeResolved    OutcomeState = "RESOLVED"
	OutcomeRendered    OutcomeState = "RENDERED"
	OutcomeDispatching OutcomeState = "DISPATCHING"
	OutcomeSucceeded   OutcomeState = "SUCCEEDED"
	OutcomeFailed      OutcomeState = "FAILED"
)

func (s OutcomeState) String() string { return string(s) }

func (s OutcomeState) IsTerminal() bool {
	return s == OutcomeSucceeded || s == OutcomeFailed
}

var outcomeTransitions = map[OutcomeState]OutcomeState{
	OutcomePending:     OutcomeResolved,
	OutcomeResolved:    OutcomeRendered,
	OutcomeRendered:    OutcomeDispatching,
	OutcomeDispatching: OutcomeSucceeded,
}

// Outcome tracks one identifier through Pending -> Resolved -> Rendered ->
// Dispatching -> {Succeeded, Failed}. Any non-terminal state may fail.
type Outcome struct {
	Identifier string
	State      OutcomeState
	Reason     string
	Recipients int
	Sent       int
}

func NewOutcome(identifier string) *Outcome {
	return &Outcome{Identifier: identifier, State: OutcomePending}
}

func (o *Outcome) Transition(to OutcomeState) error {
	if o.State.IsTerminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, o.State)
	}
	if to == OutcomeFailed || outcomeTransitions[o.State] == to {
		o.State = to
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.State, to)
}

// Fail moves the outcome to Failed with a reason. Failing a terminal outcome
// is a no-op so the first recorded cause wins.
func (o *Outcome) Fail(reason string) {
	if o.State.IsTerminal() {
		return
	}
	o.State = OutcomeFailed
	o.Reason = reason
}

func (o *Outcome) Failed() bool {
	return o.State == OutcomeFailed
}
