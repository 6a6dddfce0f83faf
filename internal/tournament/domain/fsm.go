package domain

import "fmt"

// Event drives a tournament state transition.
type Event string

const (
	EventTest  Event = "test"
	EventOpen  Event = "open"
	EventClose Event = "close"
)

var transitions = map[Event]map[State]State{
	EventTest: {
		StateSetup: StateTesting,
	},
	EventOpen: {
		StateTesting: StateActive,
		StateClosed:  StateActive,
	},
	EventClose: {
		StateActive: StateClosed,
	},
}

type InvalidTransitionError struct {
	From  State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid_transition: cannot %s from %s", e.Event, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// Transition returns the state reached by applying event to from.
func Transition(from State, event Event) (State, error) {
	targets, ok := transitions[event]
	if !ok {
		return from, &InvalidTransitionError{From: from, Event: event}
	}
	to, ok := targets[from]
	if !ok {
		return from, &InvalidTransitionError{From: from, Event: event}
	}
	return to, nil
}
