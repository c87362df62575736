package session

import (
	"fmt"

	"github.com/baaaht/chatmesh/pkg/types"
)

// State is the lifecycle state of a Session
type State string

const (
	StateJoining State = "joining"
	StateActive  State = "active"
	StateClosing State = "closing"
	StateClosed  State = "closed"
)

var transitions = map[State][]State{
	StateJoining: {StateActive, StateClosed},
	StateActive:  {StateClosing, StateClosed},
	StateClosing: {StateClosed},
	StateClosed:  {}, // Terminal state
}

// StateMachine validates session state transitions. It is not safe for
// concurrent use; Session guards it.
type StateMachine struct {
	current State
}

// NewStateMachine creates a new state machine in the joining state
func NewStateMachine() *StateMachine {
	return &StateMachine{current: StateJoining}
}

// Current returns the current state
func (sm *StateMachine) Current() State {
	return sm.current
}

// CanTransition checks if a transition to the target state is valid
func (sm *StateMachine) CanTransition(target State) bool {
	for _, allowed := range transitions[sm.current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Transition attempts to transition to the target state
func (sm *StateMachine) Transition(target State) error {
	if sm.current == target {
		return nil
	}
	if !sm.CanTransition(target) {
		return types.NewError(types.ErrCodeFailedPrecondition,
			fmt.Sprintf("invalid state transition: %s -> %s", sm.current, target))
	}
	sm.current = target
	return nil
}

// IsTerminal returns true if the current state is closed
func (sm *StateMachine) IsTerminal() bool {
	return sm.current == StateClosed
}

// String returns the string representation of the current state
func (sm *StateMachine) String() string {
	return string(sm.current)
}
