package fsm

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrEventRejected is the error returned when the state machine
	// cannot process an event in the state that it is in.
	ErrEventRejected = errors.New("event rejected")

	// ErrWaitForStateTimedOut is returned when a waiter gives up before
	// the expected state was reached.
	ErrWaitForStateTimedOut = errors.New(
		"timed out while waiting for state",
	)

	// ErrStateMachineError is returned by waiters that abort early when
	// the machine processed an OnError event.
	ErrStateMachineError = errors.New("state machine entered error path")

	// ErrUnexpectedState is returned by waiters that abort once the
	// machine entered a state they were told to give up on.
	ErrUnexpectedState = errors.New("state machine entered unexpected " +
		"state")
)

const (
	// Default represents the default state of the system.
	Default StateType = ""

	// OnError can be used when an operation fails with an error that
	// should move the machine to its failure state.
	OnError EventType = "OnError"
)

// StateType represents an extensible state type in the state machine.
type StateType string

// EventType represents an extensible event type in the state machine.
type EventType string

// Transitions represents a mapping of events and states.
type Transitions map[EventType]StateType

// State binds a state with the set of events it can handle.
type State struct {
	// Transitions is a mapping of events and states. A state without
	// transitions is final.
	Transitions Transitions
}

// IsFinal returns true if no event can move the machine out of the state.
func (s State) IsFinal() bool {
	return len(s.Transitions) == 0
}

// States represents a mapping of states and their implementations.
type States map[StateType]State

// Notification represents a notification sent to the state machine's
// observers.
type Notification struct {
	// PreviousState is the state the state machine was in before the event
	// was processed.
	PreviousState StateType

	// NextState is the state the state machine is in after the event was
	// processed.
	NextState StateType

	// Event is the event that was processed.
	Event EventType
}

// Observer is an interface that can be implemented by types that want to
// observe the state machine.
type Observer interface {
	Notify(Notification)
}

// CommitFunc is called with the source and target state of a transition
// before the machine moves. If it returns an error the machine stays where it
// is and the error is handed back to the sender of the event. It's the place
// to re-check guards and persist the transition.
type CommitFunc func(from, to StateType, event EventType) error

// StateMachine represents the state machine.
type StateMachine struct {
	// States is the transition table of the machine.
	States States

	// mutex ensures that only one exclusive section runs on the state
	// machine at any given time.
	mutex sync.Mutex

	// previous represents the previous state.
	previous StateType

	// current represents the current state.
	current StateType

	// observers is a slice of observers that are notified when the state
	// machine transitions between states.
	observers []Observer

	// observerMutex ensures that observers are only added or removed
	// safely.
	observerMutex sync.Mutex
}

// NewStateMachine creates a new state machine in the default state.
func NewStateMachine(states States) *StateMachine {
	return NewStateMachineWithState(states, Default)
}

// NewStateMachineWithState creates a new state machine resumed at the given
// state, e.g. after loading it from disk.
func NewStateMachineWithState(states States,
	current StateType) *StateMachine {

	return &StateMachine{
		States:    states,
		current:   current,
		observers: make([]Observer, 0),
	}
}

// Txn is handed to functions running inside Do. It gives read access to the
// machine's state and fires events without re-acquiring the machine's mutex.
type Txn struct {
	sm *StateMachine
}

// Current returns the current state of the machine.
func (t *Txn) Current() StateType {
	return t.sm.current
}

// Fire processes an event within the exclusive section.
func (t *Txn) Fire(event EventType, commit CommitFunc) error {
	return t.sm.fire(event, commit)
}

// Do runs fn while holding the machine's mutex, so that fn is mutually
// exclusive with every other Do or SendEvent call on the same machine. fn must
// not block on external I/O.
func (s *StateMachine) Do(fn func(txn *Txn) error) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return fn(&Txn{sm: s})
}

// SendEvent sends an event to the state machine. It returns an error if the
// event cannot be processed in the current state or if commit fails.
func (s *StateMachine) SendEvent(event EventType, commit CommitFunc) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.fire(event, commit)
}

// Current returns the current state of the machine.
func (s *StateMachine) Current() StateType {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.current
}

// NextState returns the state the event would move the machine to, without
// moving it.
func (s *StateMachine) NextState(from StateType,
	event EventType) (StateType, error) {

	if s.States == nil {
		return Default, NewErrConfigError("state machine config is nil")
	}

	state, ok := s.States[from]
	if !ok {
		return Default, NewErrConfigError("current state not found")
	}

	next, ok := state.Transitions[event]
	if !ok {
		return Default, fmt.Errorf("%w: %v in state %v",
			ErrEventRejected, event, from)
	}

	// Identify the state definition for the next state.
	if _, ok := s.States[next]; !ok {
		return Default, NewErrConfigError("next state not found")
	}

	return next, nil
}

// fire moves the machine along the transition for event. The caller must
// hold the mutex.
func (s *StateMachine) fire(event EventType, commit CommitFunc) error {
	next, err := s.NextState(s.current, event)
	if err != nil {
		return err
	}

	if commit != nil {
		if err := commit(s.current, next, event); err != nil {
			return err
		}
	}

	log.Tracef("Transition %v -(%v)-> %v", s.current, event, next)

	s.previous = s.current
	s.current = next

	// Notify the state machine's observers.
	s.observerMutex.Lock()
	for _, observer := range s.observers {
		observer.Notify(Notification{
			PreviousState: s.previous,
			NextState:     s.current,
			Event:         event,
		})
	}
	s.observerMutex.Unlock()

	return nil
}

// RegisterObserver registers an observer with the state machine.
func (s *StateMachine) RegisterObserver(observer Observer) {
	s.observerMutex.Lock()
	defer s.observerMutex.Unlock()

	if observer != nil {
		s.observers = append(s.observers, observer)
	}
}

// RemoveObserver removes an observer from the state machine. It returns true
// if the observer was removed, false otherwise.
func (s *StateMachine) RemoveObserver(observer Observer) bool {
	s.observerMutex.Lock()
	defer s.observerMutex.Unlock()

	for i, o := range s.observers {
		if o == observer {
			s.observers = append(
				s.observers[:i], s.observers[i+1:]...,
			)
			return true
		}
	}

	return false
}

// ErrConfigError is an error returned when the state machine is misconfigured.
type ErrConfigError error

// NewErrConfigError creates a new ErrConfigError.
func NewErrConfigError(msg string) ErrConfigError {
	return (ErrConfigError)(fmt.Errorf("config error: %s", msg))
}

// NewErrWaitingForStateTimeout creates a new error returned when the state
// machine times out while waiting for a state.
func NewErrWaitingForStateTimeout(expected, actual StateType) error {
	return fmt.Errorf("%w: expected %s, actual: %s",
		ErrWaitForStateTimedOut, expected, actual)
}
