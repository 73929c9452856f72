package engine

import "fmt"

// Status is the replication status shown to users.
type Status string

const (
	// StatusDisabled means sync is configured as local-only.
	StatusDisabled Status = "disabled"
	// StatusConnecting means a session is ensuring the remote database exists.
	StatusConnecting Status = "connecting"
	// StatusSyncing means a push/pull cycle is in flight.
	StatusSyncing Status = "syncing"
	// StatusPaused is the idle state between cycles, and the state after Stop.
	StatusPaused Status = "paused"
	// StatusError means the last connect or cycle failed.
	StatusError Status = "error"
)

// State is a snapshot of the engine's replication state.
type State struct {
	Status     Status `json:"status"`
	LastSynced *int64 `json:"lastSynced,omitempty"`
	Error      string `json:"error,omitempty"`
	SyncMode   string `json:"syncMode,omitempty"`
}

// InitialState is the state of a freshly constructed engine.
func InitialState() State {
	return State{Status: StatusDisabled, SyncMode: "local"}
}

func (s State) clone() State {
	if s.LastSynced != nil {
		v := *s.LastSynced
		s.LastSynced = &v
	}
	return s
}

// EventKind identifies a state machine input.
type EventKind int

const (
	// EventDisable: local-only mode selected.
	EventDisable EventKind = iota + 1
	// EventConnect: a session starts connecting.
	EventConnect
	// EventConnectFailed: the remote database could not be ensured.
	EventConnectFailed
	// EventCycleStart: a push/pull cycle begins.
	EventCycleStart
	// EventCycleSucceeded: push and pull both completed.
	EventCycleSucceeded
	// EventCycleFailed: push or pull failed.
	EventCycleFailed
	// EventStop: the session was stopped.
	EventStop
)

var eventNames = map[EventKind]string{
	EventDisable:        "disable",
	EventConnect:        "connect",
	EventConnectFailed:  "connect_failed",
	EventCycleStart:     "cycle_start",
	EventCycleSucceeded: "cycle_succeeded",
	EventCycleFailed:    "cycle_failed",
	EventStop:           "stop",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is an input to Transition.
type Event struct {
	Kind EventKind

	// Mode is the configured sync mode (Disable, Connect).
	Mode string

	// At is the completion time in milliseconds (CycleSucceeded).
	At int64

	// Err is the failure message (ConnectFailed, CycleFailed).
	Err string
}

// allowedFrom lists, per event, the statuses it may fire from. A nil entry
// means any status.
var allowedFrom = map[EventKind][]Status{
	EventDisable:        nil,
	EventConnect:        {StatusDisabled, StatusPaused, StatusError},
	EventConnectFailed:  {StatusConnecting},
	EventCycleStart:     {StatusConnecting, StatusPaused, StatusError},
	EventCycleSucceeded: {StatusSyncing},
	EventCycleFailed:    {StatusSyncing},
	EventStop:           nil,
}

// TransitionError reports an event that is not valid in the current status.
type TransitionError struct {
	From  Status
	Event EventKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s from %s", e.Event, e.From)
}

// Transition computes the state that follows s on ev. It is a pure function;
// the engine commits its result under the state lock.
func Transition(s State, ev Event) (State, error) {
	from, known := allowedFrom[ev.Kind]
	if !known {
		return s, &TransitionError{From: s.Status, Event: ev.Kind}
	}
	if from != nil && !containsStatus(from, s.Status) {
		return s, &TransitionError{From: s.Status, Event: ev.Kind}
	}

	next := s.clone()
	switch ev.Kind {
	case EventDisable:
		next = State{Status: StatusDisabled, SyncMode: ev.Mode}
	case EventConnect:
		next.Status = StatusConnecting
		next.Error = ""
		next.SyncMode = ev.Mode
	case EventConnectFailed:
		next.Status = StatusError
		next.Error = ev.Err
	case EventCycleStart:
		next.Status = StatusSyncing
		next.Error = ""
	case EventCycleSucceeded:
		at := ev.At
		next.Status = StatusPaused
		next.LastSynced = &at
		next.Error = ""
	case EventCycleFailed:
		next.Status = StatusError
		next.Error = ev.Err
	case EventStop:
		next.Status = StatusPaused
		next.Error = ""
	}
	return next, nil
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
