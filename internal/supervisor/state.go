// ABOUTME: Server lifecycle states, status snapshots and state-change events.
// ABOUTME: State values marshal as their names for JSON and YAML output.

package supervisor

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a provider process.
type State int

const (
	NotStarted State = iota
	Starting
	Running
	Dead
)

var stateNames = map[State]string{
	NotStarted: "not_started",
	Starting:   "starting",
	Running:    "running",
	Dead:       "dead",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of one server.
type Status struct {
	Name        string    `json:"name"`
	Command     string    `json:"command"`
	State       State     `json:"state"`
	Initialized bool      `json:"initialized"`
	PID         int       `json:"pid,omitempty"`
	Generation  uint64    `json:"generation"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	LastError   string    `json:"last_error,omitempty"`
}

// Event reports a state transition.
type Event struct {
	Server     string
	From       State
	To         State
	PID        int
	Generation uint64
	Err        error
	At         time.Time
}
