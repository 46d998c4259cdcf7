package manager

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of one supervised server.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Crashed
)

// StateNames lists every state name, in declaration order.
var StateNames = []string{"stopped", "starting", "running", "stopping", "crashed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(StateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return StateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(b)))
	for i, n := range StateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(b))
}

// Active reports whether a process handle may exist in this state.
func (s State) Active() bool {
	return s == Starting || s == Running || s == Stopping
}
