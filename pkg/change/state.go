// Package change applies a VLAN assignment to one access port as a
// transaction: capture, push, verify by read-back, save, and roll back to
// the captured state on failure.
package change

import "fmt"

// State is the engine's position in a change.
//
//	Idle -> Connecting -> Configuring -> Verifying -> Saved
//	                 \________\_____________\______-> Failed
type State int

const (
	Idle State = iota
	Connecting
	Configuring
	Verifying
	Saved
	Failed
)

var stateNames = [...]string{"idle", "connecting", "configuring", "verifying", "saved", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown change state %q", b)
}

// Terminal reports whether the change has finished.
func (s State) Terminal() bool { return s == Saved || s == Failed }
