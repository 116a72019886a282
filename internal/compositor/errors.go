package compositor

import "fmt"

// State is the compositor lifecycle stage.
type State int

const (
	Uninitialized State = iota
	AveragesLoaded
	Ready
	Rendering
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case AveragesLoaded:
		return "averages-loaded"
	case Ready:
		return "ready"
	case Rendering:
		return "rendering"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// InvalidStateError is returned when an operation is called out of order.
// The state machine does not advance.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("compositor: %s not allowed in state %s", e.Op, e.State)
}
