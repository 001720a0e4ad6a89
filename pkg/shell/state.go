package shell

type State int32

const (
	Uninitialized State = iota
	Initializing
	Ready
	Busy
	Closed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	case Busy:
		return "busy"
	case Closed:
		return "closed"
	}
	return "unknown"
}
