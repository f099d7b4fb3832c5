package base

import "sync/atomic"

// ContainerState is a tagged variant standing in for what would otherwise be
// a class hierarchy of container subtypes. Transitions are monotonic toward
// ReadOnly/Dead; Open never returns once left.
type ContainerState int32

const (
	ContainerFresh ContainerState = iota
	ContainerOpen
	ContainerFull
	ContainerReadOnly
	ContainerDead
)

func (s ContainerState) String() string {
	switch s {
	case ContainerFresh:
		return "Fresh"
	case ContainerOpen:
		return "Open"
	case ContainerFull:
		return "Full"
	case ContainerReadOnly:
		return "ReadOnly"
	case ContainerDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// writable reports whether new blocks may be allocated while in this state.
func (s ContainerState) writable() bool {
	return s == ContainerFresh || s == ContainerOpen
}

// AtomicContainerState is a lock-free holder for ContainerState enforcing the
// monotonic-toward-terminal invariant at the type level: once the state is
// ReadOnly or Dead, further transitions are rejected rather than merely
// discouraged.
type AtomicContainerState struct {
	v atomic.Int32
}

// NewAtomicContainerState returns a holder initialized to Fresh.
func NewAtomicContainerState() *AtomicContainerState {
	a := &AtomicContainerState{}
	a.v.Store(int32(ContainerFresh))
	return a
}

// Load returns the current state.
func (a *AtomicContainerState) Load() ContainerState {
	return ContainerState(a.v.Load())
}

// Writable reports whether the container currently accepts new allocations.
func (a *AtomicContainerState) Writable() bool {
	return a.Load().writable()
}

// TransitionTo attempts to move the state forward. Terminal states
// (ReadOnly, Dead) never transition again; Dead always wins over ReadOnly if
// both are requested concurrently. Returns true if this call performed the
// transition.
func (a *AtomicContainerState) TransitionTo(next ContainerState) bool {
	for {
		cur := ContainerState(a.v.Load())
		if cur == ContainerDead {
			return false
		}
		if cur == ContainerReadOnly && next != ContainerDead {
			return false
		}
		if next <= cur {
			return false
		}
		if a.v.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}
