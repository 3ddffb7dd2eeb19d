package lifecycle

import "fmt"

// Generation is a typed cache version tag (e.g. "v42"). Partition names
// derive from it, so version comparisons never happen on raw partition
// strings.
type Generation string

// StaticPartition returns the name of the generation's static asset
// partition.
func (g Generation) StaticPartition() string {
	return string(g) + "-static"
}

// DataPartition returns the name of the generation's reserved data partition.
func (g Generation) DataPartition() string {
	return string(g) + "-data"
}

// State is the worker lifecycle state.
type State int

const (
	// StateIdle is the initial state: nothing installed, nothing active.
	StateIdle State = iota
	// StateInstalling means a generation is being seeded.
	StateInstalling
	// StateWaitingActivate means a seeded generation awaits promotion.
	StateWaitingActivate
	// StateActive means a generation is serving.
	StateActive
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInstalling:
		return "installing"
	case StateWaitingActivate:
		return "waiting-activate"
	case StateActive:
		return "active"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
