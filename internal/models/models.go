package models

// a reference-counted state definition, shared between sets
type StateDef struct {
	Label string `json:"label"`
	// number of sets currently containing this state
	Use int `json:"use"`
}

// a named group of boolean states with derived aggregates
type Set struct {
	Label  string          `json:"label"`
	States map[string]bool `json:"states"`

	// all states are false (vacuously true for an empty set)
	None bool `json:"none"`
	// all states are true (vacuously true for an empty set)
	All bool `json:"all"`
	// number of true states
	Active int `json:"active"`
}

// the projection of a set pushed to realtime observers and the settings page
type SetView struct {
	ID     string          `json:"id"`
	Label  string          `json:"label"`
	States map[string]bool `json:"states"`
}

// Timers holds the signed countdowns per set and state.
// Positive values count down to deactivation, negative values count up to
// activation, zero is never stored.
type Timers map[string]map[string]int

type ChangeKind int

const (
	// attach the state to the set without an explicit value
	ChangeAttach ChangeKind = iota
	// invert the current value
	ChangeToggle
	// force an explicit boolean value
	ChangeSet
	// set the state true and schedule automatic deactivation
	ChangeTimed
)

// Change describes a requested transition of a single state within a set.
type Change struct {
	Kind    ChangeKind
	Value   bool
	Timeout int
}

func Attach() Change {
	return Change{Kind: ChangeAttach}
}

func Toggle() Change {
	return Change{Kind: ChangeToggle}
}

func SetTo(value bool) Change {
	return Change{Kind: ChangeSet, Value: value}
}

// ActivateFor requests activation with a countdown of the given number of
// ticks. Non-positive timeouts are treated as a plain deactivation.
func ActivateFor(timeout int) Change {
	return Change{Kind: ChangeTimed, Value: true, Timeout: timeout}
}

// FullState is the snapshot served to the settings page.
type FullState struct {
	States map[string]string `json:"states"`
	Sets   []SetView         `json:"sets"`
	Timers Timers            `json:"timers"`
}

// an autocomplete result for set/state arguments of automation cards
type AutoCompleteResult struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
