package workflow

// State is one variant of a graph's closed state set, carrying the data that
// state needs. Variants embed Sealed.
type State interface {
	Name() StateTag
	// DefaultAction is the action the state expects next, or nil when it waits
	// for an external event.
	DefaultAction() Action
	sealed()
}

// Sealed is embedded by state variants so State cannot be satisfied by
// arbitrary types.
type Sealed struct{}

func (Sealed) sealed() {}
