package model

// State is the lifecycle state of the index
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateCreating      State = "creating"
	StateUpdating      State = "updating"
	StateReady         State = "ready"
	StateError         State = "failed"
)

// Busy reports whether an operation is in flight in this state
func (s State) Busy() bool {
	return s == StateLoading || s == StateCreating || s == StateUpdating
}

// Status is the externally visible index status
type Status struct {
	State   State  `json:"state"`
	Message string `json:"message"`
}
