package workflow

import "errors"

var (
	// ErrActionNotAccepted is returned before any side effect when the current
	// state does not accept the action.
	ErrActionNotAccepted = errors.New("action not accepted in current state")
	// ErrStaleState is returned when the locked row no longer holds the state
	// the action was executed against.
	ErrStaleState = errors.New("workflow state changed concurrently")
	// ErrIllegalTransition is returned when a commit names a next state the
	// graph does not allow.
	ErrIllegalTransition = errors.New("transition not in state graph")
	ErrUnknownState      = errors.New("unknown workflow state")
	ErrUnknownKind       = errors.New("no machine for workflow kind")
)
