package trainer

import "pintrainer/internal/domain"

// VerifiedMsg carries the result of an asynchronous verify.
type VerifiedMsg struct {
	Attempt domain.Attempt
	Err     error
}

// EventMsg wraps a bus event that concerns the current session.
type EventMsg struct {
	Event domain.Event
}
