package board

import "errors"

var (
	// ErrNotFound reports a missing user, content item or board entry.
	ErrNotFound = errors.New("not found")
	// ErrValidation rejects malformed input before any write happens.
	ErrValidation = errors.New("validation failed")
	// ErrTransaction means the store could not commit; nothing was applied.
	ErrTransaction = errors.New("transaction failed")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
