package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrBadRequest indicates input the directory cannot act on.
	ErrBadRequest = errors.New("bad request")
	// ErrDuplicate indicates a uniqueness rule would be broken.
	ErrDuplicate = errors.New("duplicate data")
	// ErrStatusConditionNotMet is reserved for state transition checks.
	ErrStatusConditionNotMet = errors.New("status condition not met")
)
