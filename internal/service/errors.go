package service

import "errors"

// Failure taxonomy shared by all engine operations. Callers branch with
// errors.Is; conflict is a normal outcome of racing actors, not a fault.
var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation")
)
