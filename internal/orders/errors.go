package orders

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrOutOfStock        = errors.New("out of stock")
	ErrForbidden         = errors.New("forbidden")
	ErrInUse             = errors.New("in use")
)

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
