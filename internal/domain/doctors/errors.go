package doctors

import "errors"

var (
	ErrNotFound      = errors.New("doctor not found")
	ErrNotApproved   = errors.New("doctor is not approved")
	ErrBalanceTooLow = errors.New("pending balance too low")
	ErrAlreadyExists = errors.New("doctor already registered")
	ErrInvalidStatus = errors.New("invalid approval status")
)
