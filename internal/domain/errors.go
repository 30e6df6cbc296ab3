package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrInsufficientFunds = errors.New("insufficient balance or allowance")
)
