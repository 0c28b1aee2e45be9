package service

import "errors"

var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidStatus       = errors.New("invalid status value")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrConcurrencyConflict = errors.New("concurrent status change detected")
)
