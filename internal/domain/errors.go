package domain

import "errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrDuplicateEvent       = errors.New("duplicate event")
	ErrUnknownBooking       = errors.New("unknown booking")
	ErrUpstreamTimeout      = errors.New("upstream timeout")
	ErrUpstreamUnavailable  = errors.New("upstream unavailable")
	ErrNoAvailability       = errors.New("no availability")
)
