package contract

import "errors"

var (
	// ErrComponentCall covers every way a remote component exchange can fail:
	// transport errors, timeouts, non-2xx statuses and undecodable bodies.
	ErrComponentCall = errors.New("component call failed")
	ErrValidation    = errors.New("validation failed")
	ErrUnknownAction = errors.New("unknown action")
	ErrDomainInvalid = errors.New("domain is invalid")
)
