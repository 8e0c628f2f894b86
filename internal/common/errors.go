package common

import "errors"

var (

	// repository specific errors
	ErrorNotFound = errors.New("not found")

	// service specific errors
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	ErrInvalidToken = errors.New("invalid token")

	// relay protocol errors
	ErrorRateLimited    = errors.New("rate limited")
	ErrorBadRequest     = errors.New("bad request")
	ErrorDeviceLimit    = errors.New("device limit exceeded")
	ErrorChannelClosed  = errors.New("provisioning channel closed")
	ErrorChannelExpired = errors.New("provisioning channel expired")
)
