package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrMissingFields  = errors.New("missing required fields")
	ErrQuotaExceeded  = errors.New("monthly reply quota exceeded")
	ErrInvalidTrigger = errors.New("invalid trigger")

	ErrUnsupportedPlatform = errors.New("unsupported platform")
)
