package domain

import "errors"

var (
	// ErrInvalidGeometry rejects polygons with fewer than three distinct
	// vertices per ring and circles without a positive radius.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrCorridorTooShort rejects corridors with fewer than two waypoints
	// before they enter the tick loop.
	ErrCorridorTooShort = errors.New("corridor needs at least two waypoints")

	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTransportUnavailable = errors.New("transport unavailable")
)
