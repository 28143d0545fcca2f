package domain

import "errors"

var (
	ErrAlreadyRunning       = errors.New("simulation already running")
	ErrInsufficientRoute    = errors.New("route needs at least two waypoints")
	ErrInvalidRoute         = errors.New("route contains invalid coordinates")
	ErrInvalidSample        = errors.New("invalid location sample")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidState         = errors.New("trip is not in progress")
	ErrNotFound             = errors.New("not found")
	ErrUnauthorized         = errors.New("unauthorized")
	ErrSimulationNotRunning = errors.New("simulation not running")
	ErrInvalidQuery         = errors.New("invalid query")
)
