// Package errcode defines the stable, comparable error taxonomy shared by
// every component. Components return a Code (or wrap one in an E) instead of
// ad-hoc error strings, so the HTTP and WebSocket surfaces can map failures
// to a status without inspecting messages.
package errcode

import "net/http"

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK                Code = "ok"
	Busy              Code = "busy"
	Unsupported       Code = "unsupported"
	InvalidParams     Code = "invalid_params"
	InvalidPayload    Code = "invalid_payload"
	UnknownCapability Code = "unknown_capability"
	HALNotReady       Code = "hal_not_ready"
	InvalidTopic      Code = "invalid_topic"

	UnknownBus Code = "unknown_bus"
	BusInUse   Code = "bus_in_use"
	UnknownPin Code = "unknown_pin"
	PinInUse   Code = "pin_in_use"
	Timeout    Code = "timeout"

	// Validation covers config or request payloads that fail schema checks.
	Validation Code = "validation"
	// NotFound covers unknown relay/sensor ids and unknown config sections.
	NotFound Code = "not_found"
	// Unauthorized means no (or an invalid) credential was presented.
	Unauthorized Code = "unauthorized"
	// Forbidden means a valid credential lacked the required role.
	Forbidden Code = "forbidden"
	// HardwareUnavailable means a GPIO line or I2C bus could not be reached.
	HardwareUnavailable Code = "hardware_unavailable"
	// BusError covers a failed I2C/GPIO transaction distinct from unavailability.
	BusError Code = "bus_error"
	// BackendUnavailable means the external time-series store or cache failed;
	// it must never block the hardware control path.
	BackendUnavailable Code = "backend_unavailable"
	// Conflict is reserved for future use; not currently returned anywhere.
	Conflict Code = "conflict"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Wrap builds an E, recording the operation that failed.
func Wrap(op string, c Code, err error) *E {
	return &E{C: c, Op: op, Err: err}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// MapDriverErr maps low-level driver errors to a Code.
// Extend the heuristics per platform/driver.
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	return Error
}

// HTTPStatus maps a Code to the status the HTTP surface returns for it, per
// the error handling design's propagation policy: validation/not-found/auth
// failures are 4xx, everything hardware- or backend-related is 5xx.
func HTTPStatus(c Code) int {
	switch c {
	case OK:
		return http.StatusOK
	case Validation, InvalidParams, InvalidPayload, InvalidTopic:
		return http.StatusBadRequest
	case NotFound, UnknownCapability, UnknownBus, UnknownPin:
		return http.StatusNotFound
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Conflict, BusInUse, PinInUse:
		return http.StatusConflict
	case Timeout:
		return http.StatusGatewayTimeout
	case HardwareUnavailable, BusError, HALNotReady, Unsupported, BackendUnavailable, Busy, Error:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
