// Unified error handling for the Spectrum AWG host
//
// Copyright (C) 2026  AWG Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigProfile    ErrorCode = "CONFIG_PROFILE"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Hardware errors (register/DMA/connection level)
	ErrHardwareConnect   ErrorCode = "HARDWARE_CONNECT"
	ErrHardwareConfigure ErrorCode = "HARDWARE_CONFIGURE"
	ErrHardwareUpload    ErrorCode = "HARDWARE_UPLOAD"
	ErrHardwareControl   ErrorCode = "HARDWARE_CONTROL"

	// Driver session errors
	ErrSessionState  ErrorCode = "SESSION_STATE"
	ErrShapeMismatch ErrorCode = "SHAPE_MISMATCH"
	ErrLookupSegment ErrorCode = "LOOKUP_SEGMENT"
	ErrLookupOp      ErrorCode = "LOOKUP_OP"

	// Pipeline errors
	ErrPipelineResolve  ErrorCode = "PIPELINE_RESOLVE"
	ErrPipelineQuantize ErrorCode = "PIPELINE_QUANTIZE"
	ErrPipelineCompile  ErrorCode = "PIPELINE_COMPILE"

	// Runtime errors
	ErrRuntime ErrorCode = "RUNTIME"
)

// DriverError is the unified error type for the AWG host
type DriverError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Segment is the sequencer segment involved, if any
	Segment string

	// Channel is the logical channel involved, if any
	Channel string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *DriverError) Error() string {
	if e.Segment != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Segment, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DriverError) Unwrap() error {
	return e.Err
}

// SetSegment records the segment the error relates to
func (e *DriverError) SetSegment(segment string) *DriverError {
	e.Segment = segment
	return e
}

// SetChannel records the logical channel the error relates to
func (e *DriverError) SetChannel(channel string) *DriverError {
	e.Channel = channel
	return e
}

// SetContext adds additional context
func (e *DriverError) SetContext(key string, value interface{}) *DriverError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *DriverError {
	return &DriverError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new DriverError
func New(code ErrorCode, message string) *DriverError {
	return &DriverError{
		Code:    code,
		Message: message,
	}
}

// Configuration errors

// ConfigProfileError creates an error for an unknown calibration profile
func ConfigProfileError(profile string, valid []string) *DriverError {
	return New(ErrConfigProfile, fmt.Sprintf("unknown physical setup %q; valid options: %v", profile, valid))
}

// ConfigOptionError creates an error for an invalid configuration option
func ConfigOptionError(option string, reason string) *DriverError {
	return New(ErrConfigOption, fmt.Sprintf("option %q: %s", option, reason))
}

// ConfigValidationError creates an error for profile validation failure
func ConfigValidationError(profile string, reason string) *DriverError {
	return New(ErrConfigValidation, fmt.Sprintf("profile %q: %s", profile, reason))
}

// Hardware errors

// HardwareConnectError creates an error for a failed card connection
func HardwareConnectError(serial int, err error) *DriverError {
	return Wrap(err, ErrHardwareConnect, fmt.Sprintf("open card SN %d: %v", serial, err))
}

// HardwareConfigureError creates an error for a failed register configuration call
func HardwareConfigureError(step string, err error) *DriverError {
	return Wrap(err, ErrHardwareConfigure, fmt.Sprintf("configure %s: %v", step, err))
}

// HardwareUploadError creates an error for a failed segment/step upload
func HardwareUploadError(what string, err error) *DriverError {
	return Wrap(err, ErrHardwareUpload, fmt.Sprintf("upload %s: %v", what, err))
}

// HardwareControlError creates an error for a failed start/stop/status call
func HardwareControlError(op string, err error) *DriverError {
	return Wrap(err, ErrHardwareControl, fmt.Sprintf("card %s: %v", op, err))
}

// Session errors

// SessionStateError creates an error for an operation attempted in the wrong session state
func SessionStateError(message string) *DriverError {
	return New(ErrSessionState, message)
}

// ShapeMismatchError creates an error for a hotswap operand of the wrong length
func ShapeMismatchError(segment string, got, want int) *DriverError {
	return New(ErrShapeMismatch, fmt.Sprintf("replacement operand has %d entries, segment requires %d", got, want)).
		SetSegment(segment)
}

// SegmentLookupError creates an error for a segment name not present in the program
func SegmentLookupError(segment string) *DriverError {
	return New(ErrLookupSegment, fmt.Sprintf("segment %q not found in cached program", segment)).
		SetSegment(segment)
}

// OpLookupError creates an error for a channel operation not present in a segment
func OpLookupError(segment, channel string) *DriverError {
	return New(ErrLookupOp, fmt.Sprintf("no remap operation for channel %q in segment %q", channel, segment)).
		SetSegment(segment).
		SetChannel(channel)
}

// Pipeline errors

// ResolveError creates an error for a failed intent resolve
func ResolveError(err error) *DriverError {
	return Wrap(err, ErrPipelineResolve, fmt.Sprintf("resolve intent program: %v", err))
}

// QuantizeError creates an error for a failed quantization
func QuantizeError(err error) *DriverError {
	return Wrap(err, ErrPipelineQuantize, fmt.Sprintf("quantize resolved program: %v", err))
}

// CompileError creates an error for a failed sample compilation
func CompileError(segment string, err error) *DriverError {
	e := Wrap(err, ErrPipelineCompile, fmt.Sprintf("compile samples: %v", err))
	if segment != "" {
		e.SetSegment(segment)
	}
	return e
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *DriverError {
	return New(ErrRuntime, message)
}

// RecoverPanic safely recovers from panic and converts to error
func RecoverPanic() *DriverError {
	if r := recover(); r != nil {
		var err error
		switch x := r.(type) {
		case string:
			err = RuntimeError(fmt.Sprintf("panic: %s", x))
		case runtime.Error:
			err = RuntimeError(x.Error())
		case error:
			err = RuntimeError(x.Error())
		default:
			err = RuntimeError(fmt.Sprintf("panic: %v", x))
		}
		return err.(*DriverError)
	}
	return nil
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if drvErr, ok := err.(*DriverError); ok {
		return drvErr.Code == code
	}
	return false
}

// CodeOf returns the error code of an error, or ErrRuntime for foreign errors
func CodeOf(err error) ErrorCode {
	if drvErr, ok := err.(*DriverError); ok {
		return drvErr.Code
	}
	return ErrRuntime
}

// IsConfig checks if error is a configuration error
func IsConfig(err error) bool {
	return Is(err, ErrConfigProfile) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation)
}

// IsHardware checks if error is a hardware error
func IsHardware(err error) bool {
	return Is(err, ErrHardwareConnect) ||
		Is(err, ErrHardwareConfigure) ||
		Is(err, ErrHardwareUpload) ||
		Is(err, ErrHardwareControl)
}

// IsLookup checks if error is a lookup error
func IsLookup(err error) bool {
	return Is(err, ErrLookupSegment) || Is(err, ErrLookupOp)
}
