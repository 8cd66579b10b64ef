package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure by the phase that owns it.
type ErrorClass string

const (
	// ErrorClassBuild is a provisioning failure. The build result is
	// non-zero and nothing is retried.
	ErrorClassBuild ErrorClass = "build"

	// ErrorClassConfig is a configuration failure: an invalid descriptor,
	// a denied policy or a secret that was not supplied.
	ErrorClassConfig ErrorClass = "config"

	// ErrorClassRuntime is a failure to start or supervise the launched
	// process. What the process itself does is not classified.
	ErrorClassRuntime ErrorClass = "runtime"
)

// Error represents a classified error with context.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Step is the provisioning step that failed, if any.
	Step string `json:"step,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Class)
	if e.Code != "" {
		prefix = fmt.Sprintf("[%s/%s]", e.Class, e.Code)
	}
	msg := e.Message
	if e.Step != "" {
		msg = fmt.Sprintf("%s (step=%s)", msg, e.Step)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s", prefix, msg, e.Err.Error())
	}
	return fmt.Sprintf("%s %s", prefix, msg)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same class and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewBuildError creates a new build error.
func NewBuildError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassBuild,
		Message: message,
		Err:     err,
	}
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassConfig,
		Message: message,
		Err:     err,
	}
}

// NewRuntimeError creates a new runtime error.
func NewRuntimeError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassRuntime,
		Message: message,
		Err:     err,
	}
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithStep adds step context to an error.
func (e *Error) WithStep(step string) *Error {
	e.Step = step
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ClassOf returns the class of the first *Error in err's chain.
func ClassOf(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsBuild returns true if the error is classified as a build failure.
func IsBuild(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ErrorClassBuild
}

// IsConfig returns true if the error is classified as a configuration failure.
func IsConfig(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ErrorClassConfig
}

// IsRuntime returns true if the error is classified as a runtime failure.
func IsRuntime(err error) bool {
	class, ok := ClassOf(err)
	return ok && class == ErrorClassRuntime
}

// Exit codes used by the launcher itself. A launched process's own exit
// code is passed through unchanged.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 78 // EX_CONFIG from sysexits.h
)

// ExitCode maps an error to the launcher's exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if IsConfig(err) {
		return ExitConfig
	}
	return ExitFailure
}

// Error codes.
const (
	ErrCodeValidation             = "VALIDATION_ERROR"
	ErrCodePolicyDenied           = "POLICY_DENIED"
	ErrCodeManifestMissing        = "MANIFEST_MISSING"
	ErrCodeManifestInvalid        = "MANIFEST_INVALID"
	ErrCodeInstallFailed          = "INSTALL_FAILED"
	ErrCodeInstallTimeout         = "INSTALL_TIMEOUT"
	ErrCodeStageSourceMissing     = "STAGE_SOURCE_MISSING"
	ErrCodeStageFailed            = "STAGE_FAILED"
	ErrCodeRuntimeNotFound        = "RUNTIME_NOT_FOUND"
	ErrCodeRuntimeVersionMismatch = "RUNTIME_VERSION_MISMATCH"
	ErrCodeTemplate               = "TEMPLATE_ERROR"
	ErrCodeSecretMissing          = "SECRET_MISSING"
	ErrCodeSecretPlaceholder      = "SECRET_PLACEHOLDER"
	ErrCodeEnvFile                = "ENV_FILE_INVALID"
	ErrCodeBuildNotFound          = "BUILD_NOT_FOUND"
	ErrCodeCancelled              = "CANCELLED"
	ErrCodeLaunchFailed           = "LAUNCH_FAILED"
	ErrCodeInternal               = "INTERNAL_ERROR"
)
