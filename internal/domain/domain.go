// Package domain holds the core types shared across kazi subsystems:
// the execution request, the normalized result envelope, and the
// error taxonomy used to classify every failure mode.
package domain

import "fmt"

// ErrorCode classifies a failed execution. Callers distinguish failure
// kinds by this code (and the message), not by HTTP status — tool-level
// failures are returned with HTTP 200.
type ErrorCode string

const (
	// ErrInstallFailed means the package/version could not be installed
	// (not found, registry error, or install timeout).
	ErrInstallFailed ErrorCode = "PACKAGE_INSTALL_FAILED"

	// ErrToolNotFound means the requested export does not exist in the
	// installed package.
	ErrToolNotFound ErrorCode = "TOOL_NOT_FOUND"

	// ErrToolInvalid means the resolved export exposes no invocable
	// execute capability after all factory-resolution attempts.
	ErrToolInvalid ErrorCode = "TOOL_INVALID"

	// ErrToolExecution means the tool's own logic threw or rejected.
	// Also covers execution timeouts.
	ErrToolExecution ErrorCode = "TOOL_EXECUTION_ERROR"

	// ErrInternal covers filesystem or process-spawn failures unrelated
	// to the tool itself. The only code worth alerting on externally.
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// ExecutionRequest is the input to one tool invocation. Constructed once
// from the parsed request body and immutable thereafter.
type ExecutionRequest struct {
	// PackageName identifies the npm package to install (required).
	PackageName string

	// ExportName names the tool export inside the package (required).
	ExportName string

	// Version is the version/tag specifier. Empty = "latest".
	Version string

	// Parameters are passed verbatim to the tool's execute function.
	Parameters map[string]any

	// Environment variables injected into the tool's process before any
	// package code runs. Simulates credentials/config the tool needs.
	Environment map[string]string
}

// ResolvedVersion returns the version specifier, defaulting to "latest".
func (r *ExecutionRequest) ResolvedVersion() string {
	if r.Version != "" {
		return r.Version
	}
	return "latest"
}

// Spec returns the npm install specifier ("pkg@version").
func (r *ExecutionRequest) Spec() string {
	return fmt.Sprintf("%s@%s", r.PackageName, r.ResolvedVersion())
}

// ExecutionResult is the normalized outcome of one invocation.
//
// Invariant: exactly one of (Success=true with Output) or (Success=false
// with ErrorCode/ErrorMessage) holds — never both, never neither.
type ExecutionResult struct {
	Success bool `json:"success"`

	// Output is the tool's return value on success. May be any JSON
	// value, including null, so the key is always serialized.
	Output any `json:"output"`

	ErrorCode    ErrorCode `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`

	// ExecutionTimeMs is the wall-clock duration from request acceptance
	// to normalization. Always populated.
	ExecutionTimeMs int64 `json:"executionTimeMs"`

	// StderrTail carries diagnostic stderr captured from the child
	// process, attached even on success when non-empty.
	StderrTail string `json:"stderrTail,omitempty"`
}

// Failure builds a failed result with the given classification.
func Failure(code ErrorCode, message string) *ExecutionResult {
	return &ExecutionResult{
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// Succeed builds a successful result carrying the tool's output.
func Succeed(output any) *ExecutionResult {
	return &ExecutionResult{
		Success: true,
		Output:  output,
	}
}
