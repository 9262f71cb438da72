// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"fmt"
	"strings"
)

// ServerErrorCode represents a category of MCP server error.
type ServerErrorCode string

const (
	// ErrorCodeNotFound indicates a server was not found.
	ErrorCodeNotFound ServerErrorCode = "NOT_FOUND"
	// ErrorCodeCommandNotFound indicates an executable was not resolvable.
	ErrorCodeCommandNotFound ServerErrorCode = "COMMAND_NOT_FOUND"
	// ErrorCodeConnectFailed indicates a server failed to connect.
	ErrorCodeConnectFailed ServerErrorCode = "CONNECT_FAILED"
	// ErrorCodeAuthRequired indicates the server rejected the connection
	// with a 401 and needs a manual authentication pass.
	ErrorCodeAuthRequired ServerErrorCode = "AUTH_REQUIRED"
	// ErrorCodeConnectionClosed indicates the server connection closed.
	ErrorCodeConnectionClosed ServerErrorCode = "CONNECTION_CLOSED"
	// ErrorCodeValidation indicates a validation error.
	ErrorCodeValidation ServerErrorCode = "VALIDATION"
	// ErrorCodeConfig indicates a configuration error.
	ErrorCodeConfig ServerErrorCode = "CONFIG"
	// ErrorCodeTimeout indicates a timeout occurred.
	ErrorCodeTimeout ServerErrorCode = "TIMEOUT"
	// ErrorCodeOAuth indicates an OAuth flow failure.
	ErrorCodeOAuth ServerErrorCode = "OAUTH"
	// ErrorCodeInternal indicates an internal error.
	ErrorCodeInternal ServerErrorCode = "INTERNAL"
)

// ServerError is an error type that includes suggestions for resolution.
type ServerError struct {
	// Code is the error category.
	Code ServerErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(e.Message)
	sb.WriteString("\n")

	if e.Detail != "" {
		sb.WriteString("  -> ")
		sb.WriteString(e.Detail)
		sb.WriteString("\n")
	}

	if len(e.Suggestions) > 0 {
		sb.WriteString("\n  Suggestions:\n")
		for _, s := range e.Suggestions {
			sb.WriteString("  - ")
			sb.WriteString(s)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Cause
}

// IsUserVisible implements pkg/errors.UserVisibleError.
// Server errors are always user-visible.
func (e *ServerError) IsUserVisible() bool {
	return true
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *ServerError) UserMessage() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *ServerError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *ServerError) ErrorType() string {
	return strings.ToLower(string(e.Code))
}

// IsRetryable implements pkg/errors.ErrorClassifier. Only transient
// connection failures are worth retrying.
func (e *ServerError) IsRetryable() bool {
	switch e.Code {
	case ErrorCodeTimeout, ErrorCodeConnectionClosed:
		return true
	default:
		return false
	}
}

// NewServerError creates a new ServerError.
func NewServerError(code ServerErrorCode, message string) *ServerError {
	return &ServerError{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *ServerError) WithDetail(detail string) *ServerError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *ServerError) WithSuggestions(suggestions ...string) *ServerError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *ServerError) WithCause(cause error) *ServerError {
	e.Cause = cause
	return e
}

// ErrServerNotFound creates an error for when a server is not found.
func ErrServerNotFound(name string) *ServerError {
	return NewServerError(ErrorCodeNotFound, fmt.Sprintf("MCP server '%s' not found", name)).
		WithSuggestions(
			"Check the server name against the configured server list",
			"Add the server in settings before using its tools",
		)
}

// ErrCommandNotFound creates an error for an unresolvable executable.
func ErrCommandNotFound(command string) *ServerError {
	suggestions := []string{
		"Verify the command is installed and in your PATH",
		fmt.Sprintf("Use an absolute path to %s in the server configuration", command),
	}

	switch command {
	case "npx", "node":
		suggestions = append(suggestions, "Install Node.js: https://nodejs.org/")
	case "python", "python3":
		suggestions = append(suggestions, "Install Python: https://python.org/")
	case "uvx", "uv":
		suggestions = append(suggestions, "Install uv for Python package management")
	}

	return NewServerError(ErrorCodeCommandNotFound, fmt.Sprintf("Command '%s' not found", command)).
		WithDetail(fmt.Sprintf("Command '%s' was not found in PATH or common install directories", command)).
		WithSuggestions(suggestions...)
}

// ErrConnectFailed creates an error for a failed server connection.
func ErrConnectFailed(name string, cause error) *ServerError {
	return NewServerError(ErrorCodeConnectFailed, fmt.Sprintf("Failed to connect to MCP server '%s'", name)).
		WithDetail(cause.Error()).
		WithCause(cause).
		WithSuggestions(
			"Check the server logs for startup errors",
			"Verify the command, URL, and arguments are correct",
			"Ensure required environment variables are set",
		)
}

// ErrAuthRequired creates an error for a server that rejected the
// connection with a 401 during unattended startup.
func ErrAuthRequired(name string) *ServerError {
	return NewServerError(ErrorCodeAuthRequired, fmt.Sprintf("MCP server '%s' requires manual authentication", name)).
		WithDetail("The server rejected the connection with HTTP 401").
		WithSuggestions(
			"Open server settings and restart the server to trigger the sign-in flow",
		)
}

// ErrConnectionClosed creates an error for a closed server connection.
func ErrConnectionClosed(name string) *ServerError {
	return NewServerError(ErrorCodeConnectionClosed, fmt.Sprintf("Connection to MCP server '%s' closed", name)).
		WithSuggestions(
			"Restart the server from settings",
			"Check the server logs for crash details",
		)
}

// ErrInvalidServerName creates an error for an invalid server name.
func ErrInvalidServerName(name string) *ServerError {
	return NewServerError(ErrorCodeValidation, fmt.Sprintf("Invalid server name '%s'", name)).
		WithDetail("Names must start with a letter, contain only letters/numbers/hyphens/underscores, and be at most 64 characters").
		WithSuggestions(
			"Use only letters, numbers, hyphens (-), and underscores (_)",
			"Start the name with a letter",
		)
}

// ErrInvalidConfig creates an error for invalid server configuration.
func ErrInvalidConfig(detail string) *ServerError {
	return NewServerError(ErrorCodeConfig, "Invalid MCP server configuration").
		WithDetail(detail).
		WithSuggestions(
			"Check the server entry in settings",
			"Ensure all required fields are provided",
		)
}

// ErrConnectTimeout creates an error for a connect timeout.
func ErrConnectTimeout(name string, seconds int) *ServerError {
	return NewServerError(ErrorCodeTimeout, fmt.Sprintf("Connecting to MCP server '%s' timed out after %ds", name, seconds)).
		WithSuggestions(
			"Check if the server is responding",
			"Try increasing the server's timeout value",
		)
}

// WrapServerError wraps a standard error in a ServerError if it isn't
// one already.
func WrapServerError(err error, code ServerErrorCode, message string) *ServerError {
	if serverErr, ok := err.(*ServerError); ok {
		return serverErr
	}
	return NewServerError(code, message).WithDetail(err.Error()).WithCause(err)
}
