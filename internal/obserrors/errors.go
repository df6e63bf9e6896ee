// Package obserrors defines the agent fleet's unified error taxonomy.
//
// Error kinds mirror the ones enumerated for the error-handling design:
// transient network failures, HTTP responses retried per policy,
// logical API errors, invalid configuration, unauthorized access to the
// observability service, and timeouts. Exactly one kind — Unrecoverable
// — is ever allowed to terminate the process.
package obserrors

import (
	"errors"
	"fmt"
)

// Kind identifies a class of agent error.
type Kind string

const (
	KindTransientNetwork Kind = "transient_network"
	KindRetriableHTTP    Kind = "retriable_http"
	KindAPILogical       Kind = "api_logical"
	KindConfigInvalid    Kind = "config_invalid"
	KindUnauthorized     Kind = "unauthorized"
	KindTimeout          Kind = "timeout"
)

// AgentError is a structured, wrapped error carrying a Kind.
type AgentError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Err }

func New(kind Kind, message string) *AgentError {
	return &AgentError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *AgentError {
	return &AgentError{Kind: kind, Message: message, Err: err}
}

func TransientNetwork(err error) *AgentError {
	return Wrap(KindTransientNetwork, "transport-level request failure", err)
}

func RetriableHTTP(status int, err error) *AgentError {
	return Wrap(KindRetriableHTTP, fmt.Sprintf("retriable HTTP status %d", status), err)
}

func APILogical(message string) *AgentError {
	return New(KindAPILogical, message)
}

func ConfigInvalid(field, reason string) *AgentError {
	return New(KindConfigInvalid, fmt.Sprintf("%s: %s", field, reason))
}

func Unauthorized(message string) *AgentError {
	return New(KindUnauthorized, message)
}

func Timeout(operation string) *AgentError {
	return New(KindTimeout, fmt.Sprintf("%s timed out", operation))
}

// Is reports whether err (or any error in its chain) carries the given Kind.
func Is(err error, kind Kind) bool {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Kind == kind
	}
	return false
}

// Unrecoverable is the single distinguished signal that forces process
// shutdown. A loop that observes this error must stop its scope and
// the root must exit(1). It is never retried or swallowed.
type Unrecoverable struct {
	Cause error
}

func (u *Unrecoverable) Error() string {
	return fmt.Sprintf("unrecoverable: %v", u.Cause)
}

func (u *Unrecoverable) Unwrap() error { return u.Cause }

// AsUnrecoverable reports whether err is (or wraps) an Unrecoverable signal.
func AsUnrecoverable(err error) (*Unrecoverable, bool) {
	var u *Unrecoverable
	if errors.As(err, &u) {
		return u, true
	}
	return nil, false
}
