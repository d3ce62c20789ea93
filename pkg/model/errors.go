package model

import "fmt"

// ValidationError marks malformed caller input: unknown category or
// predicate, out-of-range numeric, missing field. Maps to 4xx; never
// logged as an error.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

func NewValidationError(reason string) error {
	return &ValidationError{Reason: reason}
}

// UpstreamError marks a failed or timed-out LLM, embedding or vector
// backend call. Callers recover locally (degrade, fall back) and log at
// warn.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func NewUpstreamError(service string, err error) error {
	return &UpstreamError{Service: service, Err: err}
}

// InvariantError marks a store write that would violate a data-model
// invariant (layer/expiry mismatch, supersede cycle). Fatal for the
// operation; the store stays consistent.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string {
	return "invariant: " + e.Reason
}

func NewInvariantError(reason string) error {
	return &InvariantError{Reason: reason}
}

// FatalError marks an unavailable or corrupted store. The process should
// refuse writes and report unhealthy.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
