// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

// Package faults defines the error taxonomy shared by the enrichment
// sources. Validation and schema errors must reach the caller; network
// errors are recovered locally through stale-cache fallback wherever a
// cached value exists.
package faults

import "fmt"

// ValidationError reports malformed caller input: a bad CVE identifier, a
// wrong type, or an out-of-range score. The caller must fix its input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NetworkError wraps a transport-level failure: timeout, connection error,
// or a non-2xx response from an upstream endpoint.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// Network wraps err as a NetworkError for the named operation.
func Network(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err}
}

// SchemaError reports an upstream response whose shape violates the
// expected contract. The response is unusable as a whole, so this is a
// hard error rather than a degraded result.
type SchemaError struct {
	Source string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: unexpected response shape: %s", e.Source, e.Reason)
}

// Schemaf builds a SchemaError for the named source.
func Schemaf(source, format string, args ...any) *SchemaError {
	return &SchemaError{Source: source, Reason: fmt.Sprintf(format, args...)}
}
