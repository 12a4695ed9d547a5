// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"errors"
	"strings"
)

// Stream error codes surfaced to clients on the error event.
const (
	ErrCodeBadRequest     = "BAD_REQUEST"
	ErrCodeStandardsEmpty = "STANDARDS_EMPTY"
	ErrCodeAuthRequired   = "AUTH_REQUIRED"
	ErrCodeStreamFailure  = "STREAM_FAILURE"
)

// ValidationError reports request problems detected before any upstream
// call. Problems are aggregated so the caller sees every offending
// attachment at once.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConfigurationError reports a missing or unusable backend: retrieval
// unconfigured when standards are needed, or an empty standards catalog.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

// IsConfigurationError checks if an error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// GroundingIntegrityError reports a turn where retrieval produced grounding
// but the response carried no citations and none could be synthesized.
// Surfacing it is deliberate: an ungrounded compliance verdict must not
// look like a grounded one.
type GroundingIntegrityError struct {
	Message string
}

func (e *GroundingIntegrityError) Error() string {
	return e.Message
}

// IsGroundingIntegrityError checks if an error is a GroundingIntegrityError.
func IsGroundingIntegrityError(err error) bool {
	var ge *GroundingIntegrityError
	return errors.As(err, &ge)
}

// UpstreamError wraps a failure reported by or while talking to the agent
// runtime.
type UpstreamError struct {
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstreamError checks if an error is an UpstreamError.
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// ClassifyStreamError maps a turn failure onto the wire error code.
//
// # Description
//
// Validation problems are BAD_REQUEST. Empty-grounding configuration
// failures are STANDARDS_EMPTY. Anything whose message mentions tokens or
// authorization is AUTH_REQUIRED; the rest is STREAM_FAILURE. The message
// heuristic mirrors how runtime SDK errors surface auth problems, which
// arrive as plain text rather than typed errors.
func ClassifyStreamError(err error) string {
	if err == nil {
		return ErrCodeStreamFailure
	}
	if IsValidationError(err) {
		return ErrCodeBadRequest
	}

	message := err.Error()
	if strings.Contains(message, "No standards clauses were retrieved") ||
		strings.Contains(message, "No requirements were retrieved") {
		return ErrCodeStandardsEmpty
	}

	lower := strings.ToLower(message)
	if strings.Contains(lower, "token") || strings.Contains(lower, "unauthorized") {
		return ErrCodeAuthRequired
	}
	return ErrCodeStreamFailure
}
