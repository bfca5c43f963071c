// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for ingestion and queries.
var (
	// ErrMalformedHeader is returned when a log does not begin with a
	// "#" comment line. Every log stream carries one.
	ErrMalformedHeader = errors.New("malformed header: missing leading comment line")

	// ErrMalformedRecord is returned when a record line cannot be parsed
	// into the fields its log format requires.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrMissingProcessMapping is returned when proc.info names a pid that
	// proc.map does not map to a command line.
	ErrMissingProcessMapping = errors.New("pid missing from process map")

	// ErrIntegrity is returned when records reference each other
	// inconsistently (unknown file id, unknown pid, duplicate identity).
	ErrIntegrity = errors.New("data integrity violation")

	// ErrAlreadyLoaded is returned when Load is called on a backend that
	// already holds a trace. Stores are loaded exactly once.
	ErrAlreadyLoaded = errors.New("store already loaded")

	// ErrNilLoader is returned when Ingest is called without a backend.
	ErrNilLoader = errors.New("loader must not be nil")

	// ErrInvalidSelector is returned for an empty selector list or a
	// selector outside the closed field/aggregate enumeration.
	ErrInvalidSelector = errors.New("invalid selector")
)

// LineError locates a parse failure in a named log stream.
type LineError struct {
	// Source is the log name, e.g. "trace.log".
	Source string

	// Line is the 1-based physical line number (the header is line 1).
	Line int

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Source, e.Line, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *LineError) Unwrap() error {
	return e.Err
}
