// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package units scales raw times and byte counts to human-chosen units.
//
// The convention everywhere is the same: pick the largest unit for which the
// scaled value is at least 1. Callers that need several values to stay
// comparable pick a unit once (from a representative value such as a mean)
// and render every value in that unit.
package units

import (
	"fmt"
	"math"
)

// TimeUnit is a display unit for durations measured in seconds.
type TimeUnit struct {
	// Name is the suffix used when rendering ("s", "ms", ...).
	Name string

	// Seconds is the length of one unit in seconds.
	Seconds float64
}

// Time units, coarsest first.
var (
	Second      = TimeUnit{Name: "s", Seconds: 1}
	Millisecond = TimeUnit{Name: "ms", Seconds: 1e-3}
	Microsecond = TimeUnit{Name: "us", Seconds: 1e-6}
	Nanosecond  = TimeUnit{Name: "ns", Seconds: 1e-9}
)

var timeUnits = []TimeUnit{Second, Millisecond, Microsecond, Nanosecond}

// ChooseTimeUnit returns the coarsest unit in which seconds is >= 1.
//
// Zero, negative and non-finite inputs select seconds. Values too small for
// nanoseconds also select nanoseconds, the finest unit.
func ChooseTimeUnit(seconds float64) TimeUnit {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return Second
	}
	for _, u := range timeUnits {
		if seconds/u.Seconds >= 1 {
			return u
		}
	}
	return Nanosecond
}

// In converts seconds to this unit.
func (u TimeUnit) In(seconds float64) float64 {
	return seconds / u.Seconds
}

// Format renders seconds in this unit with two decimals.
func (u TimeUnit) Format(seconds float64) string {
	return fmt.Sprintf("%.2f%s", u.In(seconds), u.Name)
}

// SizeUnit is a display unit for byte quantities (1024 based).
type SizeUnit struct {
	Name  string
	Bytes float64
}

// Size units, finest first.
var (
	Byte     = SizeUnit{Name: "B", Bytes: 1}
	Kilobyte = SizeUnit{Name: "KB", Bytes: 1 << 10}
	Megabyte = SizeUnit{Name: "MB", Bytes: 1 << 20}
	Gigabyte = SizeUnit{Name: "GB", Bytes: 1 << 30}
	Terabyte = SizeUnit{Name: "TB", Bytes: 1 << 40}
)

var sizeUnits = []SizeUnit{Terabyte, Gigabyte, Megabyte, Kilobyte, Byte}

// ChooseSizeUnit returns the largest unit in which bytes is >= 1.
// Values below one byte (including zero) select bytes.
func ChooseSizeUnit(bytes float64) SizeUnit {
	if math.IsNaN(bytes) || math.IsInf(bytes, 0) {
		return Byte
	}
	for _, u := range sizeUnits {
		if bytes/u.Bytes >= 1 {
			return u
		}
	}
	return Byte
}

// ScaleBytes scales a byte count to its own best unit.
func ScaleBytes(bytes float64) (float64, SizeUnit) {
	u := ChooseSizeUnit(bytes)
	return bytes / u.Bytes, u
}

// FormatBytes renders a byte count in its best unit, e.g. "1.50MB".
func FormatBytes(bytes float64) string {
	v, u := ScaleBytes(bytes)
	return fmt.Sprintf("%.2f%s", v, u.Name)
}

// Throughput is a data rate that may be undefined.
//
// A rate is undefined when the elapsed time it was derived from is zero or
// negative; it is never computed by dividing by zero.
type Throughput struct {
	BytesPerSec float64
	Defined     bool
}

// NewThroughput computes bytes/elapsed, or an undefined rate when elapsed <= 0.
func NewThroughput(bytes, elapsedSeconds float64) Throughput {
	if elapsedSeconds <= 0 || math.IsNaN(elapsedSeconds) {
		return Throughput{}
	}
	return Throughput{BytesPerSec: bytes / elapsedSeconds, Defined: true}
}

// String renders the rate as e.g. "12.00MB/sec", or "n/a" when undefined.
func (t Throughput) String() string {
	if !t.Defined {
		return "n/a"
	}
	return FormatBytes(t.BytesPerSec) + "/sec"
}
