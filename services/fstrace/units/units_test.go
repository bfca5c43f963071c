// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChooseTimeUnit(t *testing.T) {
	tests := []struct {
		name    string
		seconds float64
		want    TimeUnit
	}{
		{"zero", 0, Second},
		{"negative", -1, Second},
		{"nan", math.NaN(), Second},
		{"seconds", 3.5, Second},
		{"exactly one second", 1, Second},
		{"milliseconds", 0.25, Millisecond},
		{"microseconds", 0.00042, Microsecond},
		{"nanoseconds", 5e-9, Nanosecond},
		{"below nanoseconds", 1e-12, Nanosecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChooseTimeUnit(tt.seconds))
		})
	}
}

func TestTimeUnit_Format(t *testing.T) {
	assert.Equal(t, "250.00ms", Millisecond.Format(0.25))
	assert.Equal(t, "0.50ms", Millisecond.Format(0.0005))
	assert.InDelta(t, 420.0, Microsecond.In(0.00042), 1e-9)
}

func TestChooseSizeUnit(t *testing.T) {
	tests := []struct {
		bytes float64
		want  SizeUnit
	}{
		{0, Byte},
		{0.5, Byte},
		{512, Byte},
		{1024, Kilobyte},
		{1536, Kilobyte},
		{3 << 20, Megabyte},
		{5 << 30, Gigabyte},
		{2 << 40, Terabyte},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ChooseSizeUnit(tt.bytes), "bytes=%v", tt.bytes)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "1.50KB", FormatBytes(1536))
	assert.Equal(t, "0.00B", FormatBytes(0))
	assert.Equal(t, "100.00B", FormatBytes(100))
}

func TestThroughput(t *testing.T) {
	t.Run("defined", func(t *testing.T) {
		tp := NewThroughput(2<<20, 2)
		assert.True(t, tp.Defined)
		assert.Equal(t, float64(1<<20), tp.BytesPerSec)
		assert.Equal(t, "1.00MB/sec", tp.String())
	})

	t.Run("zero elapsed is undefined", func(t *testing.T) {
		tp := NewThroughput(4096, 0)
		assert.False(t, tp.Defined)
		assert.Equal(t, "n/a", tp.String())
		assert.False(t, math.IsInf(tp.BytesPerSec, 0))
	})
}
