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
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
)

// Log stream names, as written by the interception layer.
const (
	EnvLog      = "env.log"
	TraceLog    = "trace.log"
	FileMapLog  = "file.map"
	ProcMapLog  = "proc.map"
	ProcInfoLog = "proc.info"
)

const (
	traceFields    = 8
	procInfoFields = 6

	// Command lines can be long; allow lines up to 16 MiB.
	maxLineBytes = 16 << 20
)

// scanRecords checks the mandatory header and calls fn for every non-blank
// record line with its 1-based physical line number and trimmed text.
func scanRecords(ctx context.Context, source string, r io.Reader, fn func(line int, text string) error) error {
	return scanLines(ctx, source, r, false, fn)
}

// scanLines is scanRecords with blank lines optionally passed through.
func scanLines(ctx context.Context, source string, r io.Reader, blanks bool, fn func(line int, text string) error) error {
	if r == nil {
		return fmt.Errorf("%s: no input stream", source)
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return fmt.Errorf("reading %s: %w", source, err)
		}
		return fmt.Errorf("%s: %w", source, ErrMalformedHeader)
	}
	if !strings.HasPrefix(strings.TrimSpace(sc.Text()), "#") {
		return fmt.Errorf("%s: %w", source, ErrMalformedHeader)
	}

	line := 1
	for sc.Scan() {
		line++
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" && !blanks {
			continue
		}
		if err := fn(line, text); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", source, err)
	}
	return nil
}

func malformed(source string, line int, format string, args ...any) error {
	return &LineError{
		Source: source,
		Line:   line,
		Err:    fmt.Errorf("%w: %s", ErrMalformedRecord, fmt.Sprintf(format, args...)),
	}
}

// ParseEnv parses env.log ("key:value", split once).
func ParseEnv(ctx context.Context, r io.Reader) ([]EnvRecord, error) {
	var out []EnvRecord
	err := scanRecords(ctx, EnvLog, r, func(line int, text string) error {
		key, value, ok := strings.Cut(text, ":")
		if !ok {
			return malformed(EnvLog, line, "expected key:value")
		}
		out = append(out, EnvRecord{Key: key, Value: value})
		return nil
	})
	return out, err
}

// ParseTrace parses trace.log (8 comma-separated positional fields).
func ParseTrace(ctx context.Context, r io.Reader) ([]SyscallEvent, error) {
	var out []SyscallEvent
	err := scanRecords(ctx, TraceLog, r, func(line int, text string) error {
		f := strings.Split(text, ",")
		if len(f) != traceFields {
			return malformed(TraceLog, line, "expected %d fields, got %d", traceFields, len(f))
		}
		var (
			e   SyscallEvent
			p   fieldParser
			sys int64
		)
		e.Stamp = p.parseFloat(f[0])
		e.PID = p.parseInt(f[1])
		sys = p.parseInt(f[2])
		e.FileID = p.parseInt(f[3])
		e.Result = p.parseInt(f[4])
		e.Elapsed = p.parseFloat(f[5])
		e.Aux1 = p.parseInt(f[6])
		e.Aux2 = p.parseInt(f[7])
		if p.err != nil {
			return malformed(TraceLog, line, "%v", p.err)
		}
		e.Syscall = syscall.Code(sys)
		out = append(out, e)
		return nil
	})
	return out, err
}

// ParseFileMap parses file.map ("fid:path", split once).
func ParseFileMap(ctx context.Context, r io.Reader) ([]FileRecord, error) {
	var out []FileRecord
	err := scanRecords(ctx, FileMapLog, r, func(line int, text string) error {
		id, path, ok := strings.Cut(text, ":")
		if !ok {
			return malformed(FileMapLog, line, "expected fid:path")
		}
		var p fieldParser
		fid := p.parseInt(id)
		if p.err != nil {
			return malformed(FileMapLog, line, "%v", p.err)
		}
		out = append(out, FileRecord{FileID: fid, Path: path})
		return nil
	})
	return out, err
}

// ParseProcMap parses proc.map ("pid:cmdline", split once).
//
// Lines that cannot be split or whose pid is not a number, blank lines
// included, are logged and skipped. The logged "record" counts lines after
// the header from 1. A later duplicate pid overrides an earlier one.
func ParseProcMap(ctx context.Context, r io.Reader, logger *slog.Logger) (map[int64]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := make(map[int64]string)
	err := scanLines(ctx, ProcMapLog, r, true, func(line int, text string) error {
		id, cmdline, ok := strings.Cut(text, ":")
		var p fieldParser
		pid := p.parseInt(id)
		if !ok || p.err != nil {
			logger.Warn("skipping unparseable process map line",
				slog.String("file", ProcMapLog),
				slog.Int("record", line-1),
				slog.String("text", text),
			)
			return nil
		}
		out[pid] = cmdline
		return nil
	})
	return out, err
}

// ParseProcInfo parses proc.info (pid,ppid,live,res,btime,elapsed). The
// returned records have no command line yet.
func ParseProcInfo(ctx context.Context, r io.Reader) ([]ProcessRecord, error) {
	var out []ProcessRecord
	err := scanRecords(ctx, ProcInfoLog, r, func(line int, text string) error {
		f := strings.Split(text, ",")
		if len(f) != procInfoFields {
			return malformed(ProcInfoLog, line, "expected %d fields, got %d", procInfoFields, len(f))
		}
		var p fieldParser
		rec := ProcessRecord{
			PID:        p.parseInt(f[0]),
			PPID:       p.parseInt(f[1]),
			Alive:      p.parseInt(f[2]) != 0,
			ExitResult: p.parseInt(f[3]),
			BirthTime:  p.parseFloat(f[4]),
			Elapsed:    p.parseFloat(f[5]),
		}
		if p.err != nil {
			return malformed(ProcInfoLog, line, "%v", p.err)
		}
		out = append(out, rec)
		return nil
	})
	return out, err
}

// fieldParser keeps the first conversion error so a record can be parsed
// field by field and checked once.
type fieldParser struct {
	err error
}

func (p *fieldParser) parseInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid integer %q", s)
	}
	return v
}

func (p *fieldParser) parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if p.err != nil {
		return v
	}
	switch {
	case err != nil:
		p.err = fmt.Errorf("invalid number %q", s)
	case math.IsNaN(v) || math.IsInf(v, 0):
		p.err = fmt.Errorf("non-finite number %q", s)
	}
	return v
}
