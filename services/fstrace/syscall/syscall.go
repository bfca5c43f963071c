// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syscall defines the closed set of traced filesystem syscalls.
//
// Codes follow the Linux x86_64 syscall numbering used by the interception
// layer when it writes trace.log. Every code carries an aux schema that says
// how the two syscall-dependent event fields (aux1, aux2) are interpreted,
// and belongs to at most one workflow category.
//
// Codes outside the table are valid trace data: they are stored and can be
// queried, but have no name, no aux meaning and no category.
package syscall

import (
	"fmt"
	"sort"
	"strings"
)

// Code is a traced syscall number.
type Code int

// Traced syscalls.
const (
	Read        Code = 0
	Write       Code = 1
	Open        Code = 2
	Close       Code = 3
	Stat        Code = 4
	Fstat       Code = 5
	Lstat       Code = 6
	Lseek       Code = 8
	Access      Code = 21
	Fsync       Code = 74
	Truncate    Code = 76
	Ftruncate   Code = 77
	Getdents    Code = 78
	Rename      Code = 82
	Mkdir       Code = 83
	Rmdir       Code = 84
	Creat       Code = 85
	Link        Code = 86
	Unlink      Code = 87
	Symlink     Code = 88
	Readlink    Code = 89
	Chmod       Code = 90
	Chown       Code = 92
	Utime       Code = 132
	Mknod       Code = 133
	Statfs      Code = 137
	Setxattr    Code = 188
	Getxattr    Code = 191
	Listxattr   Code = 194
	Removexattr Code = 197
)

// AuxKind describes what an aux field carries for a given syscall.
type AuxKind int

const (
	// AuxUnused means the field carries nothing meaningful.
	AuxUnused AuxKind = iota

	// AuxLength is a requested byte length.
	AuxLength

	// AuxOffset is a file offset in bytes.
	AuxOffset

	// AuxDestFile is the file id of a transfer destination.
	AuxDestFile
)

// String returns the string representation of the AuxKind.
func (k AuxKind) String() string {
	switch k {
	case AuxUnused:
		return "unused"
	case AuxLength:
		return "length"
	case AuxOffset:
		return "offset"
	case AuxDestFile:
		return "dest_file"
	default:
		return "unknown"
	}
}

// AuxSchema tells how aux1 and aux2 are interpreted for a syscall.
type AuxSchema struct {
	Aux1 AuxKind
	Aux2 AuxKind
}

// Category groups syscalls by the causal edge they produce in a workflow graph.
type Category int

const (
	// CategoryNone is for syscalls that produce no workflow edge.
	CategoryNone Category = iota

	// CategoryCreation brings a file into existence (process -> file).
	CategoryCreation

	// CategoryDeletion ends a file's life (file -> process).
	CategoryDeletion

	// CategoryTransfer consumes a source and produces a destination.
	CategoryTransfer

	// CategoryRead consumes data from a file (file -> process).
	CategoryRead

	// CategoryWrite produces data into a file (process -> file).
	CategoryWrite
)

// String returns the string representation of the Category.
func (c Category) String() string {
	switch c {
	case CategoryNone:
		return "none"
	case CategoryCreation:
		return "creation"
	case CategoryDeletion:
		return "deletion"
	case CategoryTransfer:
		return "transfer"
	case CategoryRead:
		return "read"
	case CategoryWrite:
		return "write"
	default:
		return "unknown"
	}
}

type entry struct {
	name     string
	schema   AuxSchema
	category Category
}

var table = map[Code]entry{
	Read:        {"read", AuxSchema{AuxLength, AuxOffset}, CategoryRead},
	Write:       {"write", AuxSchema{AuxLength, AuxOffset}, CategoryWrite},
	Open:        {"open", AuxSchema{}, CategoryNone},
	Close:       {"close", AuxSchema{}, CategoryNone},
	Stat:        {"stat", AuxSchema{}, CategoryNone},
	Fstat:       {"fstat", AuxSchema{}, CategoryNone},
	Lstat:       {"lstat", AuxSchema{}, CategoryNone},
	Lseek:       {"lseek", AuxSchema{}, CategoryNone},
	Access:      {"access", AuxSchema{}, CategoryNone},
	Fsync:       {"fsync", AuxSchema{}, CategoryNone},
	Truncate:    {"truncate", AuxSchema{Aux1: AuxLength}, CategoryNone},
	Ftruncate:   {"ftruncate", AuxSchema{Aux1: AuxLength}, CategoryNone},
	Getdents:    {"getdents", AuxSchema{}, CategoryNone},
	Rename:      {"rename", AuxSchema{Aux1: AuxDestFile}, CategoryTransfer},
	Mkdir:       {"mkdir", AuxSchema{}, CategoryCreation},
	Rmdir:       {"rmdir", AuxSchema{}, CategoryDeletion},
	Creat:       {"creat", AuxSchema{}, CategoryCreation},
	Link:        {"link", AuxSchema{Aux1: AuxDestFile}, CategoryTransfer},
	Unlink:      {"unlink", AuxSchema{}, CategoryDeletion},
	Symlink:     {"symlink", AuxSchema{Aux1: AuxDestFile}, CategoryTransfer},
	Readlink:    {"readlink", AuxSchema{}, CategoryNone},
	Chmod:       {"chmod", AuxSchema{}, CategoryNone},
	Chown:       {"chown", AuxSchema{}, CategoryNone},
	Utime:       {"utime", AuxSchema{}, CategoryNone},
	Mknod:       {"mknod", AuxSchema{}, CategoryCreation},
	Statfs:      {"statfs", AuxSchema{}, CategoryNone},
	Setxattr:    {"setxattr", AuxSchema{}, CategoryNone},
	Getxattr:    {"getxattr", AuxSchema{}, CategoryNone},
	Listxattr:   {"listxattr", AuxSchema{}, CategoryNone},
	Removexattr: {"removexattr", AuxSchema{}, CategoryNone},
}

var byName = func() map[string]Code {
	m := make(map[string]Code, len(table))
	for code, e := range table {
		m[e.name] = code
	}
	return m
}()

// Known reports whether the code is in the syscall table.
func (c Code) Known() bool {
	_, ok := table[c]
	return ok
}

// String returns the syscall name, or "sysc<N>" for codes outside the table.
func (c Code) String() string {
	if e, ok := table[c]; ok {
		return e.name
	}
	return fmt.Sprintf("sysc%d", int(c))
}

// Schema returns the aux field interpretation for the code.
// Unknown codes have both fields unused.
func (c Code) Schema() AuxSchema {
	return table[c].schema
}

// Category returns the workflow category of the code.
func (c Code) Category() Category {
	return table[c].category
}

// Parse resolves a syscall name (case-insensitive) to its code.
func Parse(name string) (Code, error) {
	code, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown syscall %q", name)
	}
	return code, nil
}

// ParseList resolves a list of names, failing on the first unknown one.
func ParseList(names []string) ([]Code, error) {
	codes := make([]Code, 0, len(names))
	for _, n := range names {
		c, err := Parse(n)
		if err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, nil
}

// Members returns the codes of a category in workflow scan order.
func Members(c Category) []Code {
	switch c {
	case CategoryCreation:
		return []Code{Mknod, Mkdir, Creat}
	case CategoryDeletion:
		return []Code{Unlink, Rmdir}
	case CategoryTransfer:
		return []Code{Symlink, Rename, Link}
	case CategoryRead:
		return []Code{Read}
	case CategoryWrite:
		return []Code{Write}
	default:
		return nil
	}
}

// All returns every known code in ascending order.
func All() []Code {
	codes := make([]Code, 0, len(table))
	for c := range table {
		codes = append(codes, c)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// IO returns the data-transfer syscalls (read, write).
func IO() []Code {
	return []Code{Read, Write}
}
