// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workflow infers the causal process/file graph of a trace.
//
// Each syscall category contributes edges:
//
//	creation  (mknod, mkdir, creat)    process -> file
//	deletion  (unlink, rmdir)          file -> process
//	transfer  (symlink, rename, link)  source file -> process -> destination file
//	write                              process -> file
//	read                               file -> process, unless process -> file exists
//	fork      (process records)        parent -> child
//
// Reads are applied after every producing edge, so a process that both
// writes and reads a file is shown only as its producer regardless of the
// order of the events. Read and write edges carry aggregated I/O volume.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/fstrace/services/fstrace/graph"
	"github.com/AleutianAI/fstrace/services/fstrace/proctree"
	"github.com/AleutianAI/fstrace/services/fstrace/store"
	"github.com/AleutianAI/fstrace/services/fstrace/syscall"
	"github.com/AleutianAI/fstrace/services/fstrace/units"
)

// GraphName names workflow graphs in exports and telemetry.
const GraphName = "workflow"

// Relation is one relation occurrence between two nodes, as emitted by a
// category scan.
type Relation struct {
	From string
	To   string
	Name string
}

// IOEdge is the aggregated read or write traffic between a process and a file.
type IOEdge struct {
	From     string
	To       string
	Relation string

	PID    int64
	FileID int64

	// Calls is the number of aggregated events.
	Calls int

	// Bytes is the sum of requested lengths (aux1).
	Bytes float64

	// Elapsed is the summed call duration in seconds.
	Elapsed float64

	// Throughput is Bytes/Elapsed, undefined when Elapsed is 0.
	Throughput units.Throughput
}

// Workflow is a built workflow graph with its I/O annotations.
type Workflow struct {
	// Graph is frozen after Build.
	Graph *graph.Graph

	// Relations lists every distinct relation in category order
	// (creation, deletion, transfer, read, write, fork).
	Relations []Relation

	// IO lists read edges then write edges, each in first-appearance order.
	// Suppressed reads are not listed.
	IO []IOEdge

	// Processes and Files are the full record inventories.
	Processes []store.ProcessRecord
	Files     []store.FileRecord

	ioIndex map[[2]string]int
}

// EdgeIO returns the I/O aggregate of the edge from -> to.
func (w *Workflow) EdgeIO(from, to string) (IOEdge, bool) {
	i, ok := w.ioIndex[[2]string{from, to}]
	if !ok {
		return IOEdge{}, false
	}
	return w.IO[i], true
}

// Options configures Build.
type Options struct {
	// Verbosity selects process label detail.
	Verbosity proctree.Verbosity
}

// Option is a functional option for Build.
type Option func(*Options)

// WithVerbosity sets the process label verbosity.
func WithVerbosity(v proctree.Verbosity) Option {
	return func(o *Options) {
		o.Verbosity = v
	}
}

type builder struct {
	idx store.Index
	g   *graph.Graph
	w   *Workflow

	// relations per category, concatenated at the end
	buckets [6][]Relation
	seen    map[Relation]bool
}

const (
	bucketCreation = iota
	bucketDeletion
	bucketTransfer
	bucketRead
	bucketWrite
	bucketFork
)

// Build infers the workflow graph from the store.
//
// Description:
//
//	Scans each category's syscalls, adds the corresponding edges, merges
//	duplicates, aggregates read/write volume per (process, file) pair and
//	finally adds fork edges for every non-sentinel process record. Only
//	nodes taking part in some relation are created.
//
// Inputs:
//
//	ctx - Context for cancellation and tracing.
//	idx - The trace index.
//	opts - Optional configuration.
//
// Outputs:
//
//	*Workflow - The frozen workflow graph and annotations.
//	error - Non-nil if a store query or graph operation fails.
func Build(ctx context.Context, idx store.Index, opts ...Option) (_ *Workflow, err error) {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}

	ctx, span := graph.StartBuildSpan(ctx, GraphName)
	start := time.Now()
	b := &builder{
		idx:  idx,
		g:    graph.NewGraph(GraphName),
		w:    &Workflow{ioIndex: make(map[[2]string]int)},
		seen: make(map[Relation]bool),
	}
	defer func() {
		graph.EndBuildSpan(span, b.g, err)
		graph.RecordBuild(ctx, GraphName, time.Since(start), b.g.NodeCount(), b.g.EdgeCount(), err == nil)
	}()

	steps := []func(context.Context) error{
		b.creations,
		b.deletions,
		b.transfers,
		b.writes,
		b.reads,
		b.forks,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := step(ctx); err != nil {
			return nil, err
		}
	}

	if err := b.label(ctx, options.Verbosity); err != nil {
		return nil, err
	}

	for _, bucket := range b.buckets {
		b.w.Relations = append(b.w.Relations, bucket...)
	}
	b.g.Freeze()
	b.w.Graph = b.g
	return b.w, nil
}

func (b *builder) connect(bucket int, from, to, name string) error {
	if _, err := b.g.Connect(from, to, name); err != nil {
		return fmt.Errorf("adding %s edge %s -> %s: %w", name, from, to, err)
	}
	r := Relation{From: from, To: to, Name: name}
	if !b.seen[r] {
		b.seen[r] = true
		b.buckets[bucket] = append(b.buckets[bucket], r)
	}
	return nil
}

func (b *builder) creations(ctx context.Context) error {
	for _, code := range syscall.Members(syscall.CategoryCreation) {
		rows, err := b.idx.EventsBySyscall(ctx, code, store.Col(store.FieldPID), store.Col(store.FieldFileID))
		if err != nil {
			return fmt.Errorf("scanning %s: %w", code, err)
		}
		for _, r := range rows {
			if err := b.connect(bucketCreation, graph.ProcessNodeID(r.Int(0)), graph.FileNodeID(r.Int(1)), code.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) deletions(ctx context.Context) error {
	for _, code := range syscall.Members(syscall.CategoryDeletion) {
		rows, err := b.idx.EventsBySyscall(ctx, code, store.Col(store.FieldPID), store.Col(store.FieldFileID))
		if err != nil {
			return fmt.Errorf("scanning %s: %w", code, err)
		}
		for _, r := range rows {
			if err := b.connect(bucketDeletion, graph.FileNodeID(r.Int(1)), graph.ProcessNodeID(r.Int(0)), code.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) transfers(ctx context.Context) error {
	for _, code := range syscall.Members(syscall.CategoryTransfer) {
		rows, err := b.idx.EventsBySyscall(ctx, code,
			store.Col(store.FieldPID), store.Col(store.FieldFileID), store.Col(store.FieldAux1))
		if err != nil {
			return fmt.Errorf("scanning %s: %w", code, err)
		}
		for _, r := range rows {
			proc := graph.ProcessNodeID(r.Int(0))
			if err := b.connect(bucketTransfer, graph.FileNodeID(r.Int(1)), proc, code.String()); err != nil {
				return err
			}
			if err := b.connect(bucketTransfer, proc, graph.FileNodeID(r.Int(2)), code.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) writes(ctx context.Context) error {
	pairs, err := b.aggregateIO(ctx, syscall.Write)
	if err != nil {
		return err
	}
	for _, io := range pairs {
		io.From, io.To = graph.ProcessNodeID(io.PID), graph.FileNodeID(io.FileID)
		if err := b.connect(bucketWrite, io.From, io.To, io.Relation); err != nil {
			return err
		}
		b.addIO(io)
	}
	return nil
}

func (b *builder) reads(ctx context.Context) error {
	pairs, err := b.aggregateIO(ctx, syscall.Read)
	if err != nil {
		return err
	}
	// Reads go before writes in the I/O listing.
	writes := b.w.IO
	b.w.IO = nil
	b.w.ioIndex = make(map[[2]string]int)

	for _, io := range pairs {
		proc, file := graph.ProcessNodeID(io.PID), graph.FileNodeID(io.FileID)
		if b.g.HasEdge(proc, file) {
			continue
		}
		io.From, io.To = file, proc
		if err := b.connect(bucketRead, io.From, io.To, io.Relation); err != nil {
			return err
		}
		b.addIO(io)
	}
	for _, io := range writes {
		b.addIO(io)
	}
	return nil
}

func (b *builder) forks(ctx context.Context) error {
	procs, err := b.idx.Processes(ctx)
	if err != nil {
		return fmt.Errorf("listing processes: %w", err)
	}
	b.w.Processes = procs
	for _, p := range procs {
		if p.IsSentinel() {
			continue
		}
		if err := b.connect(bucketFork, graph.ProcessNodeID(p.PPID), graph.ProcessNodeID(p.PID), proctree.ForkRelation); err != nil {
			return err
		}
	}
	return nil
}

// aggregateIO sums length and elapsed per (pid, fid) pair in order of first
// appearance.
func (b *builder) aggregateIO(ctx context.Context, code syscall.Code) ([]IOEdge, error) {
	rows, err := b.idx.EventsBySyscall(ctx, code,
		store.Col(store.FieldPID), store.Col(store.FieldFileID), store.Col(store.FieldAux1), store.Col(store.FieldElapsed))
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", code, err)
	}

	type pair struct{ pid, fid int64 }
	pos := make(map[pair]int)
	var out []IOEdge
	for _, r := range rows {
		k := pair{r.Int(0), r.Int(1)}
		i, ok := pos[k]
		if !ok {
			i = len(out)
			pos[k] = i
			out = append(out, IOEdge{Relation: code.String(), PID: k.pid, FileID: k.fid})
		}
		out[i].Calls++
		out[i].Bytes += r.Float(2)
		out[i].Elapsed += r.Float(3)
	}
	for i := range out {
		out[i].Throughput = units.NewThroughput(out[i].Bytes, out[i].Elapsed)
	}
	return out, nil
}

func (b *builder) addIO(io IOEdge) {
	b.w.ioIndex[[2]string{io.From, io.To}] = len(b.w.IO)
	b.w.IO = append(b.w.IO, io)
}

// label attaches command line and path labels to the participating nodes.
func (b *builder) label(ctx context.Context, v proctree.Verbosity) error {
	files, err := b.idx.Files(ctx)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}
	b.w.Files = files

	for _, f := range files {
		if n, ok := b.g.GetNode(graph.FileNodeID(f.FileID)); ok {
			n.Label = f.Path
		}
	}
	for _, p := range b.w.Processes {
		if n, ok := b.g.GetNode(graph.ProcessNodeID(p.PID)); ok {
			n.Label = proctree.ShortCmdline(p.Cmdline, v)
		}
	}
	return nil
}
