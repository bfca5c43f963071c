// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export renders built graphs, series and reports to files.
//
// Graph formats keep the layouts external graph tools consume: Graphviz
// (.gv), Cytoscape simple interaction (.sif) and node attributes (.noa),
// plus CSV node/edge tables. Series are written as InfluxDB line protocol
// and can also be pushed to a server. Reports are JSON.
//
// All writers take an io.Writer; the *Files helpers create files in a
// directory and return the written paths.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrNoOutputDir indicates an empty output directory argument.
var ErrNoOutputDir = errors.New("output directory is required")

type fileWriter struct {
	name  string
	write func(io.Writer) error
}

func writeFiles(dir string, files []fileWriter) ([]string, error) {
	if dir == "" {
		return nil, ErrNoOutputDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		p := filepath.Join(dir, f.name)
		if err := writeFile(p, f.write); err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := fh.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()
	if err := write(fh); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
