// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package export

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/fstrace/services/fstrace/series"
)

// SeriesLP is the line protocol file written by WriteSeries.
const SeriesLP = "series.lp"

// SeriesMeasurement is the measurement name of every series point.
const SeriesMeasurement = "fstrace_series"

// pushBatchSize bounds the number of points per blocking write.
const pushBatchSize = 5000

// SeriesPoints converts a series set to InfluxDB points.
//
// Each point is tagged with the dataset, syscall and kind, carries the
// normalized time as field "t" and the value as field "value", and is
// stamped with its absolute trace time (epoch + t).
func SeriesPoints(datasetID string, set *series.Set) []*write.Point {
	var points []*write.Point
	for _, s := range set.Series {
		for _, p := range s.Points {
			pt := influxdb2.NewPointWithMeasurement(SeriesMeasurement).
				AddTag("dataset", datasetID).
				AddTag("syscall", s.Name).
				AddTag("kind", string(s.Kind)).
				AddField("t", p.Time).
				AddField("value", p.Value).
				SetTime(stampTime(set.Epoch + p.Time))
			points = append(points, pt)
		}
	}
	return points
}

// WriteLineProtocol writes points one per line with nanosecond precision.
func WriteLineProtocol(w io.Writer, points []*write.Point) error {
	bw := bufio.NewWriter(w)
	for _, p := range points {
		// PointToLineProtocol terminates each line itself.
		if _, err := bw.WriteString(write.PointToLineProtocol(p, time.Nanosecond)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteSeries writes the set as line protocol into dir and returns the path.
func WriteSeries(dir, datasetID string, set *series.Set) ([]string, error) {
	points := SeriesPoints(datasetID, set)
	return writeFiles(dir, []fileWriter{
		{SeriesLP, func(w io.Writer) error { return WriteLineProtocol(w, points) }},
	})
}

// PushSeries writes points to an InfluxDB bucket in batches.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	writer - A blocking write API, e.g. client.WriteAPIBlocking(org, bucket).
//	points - Points from SeriesPoints.
//
// Outputs:
//
//	error - The first failed batch, wrapped.
func PushSeries(ctx context.Context, writer api.WriteAPIBlocking, points []*write.Point) error {
	if writer == nil {
		return errors.New("influx writer is nil")
	}
	for start := 0; start < len(points); start += pushBatchSize {
		end := min(start+pushBatchSize, len(points))
		if err := writer.WritePoint(ctx, points[start:end]...); err != nil {
			return fmt.Errorf("writing points %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func stampTime(seconds float64) time.Time {
	sec, frac := math.Modf(seconds)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}
