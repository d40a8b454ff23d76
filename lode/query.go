package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoRecords is returned when no archived record matches a query.
var ErrNoRecords = errors.New("no telemetry records found")

// Query selects archived records. Empty fields match everything.
type Query struct {
	Kind  string
	Day   string
	Limit int
}

// Reader reads archived telemetry.
type Reader struct {
	dataset lode.Dataset
	name    string
}

// NewReader opens the dataset for reading. Uses the same layout and
// codec as the write path.
func NewReader(dataset string, factory lode.StoreFactory) (*Reader, error) {
	if dataset == "" {
		dataset = DefaultDataset
	}
	ds, err := newDataset(dataset, factory)
	if err != nil {
		return nil, err
	}
	return &Reader{dataset: ds, name: dataset}, nil
}

// NewFSReader opens a filesystem dataset under root.
func NewFSReader(dataset, root string) (*Reader, error) {
	return NewReader(dataset, lode.NewFSFactory(root))
}

// Recent returns up to q.Limit matching records, newest snapshot first and
// in write order within a snapshot. Returns ErrNoRecords when none match.
func (r *Reader) Recent(ctx context.Context, q Query) ([]map[string]any, error) {
	snapshots, err := r.dataset.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, r.name+"/snapshots")
	}

	var out []map[string]any
	// Snapshots are ordered by creation time.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatches(snap, "kind", q.Kind) || !snapshotMatches(snap, "day", q.Day) {
			continue
		}

		data, err := r.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", r.name, snap.ID))
		}

		// Manifest paths are a coarse pre-filter; a batch spans kinds,
		// so record fields decide.
		for _, item := range data {
			row, ok := item.(map[string]any)
			if !ok || row["record_kind"] != RecordKindTelemetry {
				continue
			}
			if q.Kind != "" && row["kind"] != q.Kind {
				continue
			}
			if q.Day != "" && row["day"] != q.Day {
				continue
			}
			out = append(out, row)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}
	}

	if len(out) == 0 {
		return nil, ErrNoRecords
	}
	return out, nil
}

// snapshotMatches reports whether any file of snap lies in the key=value
// partition. An empty value matches every snapshot.
func snapshotMatches(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if hasPartition(f.Path, key, value) {
			return true
		}
	}
	return false
}

// hasPartition matches whole path segments so kind=state does not match
// kind=state_extra.
func hasPartition(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
