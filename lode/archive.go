// Package lode archives telemetry records into a Lode dataset.
//
// Records are partitioned with a Hive layout on kind and UTC day, encoded
// as JSON lines, and written in batches: one Lode snapshot per batch.
package lode

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/de1gate/adapter"
	"github.com/pithecene-io/de1gate/types"
)

// DefaultDataset is the dataset ID used when Config.Dataset is empty.
const DefaultDataset = "de1gate"

// DefaultBatchSize is the number of buffered records that triggers a write.
const DefaultBatchSize = 64

// RecordKindTelemetry is the record_kind discriminator for archived records.
const RecordKindTelemetry = "telemetry"

// ErrClosed is returned by Publish and Flush after Close.
var ErrClosed = errors.New("archive closed")

// Config configures an Archive.
type Config struct {
	// Dataset is the Lode dataset ID (default: de1gate).
	Dataset string
	// BatchSize is the number of records buffered before a write.
	BatchSize int
}

func (c Config) withDefaults() Config {
	if c.Dataset == "" {
		c.Dataset = DefaultDataset
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	return c
}

// TelemetryRow is the storage format of one telemetry record.
type TelemetryRow struct {
	RecordKind      string         `json:"record_kind"`
	ContractVersion string         `json:"contract_version"`
	ID              string         `json:"id"`
	Ts              string         `json:"ts"`
	Resource        string         `json:"resource,omitempty"`
	Payload         map[string]any `json:"payload"`

	// Partition keys (used by Lode HiveLayout)
	Kind string `json:"kind"`
	Day  string `json:"day"`
}

// DeriveDay computes the partition day of t: YYYY-MM-DD in UTC.
func DeriveDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// toRowMap converts a record to the map form the JSONL codec and the Hive
// layout both read.
func toRowMap(rec *types.TelemetryRecord) map[string]any {
	payload := rec.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	row := map[string]any{
		"record_kind":      RecordKindTelemetry,
		"contract_version": types.ContractVersion,
		"id":               rec.ID,
		"ts":               rec.Timestamp.UTC().Format(time.RFC3339Nano),
		"payload":          payload,
		"kind":             string(rec.Kind),
		"day":              DeriveDay(rec.Timestamp),
	}
	if rec.Resource != "" {
		row["resource"] = rec.Resource
	}
	return row
}

// newDataset opens the telemetry dataset on factory.
// Reads and writes share this layout and codec.
func newDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("kind", "day"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, WrapInitError(err, dataset)
	}
	return ds, nil
}

// Archive is a batching telemetry sink backed by a Lode dataset.
// It is safe for concurrent use.
type Archive struct {
	config  Config
	dataset lode.Dataset
	backend string

	mu      sync.Mutex
	pending []any
	written int64
	closed  bool
}

// NewArchive creates an archive with filesystem storage under root.
func NewArchive(cfg Config, root string) (*Archive, error) {
	return NewArchiveWithFactory(cfg, lode.NewFSFactory(root), "fs")
}

// NewArchiveWithFactory creates an archive on a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewArchiveWithFactory(cfg Config, factory lode.StoreFactory, backend string) (*Archive, error) {
	cfg = cfg.withDefaults()
	ds, err := newDataset(cfg.Dataset, factory)
	if err != nil {
		return nil, err
	}
	return &Archive{config: cfg, dataset: ds, backend: backend}, nil
}

// Name returns "lode".
func (a *Archive) Name() string { return "lode" }

// Backend reports the storage backend ("fs", "s3", "memory").
func (a *Archive) Backend() string { return a.backend }

// Publish buffers rec and writes the batch once it reaches BatchSize.
func (a *Archive) Publish(ctx context.Context, rec *types.TelemetryRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.pending = append(a.pending, toRowMap(rec))
	if len(a.pending) < a.config.BatchSize {
		return nil
	}
	return a.flushLocked(ctx)
}

// Flush writes any buffered records as one snapshot.
func (a *Archive) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	return a.flushLocked(ctx)
}

// Pending returns the number of buffered, unwritten records.
func (a *Archive) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Written returns the number of records committed to storage.
func (a *Archive) Written() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written
}

// flushLocked keeps the batch buffered when the write fails so the next
// flush retries it.
func (a *Archive) flushLocked(ctx context.Context) error {
	if len(a.pending) == 0 {
		return nil
	}
	if _, err := a.dataset.Write(ctx, a.pending, lode.Metadata{}); err != nil {
		return WrapWriteError(err, a.config.Dataset)
	}
	a.written += int64(len(a.pending))
	a.pending = nil
	return nil
}

// Close flushes buffered records and rejects further publishes.
// The flush uses a fresh context since shutdown usually follows
// cancellation of the publisher's own.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.flushLocked(ctx)
	a.closed = true
	return err
}

// Verify Archive implements the adapter interface.
var _ adapter.Adapter = (*Archive)(nil)
