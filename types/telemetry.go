package types

import "time"

// TelemetryKind classifies telemetry records.
type TelemetryKind string

// Telemetry kinds emitted by the controller.
const (
	TelemetryKindState        TelemetryKind = "state"
	TelemetryKindConnectivity TelemetryKind = "connectivity"
	TelemetryKindShotSample   TelemetryKind = "shot_sample"
	TelemetryKindLog          TelemetryKind = "log"
)

// TelemetryRecord is written by the controller on the outbound pipe.
type TelemetryRecord struct {
	// ID is a ULID, sortable by creation time.
	ID string `msgpack:"id" json:"id"`
	// Timestamp is when the controller observed the change.
	Timestamp time.Time `msgpack:"timestamp" json:"timestamp"`
	// Kind is the record discriminator.
	Kind TelemetryKind `msgpack:"kind" json:"kind"`
	// Resource is the resource the record describes, if any.
	Resource string `msgpack:"resource,omitempty" json:"resource,omitempty"`
	// Payload is the kind-specific body.
	Payload map[string]any `msgpack:"payload" json:"payload"`
}
