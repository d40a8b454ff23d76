// Package reader provides the read-side data access layer for the de1gate
// CLI.
//
// Client commands read live resources from a running gateway over HTTP;
// history reads the telemetry archive directly through Lode. Neither path
// touches worker internals.
package reader

import "time"

// Reply is one raw gateway response.
type Reply struct {
	Status       int
	ContentType  string
	LastModified time.Time
	Body         []byte
}

// OK reports a 2xx status.
func (r *Reply) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// ResourceView is the inspect payload for one resource.
type ResourceView struct {
	Resource     string         `json:"resource"`
	Status       int            `json:"status"`
	LastModified *time.Time     `json:"last_modified,omitempty"`
	Fields       map[string]any `json:"fields"`
}

// ResourceRow is one registry row for the resources command.
type ResourceRow struct {
	Resource      string `json:"resource"`
	Get           bool   `json:"get"`
	Patch         bool   `json:"patch"`
	Put           bool   `json:"put"`
	Preconditions string `json:"preconditions"`
	Description   string `json:"description"`
}

// TelemetryItem is one archived telemetry record.
type TelemetryItem struct {
	ID       string         `json:"id"`
	Ts       string         `json:"ts"`
	Kind     string         `json:"kind"`
	Resource string         `json:"resource"`
	Payload  map[string]any `json:"payload"`
}

// HistoryView is the history payload: the records plus counts by kind.
type HistoryView struct {
	Dataset string           `json:"dataset"`
	Total   int              `json:"total"`
	ByKind  map[string]int64 `json:"by_kind"`
	Items   []TelemetryItem  `json:"items"`
}
