package reader

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pithecene-io/de1gate/lode"
	"github.com/pithecene-io/de1gate/resource"
)

// ParseTelemetryRow converts a Lode row (map[string]any) to a TelemetryItem.
func ParseTelemetryRow(row map[string]any) (*TelemetryItem, error) {
	if row == nil {
		return nil, errors.New("nil record")
	}
	if kind := toString(row["record_kind"]); kind != lode.RecordKindTelemetry {
		return nil, fmt.Errorf("unexpected record_kind %q", kind)
	}

	item := &TelemetryItem{
		ID:       toString(row["id"]),
		Ts:       toString(row["ts"]),
		Kind:     toString(row["kind"]),
		Resource: toString(row["resource"]),
	}
	if p, ok := row["payload"].(map[string]any); ok {
		item.Payload = p
	}

	// The write path always populates these.
	if item.ID == "" {
		return nil, errors.New("telemetry record missing required field: id")
	}
	if item.Ts == "" {
		return nil, errors.New("telemetry record missing required field: ts")
	}
	if item.Kind == "" {
		return nil, errors.New("telemetry record missing required field: kind")
	}
	return item, nil
}

// History reads matching records from src. Malformed rows are skipped
// and counted under the "invalid" kind. An empty archive is not an error.
func History(ctx context.Context, src HistorySource, dataset string, q lode.Query) (*HistoryView, error) {
	rows, err := src.Recent(ctx, q)
	if err != nil && !errors.Is(err, lode.ErrNoRecords) {
		return nil, err
	}

	view := &HistoryView{
		Dataset: dataset,
		ByKind:  map[string]int64{},
		Items:   []TelemetryItem{},
	}
	for _, row := range rows {
		item, err := ParseTelemetryRow(row)
		if err != nil {
			view.ByKind["invalid"]++
			continue
		}
		view.ByKind[item.Kind]++
		view.Items = append(view.Items, *item)
	}
	view.Total = len(view.Items)
	return view, nil
}

// Resources lists the registry table.
func Resources(reg *resource.Registry) []ResourceRow {
	entries := reg.Entries()
	rows := make([]ResourceRow, 0, len(entries))
	for _, e := range entries {
		pre := e.Preconditions.Union(e.WritePreconditions)
		names := make([]string, len(pre))
		for i, p := range pre {
			names[i] = string(p)
		}
		rows = append(rows, ResourceRow{
			Resource:      string(e.ID),
			Get:           e.Capabilities.CanGet,
			Patch:         e.Capabilities.CanPatch,
			Put:           e.Capabilities.CanPut,
			Preconditions: strings.Join(names, ","),
			Description:   e.Description,
		})
	}
	return rows
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
