package reader

import (
	"context"

	"github.com/pithecene-io/de1gate/lode"
)

// HistorySource returns archived telemetry rows. *lode.Reader implements it.
type HistorySource interface {
	Recent(ctx context.Context, q lode.Query) ([]map[string]any, error)
}

var _ HistorySource = (*lode.Reader)(nil)
