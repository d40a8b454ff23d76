package logagg

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pithecene-io/de1gate/log"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"0 0 * * *", false},
		{"@daily", false},
		{"@every 1h", false},
		{"6h", false},
		{"90s", false},
		{"", true},
		{"-5m", true},
		{"sometimes", true},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			_, err := ParseSchedule(tt.schedule)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseSchedule(%q) err = %v, wantErr %v", tt.schedule, err, tt.wantErr)
			}
		})
	}
}

func TestParseSchedule_DurationFallback(t *testing.T) {
	sched, err := ParseSchedule("30m")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if next := sched.Next(now); next.Sub(now) != 30*time.Minute {
		t.Errorf("Next = %v, want +30m", next)
	}
}

func TestWatchExternalRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combined.log")
	agg, _ := startAggregator(t, Config{Path: path})

	agg.Submit("line")
	waitFor(t, "first write", func() bool { return agg.Stats().Written == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := WatchExternalRotation(ctx, agg, log.NewNop()); err != nil {
		t.Fatalf("WatchExternalRotation: %v", err)
	}

	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	waitFor(t, "rotation after rename", func() bool { return agg.Stats().Rotations == 1 })
}

func TestScheduler_StartStop(t *testing.T) {
	agg, _ := startAggregator(t, Config{Path: filepath.Join(t.TempDir(), "x.log")})
	s, err := NewScheduler(context.Background(), agg, "@every 1h", log.NewNop())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	s.Start()
	s.Stop()

	if _, err := NewScheduler(context.Background(), agg, "whenever", log.NewNop()); err == nil {
		t.Error("NewScheduler accepted an invalid schedule")
	}
}
