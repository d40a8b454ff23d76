package controller

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/de1gate/resource"
	"github.com/pithecene-io/de1gate/types"
)

type recordingEmitter struct {
	mu      sync.Mutex
	records []*types.TelemetryRecord
}

func (r *recordingEmitter) Emit(rec *types.TelemetryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingEmitter) kinds() []types.TelemetryKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.TelemetryKind, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Kind
	}
	return out
}

func newConnectedMachine(t *testing.T, opts Options) (*Machine, *recordingEmitter) {
	t.Helper()
	em := &recordingEmitter{}
	opts.Emitter = em
	opts.DE1Connected = true
	opts.ScaleConnected = true
	return NewMachine(opts), em
}

func request(method types.Method, id resource.ID, payload any, pre ...types.Precondition) *types.RequestEnvelope {
	req := &types.RequestEnvelope{
		ID:                   "req-" + string(id),
		Timestamp:            time.Now(),
		Method:               method,
		Resource:             string(id),
		ConnectivityRequired: types.NewPreconditionSet(pre...),
	}
	if raw, ok := payload.([]byte); ok {
		req.Raw = raw
	} else {
		req.Payload = payload
	}
	return req
}

func mustSucceed(t *testing.T, resp *types.ResponseEnvelope) map[string]any {
	t.Helper()
	if err := resp.Validate(); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Exception != nil {
		t.Fatalf("unexpected exception: %v", resp.Exception)
	}
	return resp.Payload.(map[string]any)
}

func mustFail(t *testing.T, resp *types.ResponseEnvelope, kind types.ErrorKind) {
	t.Helper()
	if resp.Exception == nil {
		t.Fatalf("expected %s, got payload %v", kind, resp.Payload)
	}
	if resp.Exception.Kind != kind {
		t.Fatalf("kind = %s, want %s (%s)", resp.Exception.Kind, kind, resp.Exception.Detail)
	}
}

func TestMachine_NotConnected(t *testing.T) {
	m := NewMachine(Options{})
	ctx := context.Background()

	resp := m.Handle(ctx, request(types.MethodGet, resource.DE1State, nil, types.PreconditionDE1Connected))
	mustFail(t, resp, types.ErrorKindNotConnected)

	resp = m.Handle(ctx, request(types.MethodGet, resource.Scale, nil, types.PreconditionScaleConnected))
	mustFail(t, resp, types.ErrorKindNotConnected)

	// No preconditions: always served.
	mustSucceed(t, m.Handle(ctx, request(types.MethodGet, resource.Version, nil)))
}

func TestMachine_ModeTransitions(t *testing.T) {
	m, em := newConnectedMachine(t, Options{})
	ctx := context.Background()

	resp := m.Handle(ctx, request(types.MethodPatch, resource.DE1Mode, map[string]any{"mode": "espresso"}))
	mustFail(t, resp, types.ErrorKindUnsupportedStateTransition)
	if resp.Exception.Detail != "cannot change mode from sleep to espresso" {
		t.Errorf("Detail = %q", resp.Exception.Detail)
	}

	for _, mode := range []string{"idle", "espresso", "idle", "sleep"} {
		payload := mustSucceed(t, m.Handle(ctx, request(types.MethodPatch, resource.DE1Mode, map[string]any{"mode": mode})))
		if payload["mode"] != mode {
			t.Errorf("mode = %v, want %s", payload["mode"], mode)
		}
	}

	if got := len(em.kinds()); got != 4 {
		t.Errorf("emitted %d records, want 4", got)
	}
}

func TestMachine_SameModeIsNoop(t *testing.T) {
	m, em := newConnectedMachine(t, Options{StartMode: ModeIdle})
	mustSucceed(t, m.Handle(context.Background(), request(types.MethodPatch, resource.DE1Mode, map[string]any{"mode": "idle"})))
	if len(em.kinds()) != 0 {
		t.Errorf("no-op transition emitted telemetry: %v", em.kinds())
	}
}

func TestMachine_IdlePrecondition(t *testing.T) {
	m, _ := newConnectedMachine(t, Options{StartMode: ModeEspresso})

	resp := m.Handle(context.Background(), request(types.MethodPut, resource.DE1Profile, []byte(`{"title":"x"}`),
		types.PreconditionDE1Connected, types.PreconditionDE1Idle))
	mustFail(t, resp, types.ErrorKindUnsupportedStateTransition)
}

func TestMachine_Profile(t *testing.T) {
	m, _ := newConnectedMachine(t, Options{StartMode: ModeIdle})
	ctx := context.Background()

	resp := m.Handle(ctx, request(types.MethodPut, resource.DE1Profile, []byte("not json")))
	mustFail(t, resp, types.ErrorKindGenericAPI)

	payload := mustSucceed(t, m.Handle(ctx, request(types.MethodPut, resource.DE1Profile, []byte(`{"title":"Londinium","steps":[]}`))))
	if payload["title"] != "Londinium" {
		t.Errorf("title = %v", payload["title"])
	}
	if payload["bytes"] != 32 {
		t.Errorf("bytes = %v, want 32", payload["bytes"])
	}

	got := mustSucceed(t, m.Handle(ctx, request(types.MethodGet, resource.DE1Profile, nil)))
	if !reflect.DeepEqual(got, payload) {
		t.Errorf("GET profile = %v, want %v", got, payload)
	}
}

func TestMachine_ProfilePatch(t *testing.T) {
	m, _ := newConnectedMachine(t, Options{StartMode: ModeIdle})
	ctx := context.Background()

	payload := mustSucceed(t, m.Handle(ctx, request(types.MethodPatch, resource.DE1Profile, map[string]any{"title": "Blooming"})))
	if payload["title"] != "Blooming" {
		t.Errorf("title = %v", payload["title"])
	}

	resp := m.Handle(ctx, request(types.MethodPatch, resource.DE1Profile, []any{"a"}))
	mustFail(t, resp, types.ErrorKindGenericAPI)
}

func TestMachine_TankPreheatNeedsFirmware(t *testing.T) {
	m, _ := newConnectedMachine(t, Options{Firmware: 1100})
	resp := m.Handle(context.Background(), request(types.MethodPatch, resource.DE1TankTemperature, map[string]any{"temperature": 30.0}))
	mustFail(t, resp, types.ErrorKindUnsupportedFeature)

	m, _ = newConnectedMachine(t, Options{})
	payload := mustSucceed(t, m.Handle(context.Background(), request(types.MethodPatch, resource.DE1TankTemperature, map[string]any{"temperature": int64(30)})))
	if payload["temperature"] != 30.0 {
		t.Errorf("temperature = %v", payload["temperature"])
	}
}

func TestMachine_IdempotentGet(t *testing.T) {
	clock := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	m, _ := newConnectedMachine(t, Options{Now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}})
	ctx := context.Background()

	first := m.Handle(ctx, request(types.MethodGet, resource.DE1State, nil))
	second := m.Handle(ctx, request(types.MethodGet, resource.DE1State, nil))

	if !first.Timestamp.Equal(second.Timestamp) {
		t.Errorf("timestamps differ: %v vs %v", first.Timestamp, second.Timestamp)
	}
	if !reflect.DeepEqual(first.Payload, second.Payload) {
		t.Errorf("payloads differ: %v vs %v", first.Payload, second.Payload)
	}

	mustSucceed(t, m.Handle(ctx, request(types.MethodPatch, resource.DE1Mode, map[string]any{"mode": "idle"})))
	third := m.Handle(ctx, request(types.MethodGet, resource.DE1State, nil))
	if !third.Timestamp.After(first.Timestamp) {
		t.Errorf("state timestamp not advanced after mode change")
	}
}

func TestMachine_ConnectivityToggle(t *testing.T) {
	m, em := newConnectedMachine(t, Options{StartMode: ModeEspresso})
	ctx := context.Background()

	payload := mustSucceed(t, m.Handle(ctx, request(types.MethodPatch, resource.Connectivity, map[string]any{"de1": "disconnect"})))
	if payload["de1"] != "disconnected" {
		t.Errorf("de1 = %v", payload["de1"])
	}
	mode, de1, scale := m.Snapshot()
	if de1 || !scale {
		t.Errorf("connectivity = %v/%v", de1, scale)
	}
	if mode != ModeIdle {
		t.Errorf("mode after disconnect = %s, want idle", mode)
	}

	mustFail(t, m.Handle(ctx, request(types.MethodGet, resource.DE1State, nil, types.PreconditionDE1Connected)), types.ErrorKindNotConnected)

	kinds := em.kinds()
	if len(kinds) != 1 || kinds[0] != types.TelemetryKindConnectivity {
		t.Errorf("telemetry kinds = %v", kinds)
	}
}

func TestMachine_ControlMerge(t *testing.T) {
	m, _ := newConnectedMachine(t, Options{})
	ctx := context.Background()

	mustSucceed(t, m.Handle(ctx, request(types.MethodPatch, resource.DE1Control, map[string]any{"stop_at_weight": 36.0, "stop_at_time": 30.0})))
	got := mustSucceed(t, m.Handle(ctx, request(types.MethodPatch, resource.DE1Control, map[string]any{"stop_at_time": nil})))

	want := map[string]any{"stop_at_weight": 36.0}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("control = %v, want %v", got, want)
	}
}

func TestMachine_Availability(t *testing.T) {
	m, _ := newConnectedMachine(t, Options{StartMode: ModeIdle})
	got := mustSucceed(t, m.Handle(context.Background(), request(types.MethodGet, resource.DE1Availability, nil)))
	want := []string{"espresso", "flush", "hot_water", "sleep", "steam"}
	if !reflect.DeepEqual(got["allowed"], want) {
		t.Errorf("allowed = %v, want %v", got["allowed"], want)
	}
}

func TestMachine_Tare(t *testing.T) {
	m, _ := newConnectedMachine(t, Options{})
	m.scaleWeight = 18.2
	got := mustSucceed(t, m.Handle(context.Background(), request(types.MethodPatch, resource.ScaleTare, map[string]any{"tare": true})))
	if got["weight"] != 0.0 {
		t.Errorf("weight = %v, want 0", got["weight"])
	}
}

func TestRunTelemetry_ShotSamples(t *testing.T) {
	m, em := newConnectedMachine(t, Options{StartMode: ModeEspresso})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.RunTelemetry(ctx, 5*time.Millisecond, time.Hour)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(em.kinds()) >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	kinds := em.kinds()
	if len(kinds) < 3 {
		t.Fatalf("got %d records, want at least 3", len(kinds))
	}
	for _, k := range kinds {
		if k != types.TelemetryKindShotSample {
			t.Errorf("kind = %s, want shot_sample", k)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Mode
		want     bool
	}{
		{ModeSleep, ModeIdle, true},
		{ModeSleep, ModeSteam, false},
		{ModeIdle, ModeFlush, true},
		{ModeEspresso, ModeSteam, false},
		{ModeEspresso, ModeIdle, true},
		{ModeHotWater, ModeHotWater, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNewRecordID_Monotonic(t *testing.T) {
	now := time.Now()
	prev := newRecordID(now)
	for range 100 {
		next := newRecordID(now)
		if next <= prev {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}
