// Package controller is the reference appliance controller served on the
// request pipe.
//
// It simulates a machine with connectivity flags, a mode state machine,
// a shot profile and a handful of settings. It never talks to hardware.
// Every state change is reported as a telemetry record.
package controller

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pithecene-io/de1gate/log"
	"github.com/pithecene-io/de1gate/metrics"
	"github.com/pithecene-io/de1gate/resource"
	"github.com/pithecene-io/de1gate/types"
)

// tankPreheatMinFirmware is the first firmware build with tank preheat.
const tankPreheatMinFirmware = 1250

// Options configures a Machine.
type Options struct {
	// Firmware is the simulated firmware build number.
	Firmware int
	// StartMode is the initial mode. Defaults to sleep.
	StartMode Mode
	// DE1Connected and ScaleConnected set the initial connectivity.
	DE1Connected   bool
	ScaleConnected bool

	Emitter Emitter
	Logger  *log.Logger
	Metrics *metrics.Collector
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Machine is the simulated appliance.
type Machine struct {
	mu sync.Mutex

	firmware       int
	mode           Mode
	de1Connected   bool
	scaleConnected bool

	profile      []byte
	profileTitle string

	fanThreshold    int
	tankTemperature float64
	control         map[string]any
	scaleWeight     float64

	// updated records the last change per resource, reported as the
	// response timestamp so repeated reads are byte-identical.
	updated map[resource.ID]time.Time

	emitter Emitter
	logger  *log.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewMachine builds a machine with opts.
func NewMachine(opts Options) *Machine {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	mode := opts.StartMode
	if mode == "" {
		mode = ModeSleep
	}
	firmware := opts.Firmware
	if firmware == 0 {
		firmware = 1333
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	emitter := opts.Emitter
	if emitter == nil {
		emitter = discardEmitter{}
	}

	start := now()
	updated := make(map[resource.ID]time.Time)
	for _, e := range resource.NewRegistry().Entries() {
		updated[e.ID] = start
	}

	return &Machine{
		firmware:        firmware,
		mode:            mode,
		de1Connected:    opts.DE1Connected,
		scaleConnected:  opts.ScaleConnected,
		fanThreshold:    50,
		tankTemperature: 0,
		control:         map[string]any{},
		updated:         updated,
		emitter:         emitter,
		logger:          logger,
		metrics:         opts.Metrics,
		now:             now,
	}
}

// Handle serves one request. It implements ipc.Handler.
func (m *Machine) Handle(_ context.Context, req *types.RequestEnvelope) *types.ResponseEnvelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.metrics.IncRequestServed()

	id := resource.ID(req.Resource)
	if desc := m.checkPreconditions(req.ConnectivityRequired); desc != nil {
		return m.fail(req, desc)
	}

	var (
		payload map[string]any
		err     error
	)
	switch req.Method {
	case types.MethodGet:
		payload, err = m.get(id)
	case types.MethodPatch:
		payload, err = m.patch(id, req)
	case types.MethodPut:
		payload, err = m.put(id, req)
	default:
		err = types.GenericAPIError("unsupported method %s", req.Method)
	}
	if err != nil {
		return m.fail(req, types.DescribeError(err))
	}

	return &types.ResponseEnvelope{
		ID:        req.ID,
		Timestamp: m.updated[id],
		Payload:   payload,
	}
}

func (m *Machine) fail(req *types.RequestEnvelope, desc *types.ErrorDescriptor) *types.ResponseEnvelope {
	m.logger.Info("request rejected", map[string]any{
		"id":       req.ID,
		"method":   string(req.Method),
		"resource": req.Resource,
		"kind":     desc.Kind.String(),
		"detail":   desc.Detail,
	})
	return &types.ResponseEnvelope{ID: req.ID, Timestamp: m.now(), Exception: desc}
}

func (m *Machine) checkPreconditions(pre types.PreconditionSet) *types.ErrorDescriptor {
	for _, p := range pre {
		switch p {
		case types.PreconditionDE1Connected:
			if !m.de1Connected {
				return types.NotConnected("DE1 not connected")
			}
		case types.PreconditionScaleConnected:
			if !m.scaleConnected {
				return types.NotConnected("scale not connected")
			}
		case types.PreconditionDE1Idle:
			if m.mode != ModeIdle && m.mode != ModeSleep {
				return types.UnsupportedStateTransition("DE1 must be idle, currently %s", m.mode)
			}
		default:
			return types.GenericAPIError("unknown precondition %q", p)
		}
	}
	return nil
}

func (m *Machine) get(id resource.ID) (map[string]any, error) {
	switch id {
	case resource.Version:
		return map[string]any{
			"de1gate":  types.Version,
			"contract": types.ContractVersion,
		}, nil
	case resource.DE1State:
		return m.stateLocked(), nil
	case resource.DE1Mode:
		return map[string]any{"mode": string(m.mode)}, nil
	case resource.DE1Profile:
		return m.profileLocked(), nil
	case resource.DE1Firmware:
		return map[string]any{"version": m.firmware, "model": "simulated"}, nil
	case resource.DE1FanThreshold:
		return map[string]any{"threshold": m.fanThreshold}, nil
	case resource.DE1TankTemperature:
		return map[string]any{"temperature": m.tankTemperature}, nil
	case resource.DE1Control:
		out := make(map[string]any, len(m.control))
		for k, v := range m.control {
			out[k] = v
		}
		return out, nil
	case resource.DE1Availability:
		allowed := Allowed(m.mode)
		names := make([]string, len(allowed))
		for i, a := range allowed {
			names[i] = string(a)
		}
		sort.Strings(names)
		return map[string]any{"mode": string(m.mode), "allowed": names}, nil
	case resource.Scale:
		return map[string]any{"weight": m.scaleWeight}, nil
	case resource.Connectivity:
		return m.connectivityLocked(), nil
	default:
		return nil, types.GenericAPIError("GET not handled for %s", id)
	}
}

func (m *Machine) patch(id resource.ID, req *types.RequestEnvelope) (map[string]any, error) {
	if id == resource.DE1Profile {
		raw, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, types.GenericAPIError("profile is not encodable: %v", err)
		}
		return m.storeProfile(raw)
	}

	fields, ok := req.Payload.(map[string]any)
	if !ok {
		return nil, types.GenericAPIError("patch for %s must be an object", id)
	}

	switch id {
	case resource.DE1Mode:
		return m.setMode(fields)
	case resource.DE1FanThreshold:
		v, ok := number(fields["threshold"])
		if !ok {
			return nil, types.GenericAPIError("threshold must be a number")
		}
		m.fanThreshold = int(v)
		m.touch(id, map[string]any{"threshold": m.fanThreshold})
		return map[string]any{"threshold": m.fanThreshold}, nil
	case resource.DE1TankTemperature:
		if m.firmware < tankPreheatMinFirmware {
			return nil, types.UnsupportedFeature("tank preheat requires firmware %d or later, have %d",
				tankPreheatMinFirmware, m.firmware)
		}
		v, ok := number(fields["temperature"])
		if !ok {
			return nil, types.GenericAPIError("temperature must be a number")
		}
		m.tankTemperature = v
		m.touch(id, map[string]any{"temperature": v})
		return map[string]any{"temperature": v}, nil
	case resource.DE1Control:
		for k, v := range fields {
			if v == nil {
				delete(m.control, k)
				continue
			}
			f, ok := number(v)
			if !ok {
				return nil, types.GenericAPIError("%s must be a number or null", k)
			}
			m.control[k] = f
		}
		m.touch(id, fields)
		return m.get(id)
	case resource.ScaleTare:
		m.scaleWeight = 0
		m.touch(resource.Scale, map[string]any{"weight": 0.0})
		m.updated[resource.ScaleTare] = m.updated[resource.Scale]
		return map[string]any{"tare": true, "weight": m.scaleWeight}, nil
	case resource.Connectivity:
		return m.setConnectivity(fields)
	default:
		return nil, types.GenericAPIError("PATCH not handled for %s", id)
	}
}

func (m *Machine) put(id resource.ID, req *types.RequestEnvelope) (map[string]any, error) {
	if id != resource.DE1Profile {
		return nil, types.UnsupportedFeature("PUT not supported for %s", id)
	}
	return m.storeProfile(req.Raw)
}

func (m *Machine) setMode(fields map[string]any) (map[string]any, error) {
	name, _ := fields["mode"].(string)
	target := Mode(name)
	if _, known := transitions[target]; !known {
		return nil, types.GenericAPIError("unknown mode %q", name)
	}
	if !CanTransition(m.mode, target) {
		return nil, types.UnsupportedStateTransition("cannot change mode from %s to %s", m.mode, target)
	}
	if target != m.mode {
		prev := m.mode
		m.mode = target
		m.touch(resource.DE1Mode, map[string]any{"mode": string(target), "previous": string(prev)})
		m.updated[resource.DE1State] = m.updated[resource.DE1Mode]
		m.updated[resource.DE1Availability] = m.updated[resource.DE1Mode]
		m.logger.Info("mode changed", map[string]any{"from": string(prev), "to": string(target)})
	}
	return map[string]any{"mode": string(m.mode)}, nil
}

func (m *Machine) setConnectivity(fields map[string]any) (map[string]any, error) {
	for device, action := range fields {
		connect := action == "connect"
		switch device {
		case "de1":
			m.de1Connected = connect
			if !connect && m.mode.Active() {
				m.mode = ModeIdle
			}
		case "scale":
			m.scaleConnected = connect
		default:
			return nil, types.UnsupportedFeature("unknown device %q", device)
		}
	}
	state := m.connectivityLocked()
	m.updated[resource.Connectivity] = m.now()
	m.emit(types.TelemetryKindConnectivity, resource.Connectivity, state)
	return state, nil
}

// storeProfile accepts a JSON profile document, as uploaded by clients.
func (m *Machine) storeProfile(raw []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, types.GenericAPIError("profile is not a JSON object: %v", err)
	}
	m.profile = append([]byte(nil), raw...)
	m.profileTitle, _ = doc["title"].(string)
	summary := m.profileLocked()
	m.touch(resource.DE1Profile, summary)
	return summary, nil
}

func (m *Machine) profileLocked() map[string]any {
	if m.profile == nil {
		return map[string]any{"id": nil, "title": nil, "bytes": 0}
	}
	sum := sha256.Sum256(m.profile)
	return map[string]any{
		"id":    hex.EncodeToString(sum[:8]),
		"title": m.profileTitle,
		"bytes": len(m.profile),
	}
}

func (m *Machine) stateLocked() map[string]any {
	return map[string]any{
		"mode":     string(m.mode),
		"substate": m.mode.substate(),
	}
}

func (m *Machine) connectivityLocked() map[string]any {
	status := func(b bool) string {
		if b {
			return "connected"
		}
		return "disconnected"
	}
	return map[string]any{
		"de1":   status(m.de1Connected),
		"scale": status(m.scaleConnected),
	}
}

// touch marks id as changed and reports the change.
func (m *Machine) touch(id resource.ID, payload map[string]any) {
	m.updated[id] = m.now()
	m.emit(types.TelemetryKindState, id, payload)
}

func (m *Machine) emit(kind types.TelemetryKind, id resource.ID, payload map[string]any) {
	rec := &types.TelemetryRecord{
		ID:        newRecordID(m.now()),
		Timestamp: m.now(),
		Kind:      kind,
		Resource:  string(id),
		Payload:   payload,
	}
	if err := m.emitter.Emit(rec); err != nil {
		m.logger.Warn("failed to emit telemetry", map[string]any{
			"kind":  string(kind),
			"error": err.Error(),
		})
		return
	}
	m.metrics.IncTelemetryEmit()
}

// Snapshot returns the current mode and connectivity.
func (m *Machine) Snapshot() (Mode, bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode, m.de1Connected, m.scaleConnected
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}
