// Package resource holds the static resource table served by the inbound
// gateway and the patch validator that guards it.
//
// The table is fixed at build time. Capability flags and preconditions
// never change for the lifetime of a process.
package resource

import (
	"sort"
	"strings"

	"github.com/pithecene-io/de1gate/types"
)

// ID names a resource, as it appears in the request path.
type ID string

// Resource identifiers.
const (
	Version            ID = "version"
	DE1State           ID = "de1/state"
	DE1Mode            ID = "de1/mode"
	DE1Profile         ID = "de1/profile"
	DE1Firmware        ID = "de1/firmware"
	DE1FanThreshold    ID = "de1/settings/fan_threshold"
	DE1TankTemperature ID = "de1/settings/tank_temperature"
	DE1Control         ID = "de1/control"
	DE1Availability    ID = "de1/availability"
	Scale              ID = "scale"
	ScaleTare          ID = "scale/tare"
	Connectivity       ID = "connectivity"
)

// PutResource is the only resource PUT is implemented for.
const PutResource = DE1Profile

// Capabilities are the verbs a resource accepts.
type Capabilities struct {
	CanGet   bool `json:"can_get" yaml:"can_get"`
	CanPatch bool `json:"can_patch" yaml:"can_patch"`
	CanPut   bool `json:"can_put" yaml:"can_put"`
}

// Allows reports whether m is permitted.
func (c Capabilities) Allows(m types.Method) bool {
	switch m {
	case types.MethodGet:
		return c.CanGet
	case types.MethodPatch:
		return c.CanPatch
	case types.MethodPut:
		return c.CanPut
	default:
		return false
	}
}

// Entry is one row of the resource table.
type Entry struct {
	ID           ID
	Capabilities Capabilities
	// Preconditions apply to every request on the resource.
	Preconditions types.PreconditionSet
	// WritePreconditions additionally apply to PATCH and PUT.
	WritePreconditions types.PreconditionSet
	// Binary resources take an opaque PUT body that is forwarded unparsed.
	Binary      bool
	Description string

	// schema is the JSON Schema for PATCH bodies, if any.
	schema string
	// fieldPreconditions adds preconditions when a top-level field is
	// present in a PATCH body.
	fieldPreconditions map[string]types.PreconditionSet
}

var (
	de1Connected   = types.NewPreconditionSet(types.PreconditionDE1Connected)
	scaleConnected = types.NewPreconditionSet(types.PreconditionScaleConnected)
	de1Idle        = types.NewPreconditionSet(types.PreconditionDE1Idle)
)

var table = []Entry{
	{
		ID:           Version,
		Capabilities: Capabilities{CanGet: true},
		Description:  "control plane and contract versions",
	},
	{
		ID:            DE1State,
		Capabilities:  Capabilities{CanGet: true},
		Preconditions: de1Connected,
		Description:   "current machine state and substate",
	},
	{
		ID:            DE1Mode,
		Capabilities:  Capabilities{CanGet: true, CanPatch: true},
		Preconditions: de1Connected,
		Description:   "requested machine mode",
		schema:        modeSchema,
	},
	{
		ID:                 DE1Profile,
		Capabilities:       Capabilities{CanGet: true, CanPatch: true, CanPut: true},
		Preconditions:      de1Connected,
		WritePreconditions: de1Idle,
		Binary:             true,
		Description:        "active shot profile",
	},
	{
		ID:                 DE1Firmware,
		Capabilities:       Capabilities{CanGet: true, CanPut: true},
		Preconditions:      de1Connected,
		WritePreconditions: de1Idle,
		Binary:             true,
		Description:        "firmware version; upload not implemented",
	},
	{
		ID:            DE1FanThreshold,
		Capabilities:  Capabilities{CanGet: true, CanPatch: true},
		Preconditions: de1Connected,
		Description:   "group head fan threshold in degrees C",
		schema:        fanThresholdSchema,
	},
	{
		ID:            DE1TankTemperature,
		Capabilities:  Capabilities{CanGet: true, CanPatch: true},
		Preconditions: de1Connected,
		Description:   "water tank preheat target in degrees C",
		schema:        tankTemperatureSchema,
	},
	{
		ID:           DE1Control,
		Capabilities: Capabilities{CanGet: true, CanPatch: true},
		Description:  "shot stop limits",
		schema:       controlSchema,
		fieldPreconditions: map[string]types.PreconditionSet{
			"stop_at_weight":        scaleConnected,
			"first_drops_threshold": scaleConnected,
		},
	},
	{
		ID:           DE1Availability,
		Capabilities: Capabilities{CanGet: true},
		Description:  "which modes can be requested from the current state",
	},
	{
		ID:            Scale,
		Capabilities:  Capabilities{CanGet: true},
		Preconditions: scaleConnected,
		Description:   "current scale reading",
	},
	{
		ID:            ScaleTare,
		Capabilities:  Capabilities{CanPatch: true},
		Preconditions: scaleConnected,
		Description:   "tare the scale",
		schema:        tareSchema,
	},
	{
		ID:           Connectivity,
		Capabilities: Capabilities{CanGet: true, CanPatch: true},
		Description:  "device connection state",
		schema:       connectivitySchema,
	},
}

// Registry is a read-only lookup over the resource table.
type Registry struct {
	entries map[ID]Entry
}

// NewRegistry returns the registry for the built-in resource table.
func NewRegistry() *Registry {
	entries := make(map[ID]Entry, len(table))
	for _, e := range table {
		entries[e.ID] = e
	}
	return &Registry{entries: entries}
}

// Lookup resolves a path to a resource. Leading and trailing slashes are
// ignored.
func (r *Registry) Lookup(path string) (Entry, bool) {
	e, ok := r.entries[ID(strings.Trim(path, "/"))]
	return e, ok
}

// Capabilities returns the verbs allowed on id.
func (r *Registry) Capabilities(id ID) (Capabilities, bool) {
	e, ok := r.entries[id]
	return e.Capabilities, ok
}

// Preconditions returns the static precondition set for id.
func (r *Registry) Preconditions(id ID) types.PreconditionSet {
	return r.entries[id].Preconditions
}

// Entries returns every resource sorted by id.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
