// Package metrics provides in-process counters for a worker or the
// supervisor.
//
// The Collector accumulates counters for the lifetime of one process and
// is logged as a Snapshot at shutdown. It is a leaf package with no
// internal dependencies.
package metrics

import (
	"sync"
	"time"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Gateway
	RequestsTotal     int64
	ResponsesByStatus map[int]int64
	RPCTimeouts       int64
	RPCTransportFails int64
	Throttled         int64

	// Controller
	RequestsServed  int64
	IPCDecodeErrors int64
	TelemetryEmit   int64

	// Publisher
	TelemetryReceived  int64
	SinkPublished      map[string]int64
	SinkFailed         map[string]int64
	SinkDroppedOpen    map[string]int64
	SinkDroppedFull    map[string]int64
	TelemetryDecodeErr int64

	// Supervisor
	WorkersSpawned   int64
	WorkerSpawnFails int64
	WorkersExited    int64
	WorkersKilled    int64
	ShutdownDuration time.Duration

	// Log aggregator (absorbed at shutdown)
	LogLinesWritten int64
	LogLinesDropped int64
	LogRotations    int64

	// Dimensions (informational, set at construction)
	Role string
}

// Collector accumulates counters for one process.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	requestsTotal     int64
	responsesByStatus map[int]int64
	rpcTimeouts       int64
	rpcTransportFails int64
	throttled         int64

	requestsServed  int64
	ipcDecodeErrors int64
	telemetryEmit   int64

	telemetryReceived  int64
	sinkPublished      map[string]int64
	sinkFailed         map[string]int64
	sinkDroppedOpen    map[string]int64
	sinkDroppedFull    map[string]int64
	telemetryDecodeErr int64

	workersSpawned   int64
	workerSpawnFails int64
	workersExited    int64
	workersKilled    int64
	shutdownDuration time.Duration

	logLinesWritten int64
	logLinesDropped int64
	logRotations    int64

	role string
}

// NewCollector creates a Collector labelled with the process role.
func NewCollector(role string) *Collector {
	return &Collector{
		responsesByStatus: make(map[int]int64),
		sinkPublished:     make(map[string]int64),
		sinkFailed:        make(map[string]int64),
		sinkDroppedOpen:   make(map[string]int64),
		sinkDroppedFull:   make(map[string]int64),
		role:              role,
	}
}

func (c *Collector) inc(field *int64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

func (c *Collector) incKey(m map[string]int64, key string) {
	c.mu.Lock()
	m[key]++
	c.mu.Unlock()
}

// --- Gateway ---

// IncRequest records an accepted HTTP request.
func (c *Collector) IncRequest() {
	if c == nil {
		return
	}
	c.inc(&c.requestsTotal)
}

// IncStatus records the HTTP status of a reply.
func (c *Collector) IncStatus(code int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.responsesByStatus[code]++
	c.mu.Unlock()
}

// IncRPCTimeout records an RPC that exceeded its deadline.
func (c *Collector) IncRPCTimeout() {
	if c == nil {
		return
	}
	c.inc(&c.rpcTimeouts)
}

// IncRPCTransportFail records a pipe failure during an RPC.
func (c *Collector) IncRPCTransportFail() {
	if c == nil {
		return
	}
	c.inc(&c.rpcTransportFails)
}

// IncThrottled records a request rejected by the rate limiter.
func (c *Collector) IncThrottled() {
	if c == nil {
		return
	}
	c.inc(&c.throttled)
}

// --- Controller ---

// IncRequestServed records a request answered by the controller.
func (c *Collector) IncRequestServed() {
	if c == nil {
		return
	}
	c.inc(&c.requestsServed)
}

// IncIPCDecodeErrors records an undecodable frame.
func (c *Collector) IncIPCDecodeErrors() {
	if c == nil {
		return
	}
	c.inc(&c.ipcDecodeErrors)
}

// IncTelemetryEmit records a telemetry record written to the outbound pipe.
func (c *Collector) IncTelemetryEmit() {
	if c == nil {
		return
	}
	c.inc(&c.telemetryEmit)
}

// --- Publisher ---

// IncTelemetryReceived records a telemetry record read from the pipe.
func (c *Collector) IncTelemetryReceived() {
	if c == nil {
		return
	}
	c.inc(&c.telemetryReceived)
}

// IncTelemetryDecodeErr records an undecodable telemetry frame.
func (c *Collector) IncTelemetryDecodeErr() {
	if c == nil {
		return
	}
	c.inc(&c.telemetryDecodeErr)
}

// IncSinkPublished records a successful publish to sink.
func (c *Collector) IncSinkPublished(sink string) {
	if c == nil {
		return
	}
	c.incKey(c.sinkPublished, sink)
}

// IncSinkFailed records a failed publish to sink after retries.
func (c *Collector) IncSinkFailed(sink string) {
	if c == nil {
		return
	}
	c.incKey(c.sinkFailed, sink)
}

// IncSinkDroppedOpen records a record skipped because sink's breaker is open.
func (c *Collector) IncSinkDroppedOpen(sink string) {
	if c == nil {
		return
	}
	c.incKey(c.sinkDroppedOpen, sink)
}

// IncSinkDroppedFull records a record skipped because sink's queue was full.
func (c *Collector) IncSinkDroppedFull(sink string) {
	if c == nil {
		return
	}
	c.incKey(c.sinkDroppedFull, sink)
}

// --- Supervisor ---

// IncWorkerSpawned records a successful worker spawn.
func (c *Collector) IncWorkerSpawned() {
	if c == nil {
		return
	}
	c.inc(&c.workersSpawned)
}

// IncWorkerSpawnFail records a failed worker spawn.
func (c *Collector) IncWorkerSpawnFail() {
	if c == nil {
		return
	}
	c.inc(&c.workerSpawnFails)
}

// IncWorkerExited records a reaped worker.
func (c *Collector) IncWorkerExited() {
	if c == nil {
		return
	}
	c.inc(&c.workersExited)
}

// IncWorkerKilled records a worker killed at the shutdown deadline.
func (c *Collector) IncWorkerKilled() {
	if c == nil {
		return
	}
	c.inc(&c.workersKilled)
}

// SetShutdownDuration records how long the teardown took.
func (c *Collector) SetShutdownDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.shutdownDuration = d
	c.mu.Unlock()
}

// AbsorbLogStats copies log aggregator counters into the collector.
// Called once after the aggregator has stopped.
func (c *Collector) AbsorbLogStats(written, dropped, rotations int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.logLinesWritten = written
	c.logLinesDropped = dropped
	c.logRotations = rotations
	c.mu.Unlock()
}

// --- Snapshot ---

func copyMap[K comparable](m map[K]int64) map[K]int64 {
	out := make(map[K]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		RequestsTotal:     c.requestsTotal,
		ResponsesByStatus: copyMap(c.responsesByStatus),
		RPCTimeouts:       c.rpcTimeouts,
		RPCTransportFails: c.rpcTransportFails,
		Throttled:         c.throttled,

		RequestsServed:  c.requestsServed,
		IPCDecodeErrors: c.ipcDecodeErrors,
		TelemetryEmit:   c.telemetryEmit,

		TelemetryReceived:  c.telemetryReceived,
		SinkPublished:      copyMap(c.sinkPublished),
		SinkFailed:         copyMap(c.sinkFailed),
		SinkDroppedOpen:    copyMap(c.sinkDroppedOpen),
		SinkDroppedFull:    copyMap(c.sinkDroppedFull),
		TelemetryDecodeErr: c.telemetryDecodeErr,

		WorkersSpawned:   c.workersSpawned,
		WorkerSpawnFails: c.workerSpawnFails,
		WorkersExited:    c.workersExited,
		WorkersKilled:    c.workersKilled,
		ShutdownDuration: c.shutdownDuration,

		LogLinesWritten: c.logLinesWritten,
		LogLinesDropped: c.logLinesDropped,
		LogRotations:    c.logRotations,

		Role: c.role,
	}
}

// Fields returns the non-zero counters as log fields. The role is left
// out; process loggers already carry it.
func (s Snapshot) Fields() map[string]any {
	fields := map[string]any{}
	add := func(k string, v int64) {
		if v != 0 {
			fields[k] = v
		}
	}
	add("requests_total", s.RequestsTotal)
	add("rpc_timeouts", s.RPCTimeouts)
	add("rpc_transport_failures", s.RPCTransportFails)
	add("throttled", s.Throttled)
	add("requests_served", s.RequestsServed)
	add("ipc_decode_errors", s.IPCDecodeErrors)
	add("telemetry_emitted", s.TelemetryEmit)
	add("telemetry_received", s.TelemetryReceived)
	add("telemetry_decode_errors", s.TelemetryDecodeErr)
	add("workers_spawned", s.WorkersSpawned)
	add("worker_spawn_failures", s.WorkerSpawnFails)
	add("workers_exited", s.WorkersExited)
	add("workers_killed", s.WorkersKilled)
	add("log_lines_written", s.LogLinesWritten)
	add("log_lines_dropped", s.LogLinesDropped)
	add("log_rotations", s.LogRotations)
	if s.ShutdownDuration > 0 {
		fields["shutdown_ms"] = s.ShutdownDuration.Milliseconds()
	}
	if len(s.ResponsesByStatus) > 0 {
		fields["responses_by_status"] = s.ResponsesByStatus
	}
	for name, m := range map[string]map[string]int64{
		"sink_published":    s.SinkPublished,
		"sink_failed":       s.SinkFailed,
		"sink_dropped_open": s.SinkDroppedOpen,
		"sink_dropped_full": s.SinkDroppedFull,
	} {
		if len(m) > 0 {
			fields[name] = m
		}
	}
	return fields
}
