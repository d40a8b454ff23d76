package controller

import (
	"context"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pithecene-io/de1gate/ipc"
	"github.com/pithecene-io/de1gate/resource"
	"github.com/pithecene-io/de1gate/types"
)

// Emitter receives telemetry records.
type Emitter interface {
	Emit(rec *types.TelemetryRecord) error
}

type discardEmitter struct{}

func (discardEmitter) Emit(*types.TelemetryRecord) error { return nil }

// PipeEmitter writes records as frames on the outbound pipe.
type PipeEmitter struct {
	enc *ipc.FrameEncoder
}

// NewPipeEmitter returns an emitter writing to w.
func NewPipeEmitter(w io.Writer) *PipeEmitter {
	return &PipeEmitter{enc: ipc.NewFrameEncoder(w)}
}

// Emit writes rec as one frame.
func (p *PipeEmitter) Emit(rec *types.TelemetryRecord) error {
	return p.enc.WriteFrame(rec)
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// newRecordID returns a ULID that sorts after every id previously issued
// by this process.
func newRecordID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// RunTelemetry emits a shot sample every sampleEvery while water is
// flowing and a full state record every stateEvery. It returns when ctx
// is canceled.
func (m *Machine) RunTelemetry(ctx context.Context, sampleEvery, stateEvery time.Duration) {
	samples := time.NewTicker(sampleEvery)
	defer samples.Stop()
	states := time.NewTicker(stateEvery)
	defer states.Stop()

	var shotStart time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-states.C:
			m.mu.Lock()
			m.emit(types.TelemetryKindState, resource.DE1State, m.stateLocked())
			m.mu.Unlock()
		case now := <-samples.C:
			m.mu.Lock()
			if !m.mode.Active() {
				shotStart = time.Time{}
				m.mu.Unlock()
				continue
			}
			if shotStart.IsZero() {
				shotStart = now
			}
			elapsed := now.Sub(shotStart).Seconds()
			if m.mode == ModeEspresso && m.scaleConnected {
				m.scaleWeight += 0.2 * elapsed / (1 + elapsed)
			}
			m.emit(types.TelemetryKindShotSample, resource.DE1State, map[string]any{
				"mode":     string(m.mode),
				"elapsed":  math.Round(elapsed*100) / 100,
				"pressure": math.Round(9*(1-math.Exp(-elapsed))*100) / 100,
				"flow":     math.Round(2*(1-math.Exp(-elapsed/2))*100) / 100,
				"weight":   math.Round(m.scaleWeight*10) / 10,
			})
			m.mu.Unlock()
		}
	}
}
