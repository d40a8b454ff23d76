package supervisor

import (
	"fmt"
	"net"
	"os"

	"github.com/prep/socketpair"

	"github.com/pithecene-io/de1gate/iox"
	"github.com/pithecene-io/de1gate/types"
)

// File descriptor numbers of the pipes inside each worker.
const (
	// ControllerRPCFD is the controller's end of the request pipe.
	ControllerRPCFD = 3
	// ControllerTelemetryFD is the write end of the telemetry pipe.
	ControllerTelemetryFD = 4
	// InboundRPCFD is the gateway's end of the request pipe.
	InboundRPCFD = 3
	// OutboundTelemetryFD is the read end of the telemetry pipe.
	OutboundTelemetryFD = 3
)

// WorkerFile returns the inherited pipe at fd inside a worker.
func WorkerFile(fd int, name string) *os.File {
	return os.NewFile(uintptr(fd), name)
}

// pipes holds the supervisor's copies of the worker pipes until every
// worker has inherited its ends.
type pipes struct {
	rpcController *os.File
	rpcInbound    *os.File
	telemetryR    *os.File
	telemetryW    *os.File
}

// newPipes creates the duplex request pipe (a unix socketpair) and the
// simplex telemetry pipe.
func newPipes() (*pipes, error) {
	a, b, err := socketpair.New("unix")
	if err != nil {
		return nil, fmt.Errorf("failed to create request socketpair: %w", err)
	}
	defer iox.DiscardClose(a)
	defer iox.DiscardClose(b)

	ctrl, err := connFile(a)
	if err != nil {
		return nil, err
	}
	inb, err := connFile(b)
	if err != nil {
		iox.DiscardClose(ctrl)
		return nil, err
	}

	r, w, err := os.Pipe()
	if err != nil {
		_ = iox.CloseAll(ctrl, inb)
		return nil, fmt.Errorf("failed to create telemetry pipe: %w", err)
	}

	return &pipes{rpcController: ctrl, rpcInbound: inb, telemetryR: r, telemetryW: w}, nil
}

// connFile duplicates the socket so it can be passed to a child; the
// caller still owns c.
func connFile(c net.Conn) (*os.File, error) {
	fc, ok := c.(interface{ File() (*os.File, error) })
	if !ok {
		return nil, fmt.Errorf("socketpair end %T has no file descriptor", c)
	}
	f, err := fc.File()
	if err != nil {
		return nil, fmt.Errorf("failed to duplicate socket: %w", err)
	}
	return f, nil
}

// filesFor returns a worker's ExtraFiles in fd order.
func (p *pipes) filesFor(role types.Role) []*os.File {
	switch role {
	case types.RoleController:
		return []*os.File{p.rpcController, p.telemetryW}
	case types.RoleInboundGateway:
		return []*os.File{p.rpcInbound}
	case types.RoleOutboundPublisher:
		return []*os.File{p.telemetryR}
	default:
		return nil
	}
}

// Close releases the supervisor's copies. Workers keep their own, so a
// reader sees EOF once the last writer process exits.
func (p *pipes) Close() error {
	if p == nil {
		return nil
	}
	return iox.CloseAll(p.rpcController, p.rpcInbound, p.telemetryR, p.telemetryW)
}
