package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/de1gate/types"
)

// RPCErrorKind classifies RPC failures.
type RPCErrorKind int

const (
	// RPCErrorTimeout means no response arrived before the deadline.
	RPCErrorTimeout RPCErrorKind = iota
	// RPCErrorTransport means the pipe failed (closed, corrupt frame).
	RPCErrorTransport
	// RPCErrorMismatch means a response arrived for an unknown request id.
	RPCErrorMismatch
	// RPCErrorCanceled means the caller's context was canceled.
	RPCErrorCanceled
	// RPCErrorProtocol means the response violated the envelope contract.
	RPCErrorProtocol
)

// RPCError represents a failed RPC round trip.
type RPCError struct {
	Kind RPCErrorKind
	Msg  string
	Err  error
}

func (e *RPCError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if err is an RPC deadline failure.
func IsTimeout(err error) bool {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Kind == RPCErrorTimeout
	}
	return false
}

// abandonedWindow bounds how many timed-out request ids are remembered.
const abandonedWindow = 32

type readResult struct {
	resp *types.ResponseEnvelope
	err  error
}

// Client is the gateway side of the request/response pipe.
// Calls are serialised: at most one request is in flight at a time.
type Client struct {
	mu      sync.Mutex
	conn    io.ReadWriteCloser
	enc     *FrameEncoder
	timeout time.Duration

	results chan readResult
	done    chan struct{}
	closed  chan struct{}
	readErr error

	// abandoned holds ids of requests whose caller gave up waiting.
	// Guarded by mu.
	abandoned []string

	discarded atomic.Int64
	closeOnce sync.Once
}

// NewClient starts a client on conn. A timeout of zero means calls are
// bounded only by the caller's context.
func NewClient(conn io.ReadWriteCloser, timeout time.Duration) *Client {
	c := &Client{
		conn:    conn,
		enc:     NewFrameEncoder(conn),
		timeout: timeout,
		results: make(chan readResult),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Client) readLoop() {
	defer close(c.done)
	dec := NewFrameDecoder(c.conn)
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			c.readErr = err
			return
		}
		resp, err := DecodeResponse(payload)
		if err != nil {
			c.readErr = err
			return
		}
		select {
		case c.results <- readResult{resp: resp}:
		case <-c.closed:
			return
		}
	}
}

// Call sends req and blocks for the matching response.
//
// Responses carrying the id of an earlier request that timed out or
// failed on a mismatch are discarded. Any other id mismatch fails the call.
func (c *Client) Call(ctx context.Context, req *types.RequestEnvelope) (*types.ResponseEnvelope, error) {
	if err := req.Validate(); err != nil {
		return nil, &RPCError{Kind: RPCErrorProtocol, Msg: "invalid request", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	select {
	case <-c.done:
		return nil, c.transportError()
	default:
	}

	if err := c.enc.WriteFrame(req); err != nil {
		return nil, &RPCError{Kind: RPCErrorTransport, Msg: "failed to send request", Err: err}
	}

	for {
		select {
		case r := <-c.results:
			if r.resp.ID != req.ID {
				if c.wasAbandoned(r.resp.ID) {
					c.discarded.Add(1)
					continue
				}
				// The real reply may still be on its way.
				c.abandon(req.ID)
				return nil, &RPCError{
					Kind: RPCErrorMismatch,
					Msg:  fmt.Sprintf("response id %q does not match request id %q", r.resp.ID, req.ID),
				}
			}
			if err := r.resp.Validate(); err != nil {
				return nil, &RPCError{Kind: RPCErrorProtocol, Msg: "invalid response", Err: err}
			}
			return r.resp, nil
		case <-c.done:
			return nil, c.transportError()
		case <-ctx.Done():
			c.abandon(req.ID)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, &RPCError{Kind: RPCErrorTimeout, Msg: "no response before deadline", Err: ctx.Err()}
			}
			return nil, &RPCError{Kind: RPCErrorCanceled, Msg: "call canceled", Err: ctx.Err()}
		}
	}
}

func (c *Client) transportError() error {
	return &RPCError{Kind: RPCErrorTransport, Msg: "pipe closed", Err: c.readErr}
}

func (c *Client) abandon(id string) {
	c.abandoned = append(c.abandoned, id)
	if len(c.abandoned) > abandonedWindow {
		c.abandoned = c.abandoned[len(c.abandoned)-abandonedWindow:]
	}
}

func (c *Client) wasAbandoned(id string) bool {
	for i, a := range c.abandoned {
		if a == id {
			c.abandoned = append(c.abandoned[:i], c.abandoned[i+1:]...)
			return true
		}
	}
	return false
}

// Discarded returns the number of late responses dropped so far.
func (c *Client) Discarded() int64 {
	return c.discarded.Load()
}

// Done is closed once the pipe has failed or been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the underlying pipe, unblocking any pending call.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// Handler serves one request. It must always return a response.
type Handler interface {
	Handle(ctx context.Context, req *types.RequestEnvelope) *types.ResponseEnvelope
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *types.RequestEnvelope) *types.ResponseEnvelope

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, req *types.RequestEnvelope) *types.ResponseEnvelope {
	return f(ctx, req)
}

// Serve reads requests from conn in FIFO order and writes one response per
// request. It returns nil when the peer closes the pipe or ctx is
// canceled, and the framing error otherwise. Undecodable frames are
// reported through onErr and skipped.
func Serve(ctx context.Context, conn io.ReadWriteCloser, h Handler, onErr func(error)) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	dec := NewFrameDecoder(conn)
	enc := NewFrameEncoder(conn)
	for {
		payload, err := dec.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		req, err := DecodeRequest(payload)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			continue
		}
		if err := req.Validate(); err != nil {
			if onErr != nil {
				onErr(err)
			}
			if req.ID != "" {
				if werr := enc.WriteFrame(types.NewErrorResponse(req, types.GenericAPIError("%v", err))); werr != nil {
					return werr
				}
			}
			continue
		}

		resp := h.Handle(ctx, req)
		if resp == nil {
			resp = types.NewErrorResponse(req, &types.ErrorDescriptor{
				Kind:   types.ErrorKindUnknown,
				Detail: "handler returned no response",
			})
		}
		resp.ID = req.ID
		if err := enc.WriteFrame(resp); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
