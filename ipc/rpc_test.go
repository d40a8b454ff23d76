package ipc

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pithecene-io/de1gate/types"
)

func newRequest(id, resource string) *types.RequestEnvelope {
	return &types.RequestEnvelope{
		ID:        id,
		Timestamp: time.Now(),
		Method:    types.MethodGet,
		Resource:  resource,
	}
}

// echoHandler answers every request with its resource name.
var echoHandler = HandlerFunc(func(_ context.Context, req *types.RequestEnvelope) *types.ResponseEnvelope {
	return types.NewResponse(req, map[string]any{"resource": req.Resource})
})

func TestClient_CallServe(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- Serve(ctx, serverConn, echoHandler, nil) }()

	client := NewClient(clientConn, time.Second)
	defer func() { _ = client.Close() }()

	for _, resource := range []string{"de1/state", "scale", "version"} {
		resp, err := client.Call(ctx, newRequest("id-"+resource, resource))
		if err != nil {
			t.Fatalf("Call(%s) failed: %v", resource, err)
		}
		payload := resp.Payload.(map[string]any)
		if payload["resource"] != resource {
			t.Errorf("payload resource = %v, want %s", payload["resource"], resource)
		}
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestClient_Timeout(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer func() { _ = serverConn.Close() }()

	// Drain requests without answering.
	go func() {
		dec := NewFrameDecoder(serverConn)
		for {
			if _, err := dec.ReadFrame(); err != nil {
				return
			}
		}
	}()

	client := NewClient(clientConn, 50*time.Millisecond)
	defer func() { _ = client.Close() }()

	start := time.Now()
	_, err := client.Call(context.Background(), newRequest("slow", "de1/state"))
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestClient_StaleResponseDiscarded(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer func() { _ = serverConn.Close() }()

	client := NewClient(clientConn, 50*time.Millisecond)
	defer func() { _ = client.Close() }()

	dec := NewFrameDecoder(serverConn)
	enc := NewFrameEncoder(serverConn)

	// First request is read but not answered in time.
	firstRead := make(chan struct{})
	go func() {
		if _, err := dec.ReadFrame(); err == nil {
			close(firstRead)
		}
	}()

	_, err := client.Call(context.Background(), newRequest("first", "de1/state"))
	if !IsTimeout(err) {
		t.Fatalf("first call err = %v, want timeout", err)
	}
	<-firstRead

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := dec.ReadFrame(); err != nil {
			t.Errorf("server ReadFrame: %v", err)
			return
		}
		// Late answer for the first request, then the real one.
		_ = enc.WriteFrame(&types.ResponseEnvelope{ID: "first", Payload: map[string]any{"late": true}})
		_ = enc.WriteFrame(&types.ResponseEnvelope{ID: "second", Payload: map[string]any{"late": false}})
	}()

	resp, err := client.Call(context.Background(), newRequest("second", "de1/state"))
	wg.Wait()
	if err != nil {
		t.Fatalf("second call failed: %v", err)
	}
	if resp.ID != "second" {
		t.Errorf("resp.ID = %q, want second", resp.ID)
	}
	if client.Discarded() != 1 {
		t.Errorf("Discarded = %d, want 1", client.Discarded())
	}
}

func TestClient_UnknownIDIsMismatch(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer func() { _ = serverConn.Close() }()

	client := NewClient(clientConn, time.Second)
	defer func() { _ = client.Close() }()

	go func() {
		dec := NewFrameDecoder(serverConn)
		enc := NewFrameEncoder(serverConn)
		if _, err := dec.ReadFrame(); err != nil {
			return
		}
		// A stray reply, then the real reply for "mine" after the
		// client has already failed the call.
		_ = enc.WriteFrame(&types.ResponseEnvelope{ID: "someone-else", Payload: map[string]any{}})
		_ = enc.WriteFrame(&types.ResponseEnvelope{ID: "mine", Payload: map[string]any{}})
		if _, err := dec.ReadFrame(); err != nil {
			return
		}
		_ = enc.WriteFrame(&types.ResponseEnvelope{ID: "next", Payload: map[string]any{"ok": true}})
	}()

	_, err := client.Call(context.Background(), newRequest("mine", "de1/state"))
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Kind != RPCErrorMismatch {
		t.Fatalf("err = %v, want mismatch", err)
	}

	// The reply to the failed call must not poison the next one.
	resp, err := client.Call(context.Background(), newRequest("next", "de1/state"))
	if err != nil {
		t.Fatalf("next call failed: %v", err)
	}
	if resp.ID != "next" {
		t.Errorf("resp.ID = %q, want next", resp.ID)
	}
	if client.Discarded() != 1 {
		t.Errorf("Discarded = %d, want 1", client.Discarded())
	}
}

func TestClient_PipeClosed(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := NewClient(clientConn, time.Second)
	defer func() { _ = client.Close() }()

	go func() {
		dec := NewFrameDecoder(serverConn)
		_, _ = dec.ReadFrame()
		_ = serverConn.Close()
	}()

	_, err := client.Call(context.Background(), newRequest("orphan", "de1/state"))
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Kind != RPCErrorTransport {
		t.Fatalf("err = %v, want transport error", err)
	}
	if IsTimeout(err) {
		t.Error("transport failure reported as timeout")
	}
}

func TestClient_CallsSerialised(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	handler := HandlerFunc(func(_ context.Context, req *types.RequestEnvelope) *types.ResponseEnvelope {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return types.NewResponse(req, map[string]any{})
	})
	go func() { _ = Serve(ctx, serverConn, handler, nil) }()

	client := NewClient(clientConn, time.Second)
	defer func() { _ = client.Close() }()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			resp, err := client.Call(ctx, newRequest(id, "de1/state"))
			if err != nil {
				t.Errorf("Call %s: %v", id, err)
				return
			}
			if resp.ID != id {
				t.Errorf("resp.ID = %q, want %q", resp.ID, id)
			}
		}(i)
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("max in flight = %d, want 1", maxInFlight)
	}
}

func TestServe_InvalidRequestAnswered(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var reported []error
	var mu sync.Mutex
	go func() {
		_ = Serve(ctx, serverConn, echoHandler, func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		})
	}()

	enc := NewFrameEncoder(clientConn)
	dec := NewFrameDecoder(clientConn)
	if err := enc.WriteFrame(&types.RequestEnvelope{ID: "bad", Method: "DELETE", Resource: "x"}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	payload, err := dec.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	resp, err := DecodeResponse(payload)
	if err != nil {
		t.Fatalf("DecodeResponse: %v", err)
	}
	if resp.Exception == nil || resp.Exception.Kind != types.ErrorKindGenericAPI {
		t.Errorf("Exception = %v, want GenericAPIError", resp.Exception)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Errorf("reported %d errors, want 1", len(reported))
	}
}
