// Package gateway implements the inbound HTTP dispatch gateway.
//
// Every request is resolved against the resource table, checked for verb
// permission and body limits, validated, and then forwarded to the
// controller as a RequestEnvelope over the request pipe. Transport
// problems are answered here and never forwarded.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/requestlog"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"

	"github.com/pithecene-io/de1gate/ipc"
	"github.com/pithecene-io/de1gate/log"
	"github.com/pithecene-io/de1gate/metrics"
	"github.com/pithecene-io/de1gate/resource"
	"github.com/pithecene-io/de1gate/types"
)

// DefaultMaxBodySize is the largest PATCH/PUT body accepted.
const DefaultMaxBodySize = 4096

// RequestIDHeader carries the envelope correlation id on replies.
const RequestIDHeader = "X-Request-Id"

// Caller forwards an envelope to the controller and waits for the reply.
// *ipc.Client implements it.
type Caller interface {
	Call(ctx context.Context, req *types.RequestEnvelope) (*types.ResponseEnvelope, error)
}

// Config configures a Gateway.
type Config struct {
	// Root is stripped from request paths before resource lookup.
	Root string
	// MaxBodySize bounds Content-Length for PATCH and PUT.
	MaxBodySize int64
	// RequestsPerMinute enables throttling when positive.
	RequestsPerMinute int
	// Burst is the throttle bucket size.
	Burst int
	// Heartbeat is the interval between liveness log entries. Zero disables.
	Heartbeat time.Duration
}

// Gateway is the HTTP handler for the inbound API.
type Gateway struct {
	root        string
	maxBodySize int64
	heartbeat   time.Duration

	registry  *resource.Registry
	validator *resource.Validator
	caller    Caller
	limiter   *rate.Limiter
	logger    *log.Logger
	metrics   *metrics.Collector

	served atomic.Int64

	now   func() time.Time
	newID func() string
}

// New builds a gateway. collector may be nil.
func New(cfg Config, caller Caller, registry *resource.Registry, validator *resource.Validator, logger *log.Logger, collector *metrics.Collector) *Gateway {
	root := cfg.Root
	if root == "" {
		root = "/"
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute)/60.0, burst)
	}
	return &Gateway{
		root:        root,
		maxBodySize: maxBody,
		heartbeat:   cfg.Heartbeat,
		registry:    registry,
		validator:   validator,
		caller:      caller,
		limiter:     limiter,
		logger:      logger,
		metrics:     collector,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

// Handler returns the gateway as an http.Handler, wrapped with an access
// log when the logger is at debug level.
func (g *Gateway) Handler() http.Handler {
	var h http.Handler = g
	if g.logger.Enabled(zapcore.DebugLevel) {
		h = requestlog.Wrap(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := g.now()
	g.metrics.IncRequest()
	defer g.served.Add(1)

	method, err := types.ParseMethod(r.Method)
	if err != nil || r.Method != string(method) {
		g.replyText(w, http.StatusNotImplemented, fmt.Sprintf("Unsupported method (%q)", r.Method), time.Time{})
		return
	}

	path, ok := strings.CutPrefix(r.URL.Path, g.root)
	if !ok {
		g.replyText(w, http.StatusNotFound, "Unrecognized resource\n", time.Time{})
		return
	}
	entry, ok := g.registry.Lookup(path)
	if !ok {
		g.replyText(w, http.StatusNotFound, "Unrecognized resource\n", time.Time{})
		return
	}

	if !entry.Capabilities.Allows(method) {
		w.Header().Set("Allow", allowHeader(entry.Capabilities))
		g.replyText(w, http.StatusMethodNotAllowed, fmt.Sprintf("%s not permitted", method), time.Time{})
		return
	}

	if method == types.MethodPut && entry.ID != resource.PutResource {
		g.replyText(w, http.StatusNotImplemented,
			fmt.Sprintf("PUT not yet supported beyond %s", resource.PutResource), time.Time{})
		return
	}

	if g.limiter != nil && !g.limiter.Allow() {
		g.metrics.IncThrottled()
		g.replyText(w, http.StatusTooManyRequests, "Too many requests", time.Time{})
		return
	}

	req := &types.RequestEnvelope{
		ID:        g.newID(),
		Timestamp: start,
		Method:    method,
		Resource:  string(entry.ID),
	}

	if method.HasBody() {
		body, status, msg := g.readBody(r)
		if status != 0 {
			g.replyText(w, status, msg, time.Time{})
			return
		}
		patch, err := g.validator.Validate(entry.ID, method, body)
		if err != nil {
			g.replyText(w, http.StatusBadRequest, err.Error(), time.Time{})
			return
		}
		req.Payload = patch.Payload
		req.Raw = patch.Raw
		req.ConnectivityRequired = patch.Preconditions
	} else {
		req.ConnectivityRequired = entry.Preconditions
	}

	w.Header().Set(RequestIDHeader, req.ID)
	resp := g.forward(r.Context(), req)
	g.reply(w, resp)

	g.logger.Debug("request complete", map[string]any{
		"id":       req.ID,
		"method":   string(method),
		"resource": req.Resource,
		"rtt_ms":   float64(g.now().Sub(start).Microseconds()) / 1000.0,
	})
}

// readBody enforces the Content-Length rules before touching the body.
// A non-zero status means the request must be rejected with msg.
func (g *Gateway) readBody(r *http.Request) ([]byte, int, string) {
	header := r.Header.Get("Content-Length")
	if header == "" {
		return nil, http.StatusLengthRequired, "Missing Content-Length header"
	}
	length, err := strconv.ParseInt(header, 10, 64)
	if err != nil || length < 0 {
		return nil, http.StatusBadRequest, fmt.Sprintf("Invalid Content-Length header %q", header)
	}
	if length > g.maxBodySize {
		return nil, http.StatusRequestEntityTooLarge, "Patch is too large"
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r.Body, body); err != nil {
		return nil, http.StatusBadRequest, fmt.Sprintf("Incomplete body: %v", err)
	}
	return body, 0, ""
}

// forward performs the RPC and converts transport failures into
// descriptors so every path produces a complete response.
func (g *Gateway) forward(ctx context.Context, req *types.RequestEnvelope) *types.ResponseEnvelope {
	resp, err := g.caller.Call(ctx, req)
	if err == nil {
		return resp
	}

	desc := &types.ErrorDescriptor{Kind: types.ErrorKindUnknown, Detail: err.Error()}
	if ipc.IsTimeout(err) {
		g.metrics.IncRPCTimeout()
		desc = &types.ErrorDescriptor{Kind: types.ErrorKindTimeout, Detail: "controller did not respond in time"}
		g.logger.Warn("controller rpc timed out", map[string]any{
			"id":       req.ID,
			"resource": req.Resource,
		})
	} else {
		g.metrics.IncRPCTransportFail()
		g.logger.Error("controller rpc failed", map[string]any{
			"id":       req.ID,
			"resource": req.Resource,
			"error":    err.Error(),
		})
	}
	return types.NewErrorResponse(req, desc)
}

func (g *Gateway) reply(w http.ResponseWriter, resp *types.ResponseEnvelope) {
	if resp.Exception != nil {
		g.replyText(w, StatusFor(resp.Exception.Kind), resp.Exception.Detail, resp.Timestamp)
		return
	}

	body, err := encodePayload(resp.Payload)
	if err != nil {
		g.logger.Error("failed to encode response payload", map[string]any{
			"id":    resp.ID,
			"error": err.Error(),
		})
		g.replyText(w, http.StatusInternalServerError, "failed to encode response: "+err.Error(), resp.Timestamp)
		return
	}
	g.write(w, http.StatusOK, "application/json", body, resp.Timestamp)
}

func (g *Gateway) replyText(w http.ResponseWriter, status int, msg string, modified time.Time) {
	g.write(w, status, "text/plain; charset=utf-8", []byte(msg), modified)
}

func (g *Gateway) write(w http.ResponseWriter, status int, contentType string, body []byte, modified time.Time) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Length", strconv.Itoa(len(body)))
	if !modified.IsZero() {
		h.Set("Last-Modified", modified.Local().Format(time.RFC1123Z))
	}
	w.WriteHeader(status)
	_, _ = w.Write(body)
	g.metrics.IncStatus(status)
}

// encodePayload renders v as key-sorted JSON indented by four spaces with
// a trailing newline.
func encodePayload(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func allowHeader(c resource.Capabilities) string {
	var verbs []string
	if c.CanGet {
		verbs = append(verbs, string(types.MethodGet))
	}
	if c.CanPatch {
		verbs = append(verbs, string(types.MethodPatch))
	}
	if c.CanPut {
		verbs = append(verbs, string(types.MethodPut))
	}
	return strings.Join(verbs, ", ")
}
