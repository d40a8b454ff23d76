// Package types defines the envelopes and records that cross worker
// process boundaries.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Method is a request verb accepted by the inbound gateway.
type Method string

// Supported request methods.
const (
	MethodGet   Method = "GET"
	MethodPatch Method = "PATCH"
	MethodPut   Method = "PUT"
)

// ParseMethod maps an HTTP method name to a Method.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToUpper(s)) {
	case MethodGet:
		return MethodGet, nil
	case MethodPatch:
		return MethodPatch, nil
	case MethodPut:
		return MethodPut, nil
	default:
		return "", fmt.Errorf("unsupported method %q", s)
	}
}

// HasBody reports whether requests with this method carry a payload.
func (m Method) HasBody() bool {
	return m == MethodPatch || m == MethodPut
}

// Precondition is a connectivity or state requirement that must hold
// before the controller can satisfy a request.
type Precondition string

// Known preconditions.
const (
	PreconditionDE1Connected   Precondition = "de1_connected"
	PreconditionScaleConnected Precondition = "scale_connected"
	PreconditionDE1Idle        Precondition = "de1_idle"
)

// PreconditionSet is a sorted, duplicate-free list of preconditions.
// Sorted so that envelopes built from the same inputs encode identically.
type PreconditionSet []Precondition

// NewPreconditionSet builds a set from the given preconditions.
func NewPreconditionSet(ps ...Precondition) PreconditionSet {
	if len(ps) == 0 {
		return PreconditionSet{}
	}
	seen := make(map[Precondition]struct{}, len(ps))
	out := make(PreconditionSet, 0, len(ps))
	for _, p := range ps {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Union returns a new set containing the members of both sets.
func (s PreconditionSet) Union(other PreconditionSet) PreconditionSet {
	merged := make([]Precondition, 0, len(s)+len(other))
	merged = append(merged, s...)
	merged = append(merged, other...)
	return NewPreconditionSet(merged...)
}

// Contains reports whether p is a member of the set.
func (s PreconditionSet) Contains(p Precondition) bool {
	for _, q := range s {
		if q == p {
			return true
		}
	}
	return false
}

// RequestEnvelope is sent by the gateway to the controller, one per
// inbound HTTP call. It is immutable once sent.
type RequestEnvelope struct {
	// ID correlates the request with its response.
	ID string `msgpack:"id"`
	// Timestamp is when the gateway received the HTTP request.
	Timestamp time.Time `msgpack:"timestamp"`
	// Method is the request verb.
	Method Method `msgpack:"method"`
	// Resource is the target resource identifier.
	Resource string `msgpack:"resource"`
	// ConnectivityRequired lists the preconditions implied by the request.
	ConnectivityRequired PreconditionSet `msgpack:"connectivity_required"`
	// Payload is the decoded JSON body for structured requests.
	Payload any `msgpack:"payload,omitempty"`
	// Raw is the undecoded body for binary-payload resources.
	Raw []byte `msgpack:"raw,omitempty"`
}

// Validate checks the envelope for fields the controller relies on.
func (r *RequestEnvelope) Validate() error {
	if r.ID == "" {
		return errors.New("request envelope missing id")
	}
	if r.Resource == "" {
		return errors.New("request envelope missing resource")
	}
	if _, err := ParseMethod(string(r.Method)); err != nil {
		return err
	}
	if r.Payload != nil && r.Raw != nil {
		return errors.New("request envelope carries both payload and raw body")
	}
	return nil
}

// ResponseEnvelope is the controller's reply to exactly one request.
// Exactly one of Payload and Exception is populated.
type ResponseEnvelope struct {
	// ID echoes RequestEnvelope.ID.
	ID string `msgpack:"id"`
	// Timestamp is the controller's view of when the payload was current.
	Timestamp time.Time `msgpack:"timestamp"`
	// Payload is the JSON-compatible result on success.
	Payload any `msgpack:"payload,omitempty"`
	// Exception describes the failure on error.
	Exception *ErrorDescriptor `msgpack:"exception,omitempty"`
}

// Validate enforces the payload/exception exclusivity.
func (r *ResponseEnvelope) Validate() error {
	if r.ID == "" {
		return errors.New("response envelope missing id")
	}
	if r.Exception != nil && r.Payload != nil {
		return errors.New("response envelope carries both payload and exception")
	}
	if r.Exception == nil && r.Payload == nil {
		return errors.New("response envelope carries neither payload nor exception")
	}
	return nil
}

// NewResponse builds a success response for req.
func NewResponse(req *RequestEnvelope, payload any) *ResponseEnvelope {
	return &ResponseEnvelope{
		ID:        req.ID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// NewErrorResponse builds a failure response for req.
func NewErrorResponse(req *RequestEnvelope, desc *ErrorDescriptor) *ResponseEnvelope {
	return &ResponseEnvelope{
		ID:        req.ID,
		Timestamp: time.Now(),
		Exception: desc,
	}
}
