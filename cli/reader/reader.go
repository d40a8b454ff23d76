package reader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pithecene-io/de1gate/iox"
	"github.com/pithecene-io/de1gate/types"
)

// DefaultTimeout bounds one gateway round trip.
const DefaultTimeout = 15 * time.Second

// maxReplySize caps how much of a reply body is read.
const maxReplySize = 1 << 20

// Client talks to a running gateway.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the gateway at base, e.g.
// "http://localhost:1234" or "http://host:1234/api".
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// URL returns the address of resource.
func (c *Client) URL(resource string) string {
	return c.base + "/" + strings.TrimLeft(resource, "/")
}

// Do sends one request. A non-2xx status is not an error; callers check
// Reply.OK.
func (c *Client) Do(ctx context.Context, method types.Method, resource string, body []byte) (*Reply, error) {
	var rd io.Reader
	if method.HasBody() {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, string(method), c.URL(resource), rd)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if method.HasBody() {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, resource, err)
	}
	defer iox.DiscardClose(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}

	reply := &Reply{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := time.Parse(time.RFC1123Z, lm); err == nil {
			reply.LastModified = t
		}
	}
	return reply, nil
}

// Decode unmarshals a JSON reply body.
func (r *Reply) Decode() (any, error) {
	if !strings.HasPrefix(r.ContentType, "application/json") {
		return strings.TrimSpace(string(r.Body)), nil
	}
	var v any
	if err := json.Unmarshal(r.Body, &v); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return v, nil
}

// StatusError reports a reply with a non-2xx status.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%d %s: %s", e.Status, http.StatusText(e.Status), e.Detail)
}

// Inspect reads resource and returns it as a view.
func (c *Client) Inspect(ctx context.Context, resource string) (*ResourceView, error) {
	reply, err := c.Do(ctx, types.MethodGet, resource, nil)
	if err != nil {
		return nil, err
	}
	if !reply.OK() {
		return nil, &StatusError{Status: reply.Status, Detail: strings.TrimSpace(string(reply.Body))}
	}
	v, err := reply.Decode()
	if err != nil {
		return nil, err
	}

	view := &ResourceView{
		Resource: strings.TrimLeft(resource, "/"),
		Status:   reply.Status,
	}
	if !reply.LastModified.IsZero() {
		lm := reply.LastModified
		view.LastModified = &lm
	}
	if m, ok := v.(map[string]any); ok {
		view.Fields = m
	} else {
		view.Fields = map[string]any{"value": v}
	}
	return view, nil
}
