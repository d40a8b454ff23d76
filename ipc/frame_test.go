package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pithecene-io/de1gate/types"
)

// encodeFrame encodes a payload with length prefix.
func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func TestFrameEncoder_RequestRoundTrip(t *testing.T) {
	req := &types.RequestEnvelope{
		ID:                   "req-001",
		Timestamp:            time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC),
		Method:               types.MethodPatch,
		Resource:             "de1/mode",
		ConnectivityRequired: types.NewPreconditionSet(types.PreconditionDE1Idle, types.PreconditionDE1Connected),
		Payload:              map[string]any{"mode": "espresso", "count": 3},
	}

	var buf bytes.Buffer
	if err := NewFrameEncoder(&buf).WriteFrame(req); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	payload, err := NewFrameDecoder(&buf).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}

	decoded, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}

	if decoded.ID != req.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, req.ID)
	}
	if decoded.Method != req.Method {
		t.Errorf("Method = %q, want %q", decoded.Method, req.Method)
	}
	if !decoded.Timestamp.Equal(req.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, req.Timestamp)
	}
	if len(decoded.ConnectivityRequired) != 2 || decoded.ConnectivityRequired[0] != types.PreconditionDE1Connected {
		t.Errorf("ConnectivityRequired = %v", decoded.ConnectivityRequired)
	}

	body, ok := decoded.Payload.(map[string]any)
	if !ok {
		t.Fatalf("Payload type = %T, want map[string]any", decoded.Payload)
	}
	if body["mode"] != "espresso" {
		t.Errorf("Payload[mode] = %v, want espresso", body["mode"])
	}
	if body["count"] != int64(3) {
		t.Errorf("Payload[count] = %#v, want int64(3)", body["count"])
	}
}

func TestFrameEncoder_RawBodyPreserved(t *testing.T) {
	raw := []byte{0x00, 0xff, 0x10, '{'}
	req := &types.RequestEnvelope{
		ID:       "req-002",
		Method:   types.MethodPut,
		Resource: "de1/profile",
		Raw:      raw,
	}

	var buf bytes.Buffer
	if err := NewFrameEncoder(&buf).WriteFrame(req); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	payload, err := NewFrameDecoder(&buf).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	decoded, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if !bytes.Equal(decoded.Raw, raw) {
		t.Errorf("Raw = %v, want %v", decoded.Raw, raw)
	}
	if decoded.Payload != nil {
		t.Errorf("Payload = %v, want nil", decoded.Payload)
	}
}

func TestFrameDecoder_MultipleResponses(t *testing.T) {
	responses := []*types.ResponseEnvelope{
		{ID: "a", Payload: map[string]any{"mode": "idle"}},
		{ID: "b", Exception: types.NotConnected("DE1 not connected")},
		{ID: "c", Payload: map[string]any{}},
	}

	var buf bytes.Buffer
	enc := NewFrameEncoder(&buf)
	for _, r := range responses {
		if err := enc.WriteFrame(r); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	dec := NewFrameDecoder(&buf)
	var decoded []*types.ResponseEnvelope
	for {
		payload, err := dec.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadFrame failed: %v", err)
		}
		resp, err := DecodeResponse(payload)
		if err != nil {
			t.Fatalf("DecodeResponse failed: %v", err)
		}
		decoded = append(decoded, resp)
	}

	if len(decoded) != len(responses) {
		t.Fatalf("decoded %d responses, want %d", len(decoded), len(responses))
	}
	for i, r := range decoded {
		if r.ID != responses[i].ID {
			t.Errorf("responses[%d].ID = %q, want %q", i, r.ID, responses[i].ID)
		}
	}
	if decoded[1].Exception == nil || decoded[1].Exception.Kind != types.ErrorKindNotConnected {
		t.Errorf("responses[1].Exception = %v, want NotConnected", decoded[1].Exception)
	}
}

func TestFrameDecoder_Errors(t *testing.T) {
	oversize := make([]byte, LengthPrefixSize)
	binary.BigEndian.PutUint32(oversize, MaxPayloadSize+1)

	tests := []struct {
		name  string
		input []byte
		kind  FrameErrorKind
		fatal bool
	}{
		{
			name:  "partial length prefix",
			input: []byte{0x00, 0x00},
			kind:  FrameErrorPartial,
			fatal: true,
		},
		{
			name:  "partial payload",
			input: append([]byte{0x00, 0x00, 0x00, 0x08}, 0x01, 0x02),
			kind:  FrameErrorPartial,
			fatal: true,
		},
		{
			name:  "oversized frame",
			input: oversize,
			kind:  FrameErrorTooLarge,
			fatal: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameDecoder(bytes.NewReader(tt.input)).ReadFrame()
			var frameErr *FrameError
			if !errors.As(err, &frameErr) {
				t.Fatalf("err = %v, want *FrameError", err)
			}
			if frameErr.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", frameErr.Kind, tt.kind)
			}
			if IsFatalFrameError(err) != tt.fatal {
				t.Errorf("IsFatalFrameError = %v, want %v", IsFatalFrameError(err), tt.fatal)
			}
		})
	}
}

func TestFrameDecoder_CleanEOF(t *testing.T) {
	_, err := NewFrameDecoder(bytes.NewReader(nil)).ReadFrame()
	if err != io.EOF {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestDecodeResponse_Garbage(t *testing.T) {
	_, err := DecodeResponse([]byte{0xc1})
	var frameErr *FrameError
	if !errors.As(err, &frameErr) {
		t.Fatalf("err = %v, want *FrameError", err)
	}
	if frameErr.Kind != FrameErrorDecode {
		t.Errorf("Kind = %v, want decode", frameErr.Kind)
	}
	if frameErr.IsFatal() {
		t.Error("decode errors should not be fatal")
	}
}

func TestDecodeTelemetry(t *testing.T) {
	rec := &types.TelemetryRecord{
		ID:        "01HQ0000000000000000000000",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Kind:      types.TelemetryKindState,
		Resource:  "de1/state",
		Payload:   map[string]any{"mode": "idle"},
	}

	var buf bytes.Buffer
	if err := NewFrameEncoder(&buf).WriteFrame(rec); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	payload, err := NewFrameDecoder(&buf).ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	decoded, err := DecodeTelemetry(payload)
	if err != nil {
		t.Fatalf("DecodeTelemetry failed: %v", err)
	}
	if decoded.Kind != rec.Kind || decoded.Resource != rec.Resource {
		t.Errorf("decoded = %+v, want %+v", decoded, rec)
	}
	if decoded.Payload["mode"] != "idle" {
		t.Errorf("Payload[mode] = %v, want idle", decoded.Payload["mode"])
	}
}

func TestEncodeFrame_MatchesEncoder(t *testing.T) {
	var buf bytes.Buffer
	if err := NewFrameEncoder(&buf).WriteFrame("x"); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	// msgpack fixstr "x" is 0xa1 0x78
	want := encodeFrame([]byte{0xa1, 'x'})
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("frame = %x, want %x", buf.Bytes(), want)
	}
}
