package types //nolint:revive // types is a valid package name

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKind_String(t *testing.T) {
	for k := ErrorKind(0); k < ErrorKindCount; k++ {
		if k.String() == "" {
			t.Errorf("ErrorKind(%d) has no name", k)
		}
	}
	if got := ErrorKindGenericAPI.String(); got != "GenericAPIError" {
		t.Errorf("GenericAPI.String() = %q", got)
	}
	if got := ErrorKind(200).String(); got != "ErrorKind(200)" {
		t.Errorf("out of range String() = %q", got)
	}
}

func TestDescribeError(t *testing.T) {
	if DescribeError(nil) != nil {
		t.Error("DescribeError(nil) should be nil")
	}

	desc := UnsupportedStateTransition("cannot go from %s to %s", "sleep", "espresso")
	wrapped := fmt.Errorf("apply patch: %w", desc)
	got := DescribeError(wrapped)
	if got.Kind != ErrorKindUnsupportedStateTransition {
		t.Errorf("Kind = %v, want UnsupportedStateTransition", got.Kind)
	}
	if got.Detail != "cannot go from sleep to espresso" {
		t.Errorf("Detail = %q", got.Detail)
	}

	plain := DescribeError(errors.New("boom"))
	if plain.Kind != ErrorKindUnknown || plain.Detail != "boom" {
		t.Errorf("plain error described as %+v", plain)
	}
}

func TestErrorDescriptor_Error(t *testing.T) {
	if got := NotConnected("scale missing").Error(); got != "NotConnected: scale missing" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ErrorDescriptor{Kind: ErrorKindTimeout}).Error(); got != "Timeout" {
		t.Errorf("Error() = %q", got)
	}
}
