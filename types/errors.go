package types

import (
	"errors"
	"fmt"
)

// ErrorKind tags an ErrorDescriptor. The set is closed: adding a kind
// requires extending the gateway status table, which is checked at
// compile time.
type ErrorKind uint8

const (
	// ErrorKindUnknown is an internal controller failure.
	ErrorKindUnknown ErrorKind = iota
	// ErrorKindNotConnected means a required device is not connected.
	ErrorKindNotConnected
	// ErrorKindUnsupportedStateTransition means the controller rejected a
	// state change from its current state.
	ErrorKindUnsupportedStateTransition
	// ErrorKindUnsupportedFeature means the connected device lacks the feature.
	ErrorKindUnsupportedFeature
	// ErrorKindGenericAPI is a request the controller understood but refused.
	ErrorKindGenericAPI
	// ErrorKindTimeout is raised on the gateway side when no response
	// arrived within the RPC deadline.
	ErrorKindTimeout

	// ErrorKindCount is the number of kinds. Keep it last.
	ErrorKindCount
)

var errorKindNames = [...]string{
	ErrorKindUnknown:                    "Unknown",
	ErrorKindNotConnected:               "NotConnected",
	ErrorKindUnsupportedStateTransition: "UnsupportedStateTransition",
	ErrorKindUnsupportedFeature:         "UnsupportedFeature",
	ErrorKindGenericAPI:                 "GenericAPIError",
	ErrorKindTimeout:                    "Timeout",
}

var _ = [1]struct{}{}[len(errorKindNames)-int(ErrorKindCount)]

func (k ErrorKind) String() string {
	if int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// ErrorDescriptor is the serializable form of a controller failure.
// It carries a tag and a human-readable detail, never a native error.
type ErrorDescriptor struct {
	// Kind is the failure tag.
	Kind ErrorKind `msgpack:"kind"`
	// Detail is a human-readable explanation.
	Detail string `msgpack:"detail"`
}

// Error implements error so handlers can return descriptors directly.
func (d *ErrorDescriptor) Error() string {
	if d.Detail == "" {
		return d.Kind.String()
	}
	return fmt.Sprintf("%s: %s", d.Kind, d.Detail)
}

// NotConnected builds a NotConnected descriptor.
func NotConnected(format string, args ...any) *ErrorDescriptor {
	return &ErrorDescriptor{Kind: ErrorKindNotConnected, Detail: fmt.Sprintf(format, args...)}
}

// UnsupportedStateTransition builds an UnsupportedStateTransition descriptor.
func UnsupportedStateTransition(format string, args ...any) *ErrorDescriptor {
	return &ErrorDescriptor{Kind: ErrorKindUnsupportedStateTransition, Detail: fmt.Sprintf(format, args...)}
}

// UnsupportedFeature builds an UnsupportedFeature descriptor.
func UnsupportedFeature(format string, args ...any) *ErrorDescriptor {
	return &ErrorDescriptor{Kind: ErrorKindUnsupportedFeature, Detail: fmt.Sprintf(format, args...)}
}

// GenericAPIError builds a GenericAPIError descriptor.
func GenericAPIError(format string, args ...any) *ErrorDescriptor {
	return &ErrorDescriptor{Kind: ErrorKindGenericAPI, Detail: fmt.Sprintf(format, args...)}
}

// DescribeError converts any error into a descriptor. Descriptors pass
// through unchanged; everything else becomes Unknown.
func DescribeError(err error) *ErrorDescriptor {
	if err == nil {
		return nil
	}
	var desc *ErrorDescriptor
	if errors.As(err, &desc) {
		return desc
	}
	return &ErrorDescriptor{Kind: ErrorKindUnknown, Detail: err.Error()}
}
