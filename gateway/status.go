package gateway

import (
	"net/http"

	"github.com/pithecene-io/de1gate/types"
)

// statusByKind maps every ErrorKind to its HTTP status. Adding a kind
// without extending this table fails to compile.
var statusByKind = [...]int{
	types.ErrorKindUnknown:                    http.StatusInternalServerError,
	types.ErrorKindNotConnected:               http.StatusServiceUnavailable,
	types.ErrorKindUnsupportedStateTransition: http.StatusConflict,
	types.ErrorKindUnsupportedFeature:         http.StatusTeapot,
	types.ErrorKindGenericAPI:                 http.StatusBadRequest,
	types.ErrorKindTimeout:                    http.StatusGatewayTimeout,
}

var _ = [1]struct{}{}[len(statusByKind)-int(types.ErrorKindCount)]

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind types.ErrorKind) int {
	if int(kind) < len(statusByKind) {
		return statusByKind[kind]
	}
	return http.StatusInternalServerError
}
