package types

import (
	"fmt"
	"time"
)

// Role identifies one of the three worker processes.
type Role string

// Worker roles.
const (
	RoleController        Role = "controller"
	RoleInboundGateway    Role = "inbound"
	RoleOutboundPublisher Role = "outbound"
)

// Roles lists the worker roles in spawn order. The controller starts
// last so both of its peers are listening on their pipe ends.
func Roles() []Role {
	return []Role{RoleOutboundPublisher, RoleInboundGateway, RoleController}
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleController, RoleInboundGateway, RoleOutboundPublisher:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown worker role %q", s)
	}
}

// ProcessRecord is the supervisor's view of one worker.
type ProcessRecord struct {
	// Role is the worker role.
	Role Role `json:"role" yaml:"role"`
	// PID is the OS process id.
	PID int `json:"pid" yaml:"pid"`
	// Alive is false once the process has been reaped.
	Alive bool `json:"alive" yaml:"alive"`
	// StartedAt is the spawn time.
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	// ExitCode is set once the process has been reaped; -1 when killed by a signal.
	ExitCode *int `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
}
