// Package status defines the closed sets of status strings shared by the
// server and agent, so both sides compare against the same string constants
// instead of duplicating magic values.
package status

import "strings"

// MachineStatus represents the lifecycle state of a registered machine.
//
// Transition graph (see command and reaper packages for the writers):
//
//	online  --idle>=threshold-->      idle
//	idle    --idle<threshold-->       online
//	{online,idle} --no heartbeat-->   offline   (reaper)
//	{online,idle,offline} --shutdown--> shutdown
//	shutdown --heartbeat-->           online
//	offline  --heartbeat-->           online|idle
type MachineStatus string

const (
	MachineOnline   MachineStatus = "online"
	MachineIdle     MachineStatus = "idle"
	MachineOffline  MachineStatus = "offline"
	MachineShutdown MachineStatus = "shutdown"
)

// CommandStatus represents the lifecycle state of a ShutdownCommand.
type CommandStatus string

const (
	CommandPending  CommandStatus = "pending"
	CommandExecuted CommandStatus = "executed"
	CommandRejected CommandStatus = "rejected"
	CommandExpired  CommandStatus = "expired"
)

// OperatorRole is the closed set of operator permission levels.
// Persisted as lowercase; normalize on read so a historical uppercase value
// never leaks back out as a distinct role.
type OperatorRole string

const (
	RoleAdmin  OperatorRole = "admin"
	RoleViewer OperatorRole = "viewer"
)

// NormalizeRole lowercases and trims r so callers never persist or compare
// against a non-normalized role string.
func NormalizeRole(r string) OperatorRole {
	return OperatorRole(strings.ToLower(strings.TrimSpace(r)))
}
