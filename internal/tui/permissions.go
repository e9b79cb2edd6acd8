package tui

import "context"

// TerminalPermissions implements the permission boundary for terminal
// builds. There is no OS-level microphone prompt to drive from a TTY,
// so capture access is assumed granted; desktop frontends plug in a
// real implementation.
type TerminalPermissions struct{}

// RequestMicrophone always grants.
func (TerminalPermissions) RequestMicrophone(context.Context) (bool, error) {
	return true, nil
}
