package transport

import (
	"context"
	"os/exec"
)

// SSH spawns the local ssh binary with the given arguments (already
// assembled by the caller — see xspec.SSHArgs, whose result has "ssh" itself
// at index 0) and returns its stdin/stdout as a Transport, exactly like
// Subprocess. This module never implements the SSH protocol itself:
// transport encryption is provided externally by the ssh binary, consistent
// with the fabric's non-goals.
func SSH(ctx context.Context, args []string) (Transport, *exec.Cmd, error) {
	return Subprocess(ctx, args[0], args[1:], nil)
}
