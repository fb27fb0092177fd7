// Package osproc implements the osproc port against the host OS.
package osproc

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// Probe implements osproc.Probe using signal-0 liveness checks and
// lsof for port-to-pid lookups.
type Probe struct{}

// New creates a host OS probe.
func New() *Probe { return &Probe{} }

// Alive reports whether pid is a live process.
func (p *Probe) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// On Unix, FindProcess always succeeds. Signal 0 checks existence.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// PIDsOnPort returns the pids listening on the given TCP port.
func (p *Probe) PIDsOnPort(port uint16) ([]int, error) {
	out, err := exec.Command("lsof", "-ti", fmt.Sprintf("tcp:%d", port), "-sTCP:LISTEN").Output()
	if err != nil {
		// lsof exits 1 when nothing matches; treat that as a free port.
		if ee, ok := err.(*exec.ExitError); ok && ee.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("lsof port %d: %w", port, err)
	}

	var pids []int
	for line := range strings.Lines(string(out)) {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Kill forcibly terminates pid. A process that is already gone is not
// an error.
func (p *Probe) Kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := syscall.Kill(pid, syscall.SIGKILL)
	if err == nil || err == syscall.ESRCH {
		return nil
	}
	return fmt.Errorf("kill %d: %w", pid, err)
}
