package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/cellbox-dev/cellbox/internal/domain/cell"
)

// maxEphemeralRetries bounds how often an ephemeral grant colliding
// with an earlier reservation is retried before the batch fails.
const maxEphemeralRetries = 5

// PortAllocator assigns non-conflicting TCP ports to named requests
// within one batch. Allocation is all-or-nothing: on any failure no
// port from the batch stays reserved.
type PortAllocator struct {
	// listen is swappable for tests; defaults to net.Listen.
	listen func(network, addr string) (net.Listener, error)
}

// NewPortAllocator creates a port allocator probing against the host OS.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{listen: net.Listen}
}

// Allocate grants one port per request, preserving input order. A
// preferred port is probed by binding it and reserved for the rest of
// the batch on success; otherwise an OS ephemeral port is taken and
// re-checked against earlier reservations. Reservations are held as
// open listeners until return, so concurrent batches cannot grant the
// same port. All listeners are released before returning: a granted
// port can still be lost to another process before the service binds
// it, and callers must treat that bind failure as an ordinary retry.
func (a *PortAllocator) Allocate(ctx context.Context, reqs []cell.PortRequest) ([]cell.PortAllocation, error) {
	reserved := make(map[uint16]net.Listener, len(reqs))
	defer func() {
		for _, l := range reserved {
			_ = l.Close()
		}
	}()

	allocs := make([]cell.PortAllocation, 0, len(reqs))
	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, &cell.PortAllocationError{Request: req.Name, Err: err}
		}

		alloc, err := a.allocateOne(req, reserved)
		if err != nil {
			return nil, err
		}
		allocs = append(allocs, alloc)
	}
	return allocs, nil
}

func (a *PortAllocator) allocateOne(req cell.PortRequest, reserved map[uint16]net.Listener) (cell.PortAllocation, error) {
	if req.Preferred != 0 {
		if _, taken := reserved[req.Preferred]; !taken {
			if l, err := a.listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(req.Preferred)))); err == nil {
				reserved[req.Preferred] = l
				return cell.PortAllocation{Name: req.Name, Port: req.Preferred, Preferred: true}, nil
			}
		}
		// Preferred port unavailable: fall through to an ephemeral grant.
	}

	for range maxEphemeralRetries {
		l, err := a.listen("tcp", "127.0.0.1:0")
		if err != nil {
			return cell.PortAllocation{}, &cell.PortAllocationError{Request: req.Name, Err: err}
		}
		port, err := listenerPort(l)
		if err != nil {
			_ = l.Close()
			return cell.PortAllocation{}, &cell.PortAllocationError{Request: req.Name, Err: err}
		}

		// An ephemeral grant can land on a port an earlier request
		// reserved explicitly; keep the earlier reservation and retry.
		if _, taken := reserved[port]; taken {
			_ = l.Close()
			continue
		}

		reserved[port] = l
		return cell.PortAllocation{Name: req.Name, Port: port, Preferred: false}, nil
	}

	return cell.PortAllocation{}, &cell.PortAllocationError{
		Request: req.Name,
		Err:     errors.New("no free port after retries"),
	}
}

// PortEnv projects allocations onto environment variables. Requests
// without an EnvVar are omitted.
func PortEnv(reqs []cell.PortRequest, allocs []cell.PortAllocation) map[string]string {
	byName := make(map[string]uint16, len(allocs))
	for _, al := range allocs {
		byName[al.Name] = al.Port
	}

	env := make(map[string]string)
	for _, req := range reqs {
		if req.EnvVar == "" {
			continue
		}
		if port, ok := byName[req.Name]; ok {
			env[req.EnvVar] = strconv.Itoa(int(port))
		}
	}
	return env
}

func listenerPort(l net.Listener) (uint16, error) {
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %T", l.Addr())
	}
	return uint16(addr.Port), nil
}
