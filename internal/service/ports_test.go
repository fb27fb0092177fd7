package service

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/cellbox-dev/cellbox/internal/domain/cell"
)

func TestAllocate_UniqueWithinBatch(t *testing.T) {
	a := NewPortAllocator()

	reqs := []cell.PortRequest{
		{Name: "web"},
		{Name: "api"},
		{Name: "db"},
	}
	allocs, err := a.Allocate(context.Background(), reqs)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if len(allocs) != len(reqs) {
		t.Fatalf("expected %d allocations, got %d", len(reqs), len(allocs))
	}

	seen := make(map[uint16]string)
	for i, al := range allocs {
		if al.Name != reqs[i].Name {
			t.Errorf("allocation %d: name %q, want %q (order must be preserved)", i, al.Name, reqs[i].Name)
		}
		if al.Port == 0 {
			t.Errorf("allocation %q: port is zero", al.Name)
		}
		if prev, dup := seen[al.Port]; dup {
			t.Errorf("port %d granted to both %q and %q", al.Port, prev, al.Name)
		}
		seen[al.Port] = al.Name
	}
}

func TestAllocate_PreferredHonored(t *testing.T) {
	// Grab an ephemeral port, free it, and ask for it as preferred.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	_ = l.Close()

	a := NewPortAllocator()
	allocs, err := a.Allocate(context.Background(), []cell.PortRequest{
		{Name: "web", Preferred: port},
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if allocs[0].Port != port {
		t.Errorf("got port %d, want preferred %d", allocs[0].Port, port)
	}
	if !allocs[0].Preferred {
		t.Error("Preferred flag not set for a granted preferred port")
	}
}

func TestAllocate_PreferredBusyFallsBack(t *testing.T) {
	// Hold a port so the preference cannot be satisfied.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	busy := uint16(l.Addr().(*net.TCPAddr).Port)

	a := NewPortAllocator()
	allocs, err := a.Allocate(context.Background(), []cell.PortRequest{
		{Name: "web", Preferred: busy},
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if allocs[0].Port == busy {
		t.Errorf("granted the busy port %d", busy)
	}
	if allocs[0].Preferred {
		t.Error("Preferred flag set although the preference was not honored")
	}
}

func TestAllocate_SamePreferredTwiceInBatch(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	_ = l.Close()

	a := NewPortAllocator()
	allocs, err := a.Allocate(context.Background(), []cell.PortRequest{
		{Name: "first", Preferred: port},
		{Name: "second", Preferred: port},
	})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if allocs[0].Port != port || !allocs[0].Preferred {
		t.Errorf("first request should win its preference, got %+v", allocs[0])
	}
	if allocs[1].Port == port {
		t.Error("second request was granted an already-reserved port")
	}
	if allocs[1].Preferred {
		t.Error("second request marked preferred despite losing the port")
	}
}

func TestAllocate_FailureReturnsTypedErrorAndReleases(t *testing.T) {
	bindErr := errors.New("bind refused")
	calls := 0
	a := &PortAllocator{listen: func(network, addr string) (net.Listener, error) {
		calls++
		if calls > 1 {
			return nil, bindErr
		}
		return net.Listen(network, addr)
	}}

	_, err := a.Allocate(context.Background(), []cell.PortRequest{
		{Name: "web"},
		{Name: "api"},
	})
	if err == nil {
		t.Fatal("expected allocation error")
	}

	var allocErr *cell.PortAllocationError
	if !errors.As(err, &allocErr) {
		t.Fatalf("expected *cell.PortAllocationError, got %T", err)
	}
	if allocErr.Request != "api" {
		t.Errorf("error names request %q, want %q", allocErr.Request, "api")
	}
	if !errors.Is(err, bindErr) {
		t.Error("underlying cause not preserved")
	}
}

func TestAllocate_ReleasesReservationsOnSuccess(t *testing.T) {
	a := NewPortAllocator()
	allocs, err := a.Allocate(context.Background(), []cell.PortRequest{{Name: "web"}})
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	// The granted port must be bindable once Allocate returns.
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(allocs[0].Port))))
	if err != nil {
		t.Fatalf("granted port %d still held: %v", allocs[0].Port, err)
	}
	_ = l.Close()
}

func TestPortEnv_Projection(t *testing.T) {
	reqs := []cell.PortRequest{
		{Name: "web", EnvVar: "WEB_PORT"},
		{Name: "api"}, // no EnvVar: omitted
		{Name: "db", EnvVar: "DB_PORT"},
	}
	allocs := []cell.PortAllocation{
		{Name: "web", Port: 3000},
		{Name: "api", Port: 3001},
		{Name: "db", Port: 5432},
	}

	env := PortEnv(reqs, allocs)
	if len(env) != 2 {
		t.Fatalf("expected 2 env entries, got %d: %v", len(env), env)
	}
	if env["WEB_PORT"] != "3000" {
		t.Errorf("WEB_PORT = %q, want 3000", env["WEB_PORT"])
	}
	if env["DB_PORT"] != "5432" {
		t.Errorf("DB_PORT = %q, want 5432", env["DB_PORT"])
	}
	if _, ok := env["api"]; ok {
		t.Error("request without EnvVar leaked into the projection")
	}
}

func TestPortEnv_Empty(t *testing.T) {
	if env := PortEnv(nil, nil); len(env) != 0 {
		t.Errorf("expected empty map, got %v", env)
	}
}

