package cell

import "fmt"

// PortRequest asks for one TCP port. Name must be unique within a
// batch. Preferred 0 means no preference; EnvVar, when set, names the
// environment variable the granted port is exported under.
type PortRequest struct {
	Name      string `json:"name"`
	Preferred uint16 `json:"preferred,omitempty"`
	EnvVar    string `json:"env_var,omitempty"`
}

// PortAllocation is the granted port for one request. Preferred is
// true only when the requested preferred port was actually granted.
type PortAllocation struct {
	Name      string `json:"name"`
	Port      uint16 `json:"port"`
	Preferred bool   `json:"preferred"`
}

// PortAllocationError reports the request that made a batch fail.
// Allocation is all-or-nothing: when this error is returned no ports
// from the batch remain reserved.
type PortAllocationError struct {
	Request string
	Err     error
}

func (e *PortAllocationError) Error() string {
	return fmt.Sprintf("allocate port for %q: %v", e.Request, e.Err)
}

func (e *PortAllocationError) Unwrap() error { return e.Err }
