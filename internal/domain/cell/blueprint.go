package cell

// Blueprint describes everything a provisioning run needs to build a
// cell: the source tree to copy, the services to launch, and the setup
// commands to run once services are up.
type Blueprint struct {
	Source   string        `json:"source,omitempty"`
	Services []ServiceSpec `json:"services"`
	Setup    [][]string    `json:"setup,omitempty"`
}

// PortRequests returns the batch of port requests, in service order.
// A service that declares no port gets none allocated; its record
// keeps Port 0 and the supervisor never reclaims a port for it.
func (b Blueprint) PortRequests() []PortRequest {
	var reqs []PortRequest
	for _, svc := range b.Services {
		req := svc.Port
		if req == (PortRequest{}) {
			continue
		}
		if req.Name == "" {
			req.Name = svc.Name
		}
		reqs = append(reqs, req)
	}
	return reqs
}
