package launcher

import (
	"fmt"
	"sync"

	"github.com/cellbox-dev/cellbox/internal/domain/cell"
)

var (
	mu        sync.RWMutex
	launchers = make(map[cell.ServiceKind]Launcher)
)

// Register makes a launcher available for its service kind.
// It is typically called during wiring in main.
func Register(l Launcher) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := launchers[l.Kind()]; exists {
		panic(fmt.Sprintf("launcher: duplicate registration for %q", l.Kind()))
	}
	launchers[l.Kind()] = l
}

// For returns the launcher registered for the given service kind.
func For(kind cell.ServiceKind) (Launcher, error) {
	mu.RLock()
	l, ok := launchers[kind]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("launcher: unknown service kind %q", kind)
	}
	return l, nil
}

// Available returns the registered service kinds.
func Available() []cell.ServiceKind {
	mu.RLock()
	defer mu.RUnlock()

	kinds := make([]cell.ServiceKind, 0, len(launchers))
	for k := range launchers {
		kinds = append(kinds, k)
	}
	return kinds
}
