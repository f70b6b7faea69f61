package tracker

import (
	"fmt"
	"sync"

	"github.com/steveyegge/beads-bridge/internal/types"
)

// Constructor creates a Backend from an opaque configuration map.
// Implementations register themselves with Register().
type Constructor func(config map[string]string) (Backend, error)

var (
	registry      = make(map[types.Backend]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a backend constructor.
// Called from init() functions in implementation packages.
func Register(b types.Backend, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("tracker: Register constructor is nil for backend %s", b))
	}
	if _, exists := registry[b]; exists {
		panic(fmt.Sprintf("tracker: Register called twice for backend %s", b))
	}
	registry[b] = constructor
}

// New creates a backend by name. Returns an error for unregistered
// backends, listing what is available.
func New(b types.Backend, config map[string]string) (Backend, error) {
	registryMutex.RLock()
	constructor, ok := registry[b]
	registryMutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("backend %q is not registered (registered: %v)", b, RegisteredBackends())
	}
	return constructor(config)
}

// RegisteredBackends returns all registered backend names.
func RegisteredBackends() []types.Backend {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	backends := make([]types.Backend, 0, len(registry))
	for b := range registry {
		backends = append(backends, b)
	}
	return backends
}
