package store

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kozaktomas/photo-dedup/internal/config"
)

// OpenFunc opens a concrete store backend from configuration.
type OpenFunc func(cfg *config.Store) (Store, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]OpenFunc)
)

// RegisterDriver makes a backend available under the given driver name.
// Called from backend package init functions, mirroring database/sql.
func RegisterDriver(name string, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, dup := drivers[name]; dup {
		panic("store: RegisterDriver called twice for driver " + name)
	}
	drivers[name] = open
}

// Open opens the backend selected by cfg.Driver.
func Open(cfg *config.Store) (Store, error) {
	driversMu.RLock()
	open, ok := drivers[cfg.Driver]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown store driver %q (registered: %v)", cfg.Driver, driverNames())
	}
	return open(cfg)
}

func driverNames() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
