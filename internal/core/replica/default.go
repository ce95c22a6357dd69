package replica

import "sync"

var (
	defaultMu    sync.Mutex
	defaultStore *Store
)

// Default returns the process-wide store. Until SetDefault is called it is a
// detached store that only queues.
func Default() *Store {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultStore == nil {
		defaultStore = New(nil)
	}
	return defaultStore
}

// SetDefault installs s as the process-wide store and returns the previous
// one, which the caller owns from then on.
func SetDefault(s *Store) *Store {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	previous := defaultStore
	defaultStore = s
	return previous
}
