package namedlock

import "fmt"

// NewFactory resolves aether.syncContext.named.factory config values to a
// concrete Factory backend.
func NewFactory(name, localRepoBase string) (Factory, error) {
	switch name {
	case "", "rwlock-local":
		return NewLocalRWFactory(), nil
	case "semaphore-local":
		return NewLocalSemaphoreFactory(1), nil
	case "file-lock":
		return NewFileLockFactory(localRepoBase), nil
	case "noop":
		return NewNoopFactory(), nil
	default:
		return nil, fmt.Errorf("namedlock: unknown named lock factory %q", name)
	}
}
