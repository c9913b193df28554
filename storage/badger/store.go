package badger

// Store bundles every repository over one BadgerDB backend.
type Store struct {
	Backend     *Backend
	Checkpoints *CheckpointRepository
	Leases      *LeaseRepository
	Runs        *RunRepository
	Config      *ConfigRepository
	Index       *IndexRepository
}

// Open opens a Store at path, or in memory.
func Open(path string, inMemory bool) (*Store, error) {
	backend, err := OpenBackend(path, inMemory)
	if err != nil {
		return nil, err
	}
	return &Store{
		Backend:     backend,
		Checkpoints: NewCheckpointRepository(backend),
		Leases:      NewLeaseRepository(backend),
		Runs:        NewRunRepository(backend),
		Config:      NewConfigRepository(backend),
		Index:       NewIndexRepository(backend),
	}, nil
}

// Close closes the backend shared by all repositories.
func (s *Store) Close() error {
	return s.Backend.Close()
}
