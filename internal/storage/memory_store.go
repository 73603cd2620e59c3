package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
)

const defaultHistory = 100

// MemoryStore keeps the recent transaction outcomes of every repository and
// the state of every queue consumer. Nothing survives a restart.
type MemoryStore struct {
	outcomes  map[string][]domain.TransactionOutcome
	consumers map[string]domain.ConsumerState
	history   int
	mu        sync.RWMutex
}

// NewMemoryStore keeps at most history outcomes per repository.
func NewMemoryStore(history int) *MemoryStore {
	if history < 1 {
		history = defaultHistory
	}
	return &MemoryStore{
		outcomes:  make(map[string][]domain.TransactionOutcome),
		consumers: make(map[string]domain.ConsumerState),
		history:   history,
	}
}

func (s *MemoryStore) AddOutcome(ctx context.Context, outcome domain.TransactionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.outcomes[outcome.Repository], outcome)
	if len(list) > s.history {
		list = append([]domain.TransactionOutcome(nil), list[len(list)-s.history:]...)
	}
	s.outcomes[outcome.Repository] = list

	return nil
}

// GetOutcomes returns up to limit outcomes of a repository, newest first.
// A limit below one returns all of them.
func (s *MemoryStore) GetOutcomes(ctx context.Context, repository string, limit int) ([]domain.TransactionOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list, exists := s.outcomes[repository]
	if !exists {
		return nil, domain.ErrRepositoryNotFound
	}

	if limit < 1 || limit > len(list) {
		limit = len(list)
	}
	out := make([]domain.TransactionOutcome, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, list[i])
	}
	return out, nil
}

func (s *MemoryStore) ListRepositories(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.outcomes))
	for name := range s.outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) SetConsumerState(ctx context.Context, state domain.ConsumerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.consumers[state.Queue] = state
	return nil
}

func (s *MemoryStore) ListConsumerStates(ctx context.Context) ([]domain.ConsumerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]domain.ConsumerState, 0, len(s.consumers))
	for _, st := range s.consumers {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Queue < states[j].Queue })
	return states, nil
}
