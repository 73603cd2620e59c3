package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
)

func outcome(repo string, class domain.MutationClass, entries int) domain.TransactionOutcome {
	return domain.TransactionOutcome{
		Repository: repo,
		Class:      class,
		Committed:  true,
		Entries:    entries,
		At:         time.Now(),
	}
}

func TestMemoryStore_GetOutcomes_NewestFirst(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, store.AddOutcome(ctx, outcome("repo07.infn.it", domain.MutationUpload, 1)))
	require.NoError(t, store.AddOutcome(ctx, outcome("repo07.infn.it", domain.MutationDelete, 2)))
	require.NoError(t, store.AddOutcome(ctx, outcome("repo07.infn.it", domain.MutationExtract, 3)))

	got, err := store.GetOutcomes(ctx, "repo07.infn.it", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.MutationExtract, got[0].Class)
	assert.Equal(t, domain.MutationDelete, got[1].Class)

	all, err := store.GetOutcomes(ctx, "repo07.infn.it", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStore_GetOutcomes_NotFound(t *testing.T) {
	store := NewMemoryStore(10)

	_, err := store.GetOutcomes(context.Background(), "nonexistent", 5)
	assert.ErrorIs(t, err, domain.ErrRepositoryNotFound)
}

func TestMemoryStore_HistoryIsBounded(t *testing.T) {
	store := NewMemoryStore(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.AddOutcome(ctx, outcome("repo07.infn.it", domain.MutationUpload, i)))
	}

	got, err := store.GetOutcomes(ctx, "repo07.infn.it", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 5, got[0].Entries)
	assert.Equal(t, 3, got[2].Entries)
}

func TestMemoryStore_ListRepositories(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()

	require.NoError(t, store.AddOutcome(ctx, outcome("repo07.infn.it", domain.MutationUpload, 1)))
	require.NoError(t, store.AddOutcome(ctx, outcome("repo03.infn.it", domain.MutationUpload, 1)))
	require.NoError(t, store.AddOutcome(ctx, outcome("repo07.infn.it", domain.MutationDelete, 1)))

	names, err := store.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"repo03.infn.it", "repo07.infn.it"}, names)
}

func TestMemoryStore_ConsumerStates(t *testing.T) {
	store := NewMemoryStore(10)
	ctx := context.Background()
	started := time.Now()

	require.NoError(t, store.SetConsumerState(ctx, domain.ConsumerState{Queue: "repo07", Status: domain.ConsumerRunning, StartedAt: started}))
	require.NoError(t, store.SetConsumerState(ctx, domain.ConsumerState{Queue: "repo03", Status: domain.ConsumerRunning, StartedAt: started}))
	require.NoError(t, store.SetConsumerState(ctx, domain.ConsumerState{Queue: "repo07", Status: domain.ConsumerFailed, StartedAt: started, LastError: "boom"}))

	states, err := store.ListConsumerStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "repo03", states[0].Queue)
	assert.Equal(t, domain.ConsumerFailed, states[1].Status)
	assert.Equal(t, "boom", states[1].LastError)
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore(1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			repo := fmt.Sprintf("repo%02d.infn.it", i%3)
			for j := 0; j < 50; j++ {
				_ = store.AddOutcome(ctx, outcome(repo, domain.MutationUpload, j))
				_, _ = store.GetOutcomes(ctx, repo, 5)
			}
		}(i)
	}
	wg.Wait()

	names, err := store.ListRepositories(ctx)
	require.NoError(t, err)
	assert.Len(t, names, 3)
}
