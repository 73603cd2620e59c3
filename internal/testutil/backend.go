// Package testutil holds stateful fakes shared by package and integration
// tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
)

type IngestCall struct {
	Repository  string
	ArchivePath string
	BaseDir     string
}

// Backend is an in-memory domain.Backend. Begin on an already open
// repository is recorded as a violation, like cvmfs_server refusing a second
// transaction.
type Backend struct {
	mu sync.Mutex

	open       map[string]bool
	created    map[string]string
	calls      []string
	ingests    []IngestCall
	violations int

	BeginErr   map[string]error
	PublishErr map[string]error
	IngestErr  map[string]error
	IsOpenErr  error
	CreateErr  error

	// OnPublish runs before a publish is applied, outside the lock.
	OnPublish func(repository string)
}

func NewBackend() *Backend {
	return &Backend{
		open:       make(map[string]bool),
		created:    make(map[string]string),
		BeginErr:   make(map[string]error),
		PublishErr: make(map[string]error),
		IngestErr:  make(map[string]error),
	}
}

func (b *Backend) record(format string, args ...interface{}) {
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *Backend) IsOpen(_ context.Context, repository string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.IsOpenErr != nil {
		return false, b.IsOpenErr
	}
	return b.open[repository], nil
}

func (b *Backend) Begin(_ context.Context, repository string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("begin %s", repository)
	if err := b.BeginErr[repository]; err != nil {
		return err
	}
	if b.open[repository] {
		b.violations++
		return errors.New("repository is already in a transaction")
	}
	b.open[repository] = true
	return nil
}

func (b *Backend) Publish(_ context.Context, repository string) error {
	if hook := b.OnPublish; hook != nil {
		hook(repository)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("publish %s", repository)
	if err := b.PublishErr[repository]; err != nil {
		return err
	}
	if !b.open[repository] {
		return errors.New("repository is not in a transaction")
	}
	b.open[repository] = false
	return nil
}

func (b *Backend) Abort(_ context.Context, repository string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("abort %s", repository)
	b.open[repository] = false
	return nil
}

func (b *Backend) Ingest(_ context.Context, repository, archivePath, baseDir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("ingest %s %s", repository, baseDir)
	if b.open[repository] {
		b.violations++
		return errors.New("repository is in a transaction")
	}
	if err := b.IngestErr[repository]; err != nil {
		return err
	}
	b.ingests = append(b.ingests, IngestCall{Repository: repository, ArchivePath: archivePath, BaseDir: baseDir})
	return nil
}

func (b *Backend) Create(_ context.Context, repository, keyDir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("create %s", repository)
	if b.CreateErr != nil {
		return b.CreateErr
	}
	if _, ok := b.created[repository]; ok {
		return fmt.Errorf("%w: %s", domain.ErrRepositoryExists, repository)
	}
	b.created[repository] = keyDir
	return nil
}

// SetOpen simulates a transaction left open by someone else.
func (b *Backend) SetOpen(repository string, open bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open[repository] = open
}

func (b *Backend) Open(repository string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open[repository]
}

func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

func (b *Backend) Ingests() []IngestCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]IngestCall(nil), b.ingests...)
}

func (b *Backend) Violations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.violations
}

func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
	b.ingests = nil
}
