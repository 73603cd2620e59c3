package transaction

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// Manager owns the open/commit/abort protocol of every repository. All
// operations on one repository are serialized, so at most one transaction
// per repository is ever open through this process.
type Manager struct {
	backend domain.Backend
	log     *logger.Logger

	mu    sync.Mutex
	repos map[string]*repoState
}

type repoState struct {
	mu    sync.Mutex
	state domain.TxnState
}

func NewManager(backend domain.Backend, log *logger.Logger) *Manager {
	return &Manager{
		backend: backend,
		log:     log,
		repos:   make(map[string]*repoState),
	}
}

func (m *Manager) repo(name string) *repoState {
	m.mu.Lock()
	defer m.mu.Unlock()

	rs, ok := m.repos[name]
	if !ok {
		rs = &repoState{state: domain.TxnStateIdle}
		m.repos[name] = rs
	}
	return rs
}

// State reports the last state this process observed for the repository.
func (m *Manager) State(repository string) domain.TxnState {
	rs := m.repo(repository)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.state
}

func (m *Manager) IsOpen(ctx context.Context, repository string) (bool, error) {
	rs := m.repo(repository)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return m.isOpen(ctx, repository, rs)
}

// Open begins a transaction. An already open transaction is reused.
func (m *Manager) Open(ctx context.Context, repository string) error {
	rs := m.repo(repository)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return m.open(ctx, repository, rs)
}

// Commit publishes the open transaction. When publishing fails the
// transaction is aborted so the repository is left idle.
func (m *Manager) Commit(ctx context.Context, repository string) error {
	rs := m.repo(repository)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return m.commit(ctx, repository, rs)
}

// Abort is best effort: failures are logged and not returned.
func (m *Manager) Abort(ctx context.Context, repository string) {
	ctx = context.WithoutCancel(ctx)
	rs := m.repo(repository)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	m.abort(ctx, repository, rs)
}

// WithTransaction runs fn inside an open transaction and commits it. If fn
// fails the transaction is aborted and fn's error returned. The repository
// stays locked for the whole call.
//
// Cancellation is only honoured before the transaction is opened. Once
// begun, the transaction runs to its commit or abort.
func (m *Manager) WithTransaction(ctx context.Context, repository string, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	rs := m.repo(repository)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if err := m.open(ctx, repository, rs); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		m.abort(ctx, repository, rs)
		return err
	}
	return m.commit(ctx, repository, rs)
}

// Ingest bulk-imports an archive. Ingestion runs its own transaction, so an
// open one is published first. A failed ingestion is aborted. Like
// WithTransaction, it is not interrupted by cancellation once started.
func (m *Manager) Ingest(ctx context.Context, repository, archivePath, baseDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	rs := m.repo(repository)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	open, err := m.isOpen(ctx, repository, rs)
	if err != nil {
		return err
	}
	if open {
		if err := m.commit(ctx, repository, rs); err != nil {
			return err
		}
	}

	rs.state = domain.TxnStatePublishing
	if err := m.backend.Ingest(ctx, repository, archivePath, baseDir); err != nil {
		m.log.Error(ctx, "Archive ingestion failed, aborting", "repository", repository, "archive", archivePath, "error", err)
		m.abort(ctx, repository, rs)
		return fmt.Errorf("ingesting %s: %w", archivePath, err)
	}
	rs.state = domain.TxnStateIdle
	return nil
}

// RecoverStale aborts transactions left open by a previous run. It must be
// called before any new work is started.
func (m *Manager) RecoverStale(ctx context.Context, repositories []string) {
	for _, repository := range repositories {
		ctx := logger.WithRepository(ctx, repository)

		open, err := m.IsOpen(ctx, repository)
		if err != nil {
			m.log.Warn(ctx, "Cannot inspect repository state", "error", err)
			continue
		}
		if !open {
			continue
		}

		m.log.Warn(ctx, "Aborting stale transaction")
		m.Abort(ctx, repository)
	}
}

func (m *Manager) isOpen(ctx context.Context, repository string, rs *repoState) (bool, error) {
	open, err := m.backend.IsOpen(ctx, repository)
	if err != nil {
		return false, wrapUnavailable(err)
	}
	if open {
		rs.state = domain.TxnStateOpen
	} else if rs.state == domain.TxnStateOpen {
		rs.state = domain.TxnStateIdle
	}
	return open, nil
}

func (m *Manager) open(ctx context.Context, repository string, rs *repoState) error {
	open, err := m.isOpen(ctx, repository, rs)
	if err != nil {
		return err
	}
	if open {
		return nil
	}

	if err := m.backend.Begin(ctx, repository); err != nil {
		m.log.Error(ctx, "Cannot open transaction, aborting", "repository", repository, "error", err)
		m.abort(ctx, repository, rs)
		return wrapUnavailable(err)
	}
	rs.state = domain.TxnStateOpen
	m.log.Debug(ctx, "Transaction opened", "repository", repository)
	return nil
}

func (m *Manager) commit(ctx context.Context, repository string, rs *repoState) error {
	ctx = context.WithoutCancel(ctx)
	rs.state = domain.TxnStatePublishing
	if err := m.backend.Publish(ctx, repository); err != nil {
		m.log.Error(ctx, "Publish failed, aborting transaction", "repository", repository, "error", err)
		m.abort(ctx, repository, rs)
		if errors.Is(err, domain.ErrPublishFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrPublishFailed, err)
	}
	rs.state = domain.TxnStateIdle
	m.log.Debug(ctx, "Transaction published", "repository", repository)
	return nil
}

func (m *Manager) abort(ctx context.Context, repository string, rs *repoState) {
	ctx = context.WithoutCancel(ctx)
	rs.state = domain.TxnStateAborting
	if err := m.backend.Abort(ctx, repository); err != nil {
		m.log.Warn(ctx, "Abort failed", "repository", repository, "error", err)
	}
	rs.state = domain.TxnStateIdle
}

func wrapUnavailable(err error) error {
	if errors.Is(err, domain.ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrBackendUnavailable, err)
}
