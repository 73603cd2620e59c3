package reconciler

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/internal/staging"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// Leftovers of interrupted multipart downloads: name.XXXXXXXX
var artifactPattern = regexp.MustCompile(`.*\.[a-fA-F0-9]{8}$`)

// Transactions is the part of transaction.Manager the reconciler drives.
type Transactions interface {
	WithTransaction(ctx context.Context, repository string, fn func(ctx context.Context) error) error
	Ingest(ctx context.Context, repository, archivePath, baseDir string) error
	RecoverStale(ctx context.Context, repositories []string)
}

// Reconciler drains the staging area into the repositories. Within a sweep
// repositories are processed one after the other, and for each repository
// uploads, deletes and archives run in that order, each class in its own
// transaction.
type Reconciler struct {
	area     *staging.Area
	txn      Transactions
	notifier domain.Notifier
	recorder domain.OutcomeRecorder
	log      *logger.Logger

	repositoryRoot string
	archiveExt     string
	archiveBaseDir string
	interval       time.Duration
	minInterval    time.Duration
	staleTempAge   time.Duration
	watch          bool
}

func New(
	cfg *config.Config,
	area *staging.Area,
	txn Transactions,
	notifier domain.Notifier,
	recorder domain.OutcomeRecorder,
	log *logger.Logger,
) *Reconciler {
	return &Reconciler{
		area:           area,
		txn:            txn,
		notifier:       notifier,
		recorder:       recorder,
		log:            log,
		repositoryRoot: cfg.CVMFS.RepositoryRoot,
		archiveExt:     cfg.CVMFS.ArchiveExtension,
		archiveBaseDir: cfg.CVMFS.ArchiveBaseDir,
		interval:       cfg.Sync.Interval.Duration,
		minInterval:    cfg.Sync.MinInterval.Duration,
		staleTempAge:   cfg.Sync.StaleTempAge.Duration,
		watch:          cfg.Sync.WatchStaging,
	}
}

// Recover aborts transactions left open by a previous process and clears
// abandoned partial downloads.
func (r *Reconciler) Recover(ctx context.Context) {
	repos, err := r.area.Repositories()
	if err != nil {
		r.log.Error(ctx, "Cannot list staged repositories", "error", err)
		return
	}

	r.txn.RecoverStale(ctx, repos)

	if r.staleTempAge <= 0 {
		return
	}
	for _, repo := range repos {
		n, err := r.area.RemoveStaleTemp(repo, r.staleTempAge)
		if err != nil {
			r.log.Warn(ctx, "Cannot clear partial downloads", "repository", repo, "error", err)
			continue
		}
		if n > 0 {
			r.log.Info(ctx, "Cleared partial downloads", "repository", repo, "count", n)
		}
	}
}

// Run recovers stale state, then sweeps every interval until ctx is done.
// With staging watching enabled, new staged work triggers an earlier sweep,
// at most once per minimum interval.
func (r *Reconciler) Run(ctx context.Context) error {
	r.Recover(ctx)

	var wake <-chan struct{}
	if r.watch {
		w, err := newWatcher(ctx, r.area, r.log)
		if err != nil {
			r.log.Warn(ctx, "Staging watch disabled", "error", err)
		} else {
			defer w.Close()
			wake = w.Wake()
		}
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Sweep(ctx)
	last := time.Now()

	var early <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			r.log.Info(ctx, "Reconciler stopped")
			return nil
		case <-ticker.C:
			early = nil
			r.Sweep(ctx)
			last = time.Now()
		case <-wake:
			if early != nil {
				continue
			}
			wait := r.minInterval - time.Since(last)
			if wait < 0 {
				wait = 0
			}
			early = time.After(wait)
		case <-early:
			early = nil
			r.Sweep(ctx)
			last = time.Now()
		}
	}
}

// Sweep processes all staged work of all repositories once.
func (r *Reconciler) Sweep(ctx context.Context) {
	ctx = logger.WithTraceID(ctx, uuid.New().String())

	repos, err := r.area.Repositories()
	if err != nil {
		r.fail(ctx, fmt.Sprintf("Cannot list staged repositories: %v", err))
		return
	}

	for _, repo := range repos {
		if ctx.Err() != nil {
			return
		}
		r.reconcileRepository(logger.WithRepository(ctx, repo), repo)
	}
}

func (r *Reconciler) reconcileRepository(ctx context.Context, repo string) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(ctx, fmt.Sprintf("Reconciliation of %s panicked: %v", repo, p))
		}
	}()

	// A started transaction always completes; shutdown is only observed
	// between mutation classes.
	for _, step := range []func(context.Context, string){r.syncUploads, r.syncDeletes, r.syncArchives} {
		if ctx.Err() != nil {
			return
		}
		step(ctx, repo)
	}
}

func (r *Reconciler) repositoryDir(repo string) string {
	return filepath.Join(r.repositoryRoot, repo)
}

func (r *Reconciler) syncUploads(ctx context.Context, repo string) {
	entries, err := r.area.ListUploads(repo)
	if err != nil {
		r.fail(ctx, fmt.Sprintf("Cannot list staged uploads of %s: %v", repo, err))
		return
	}
	if len(entries) == 0 {
		return
	}

	root := r.repositoryDir(repo)
	var total int64

	err = r.txn.WithTransaction(ctx, repo, func(ctx context.Context) error {
		touched := make(map[string]struct{})
		for _, e := range entries {
			dst := filepath.Join(root, filepath.FromSlash(e.DestinationPath))
			if err := copyFile(e.SourcePath, dst); err != nil {
				return fmt.Errorf("copying %s: %w", e.DestinationPath, err)
			}
			total += e.Size
			touched[filepath.Dir(dst)] = struct{}{}
		}
		for dir := range touched {
			r.scrubArtifacts(ctx, dir)
		}
		return nil
	})
	r.record(ctx, repo, domain.MutationUpload, len(entries), err)
	if err != nil {
		r.fail(ctx, fmt.Sprintf("Upload transaction for %s failed: %v", repo, err))
		return
	}

	r.log.Info(ctx, "Uploads published", "files", len(entries), "size", humanize.Bytes(uint64(total)))

	for _, e := range entries {
		removed, err := r.area.Remove(e)
		if err != nil {
			r.log.Warn(ctx, "Cannot remove staged file", "path", e.SourcePath, "error", err)
			continue
		}
		if !removed {
			r.log.Info(ctx, "Staged file changed during publish, kept for next sweep", "path", e.DestinationPath)
		}
	}
	if err := r.area.PruneEmptyDirs(repo); err != nil {
		r.log.Warn(ctx, "Cannot prune staging directories", "error", err)
	}
}

func (r *Reconciler) scrubArtifacts(ctx context.Context, dir string) {
	names, err := readDirNames(dir)
	if err != nil {
		r.log.Warn(ctx, "Cannot scan for upload artifacts", "dir", dir, "error", err)
		return
	}
	for _, name := range names {
		if !artifactPattern.MatchString(name) {
			continue
		}
		p := filepath.Join(dir, name)
		if err := removeFile(p); err != nil {
			r.fail(ctx, fmt.Sprintf("Cannot delete upload artifact %s: %v", p, err))
			continue
		}
		r.log.Info(ctx, "Deleted upload artifact", "path", p)
	}
}

func (r *Reconciler) syncDeletes(ctx context.Context, repo string) {
	batch, err := r.area.ReadDeletes(repo)
	if err != nil {
		r.fail(ctx, fmt.Sprintf("Cannot read delete marker of %s: %v", repo, err))
		return
	}
	if len(batch.Entries) == 0 {
		if batch.Lines > 0 {
			// Only blank lines.
			if err := r.area.CompleteDeletes(repo, batch, nil); err != nil {
				r.log.Warn(ctx, "Cannot rewrite delete marker", "error", err)
			}
		}
		return
	}

	var failed []domain.DeleteEntry
	err = r.txn.WithTransaction(ctx, repo, func(ctx context.Context) error {
		failed = failed[:0]
		for _, e := range batch.Entries {
			if err := r.deleteTarget(ctx, repo, e.TargetPath); err != nil {
				r.fail(ctx, fmt.Sprintf("Cannot delete %s from %s: %v", e.TargetPath, repo, err))
				failed = append(failed, e)
			}
		}
		return nil
	})
	r.record(ctx, repo, domain.MutationDelete, len(batch.Entries)-len(failed), err)
	if err != nil {
		// The marker is left as it was: the aborted removals are replayed.
		r.fail(ctx, fmt.Sprintf("Delete transaction for %s failed: %v", repo, err))
		return
	}

	if err := r.area.CompleteDeletes(repo, batch, failed); err != nil {
		r.fail(ctx, fmt.Sprintf("Cannot rewrite delete marker of %s: %v", repo, err))
		return
	}
	r.log.Info(ctx, "Deletes published", "deleted", len(batch.Entries)-len(failed), "failed", len(failed))
}

// deleteTarget removes one marker line. A missing target is already
// converged and is not an error.
func (r *Reconciler) deleteTarget(ctx context.Context, repo, target string) error {
	root := r.repositoryDir(repo)
	clean := filepath.Clean(target)
	if !strings.HasPrefix(clean, root+string(filepath.Separator)) {
		r.fail(ctx, fmt.Sprintf("Dropping delete of %s: outside repository %s", target, repo))
		return nil
	}

	if strings.HasSuffix(clean, r.archiveExt) {
		name := strings.TrimSuffix(filepath.Base(clean), r.archiveExt)
		dir := filepath.Join(root, r.archiveBaseDir, name)
		found, err := removeTree(dir)
		if err != nil {
			return err
		}
		if !found {
			r.log.Info(ctx, "Extracted archive not found, nothing to delete", "path", dir)
			return nil
		}
		r.log.Info(ctx, "Deleted extracted archive", "path", dir)
		return nil
	}

	found, err := removeIfExists(clean)
	if err != nil {
		return err
	}
	if !found {
		r.log.Info(ctx, "File not found, nothing to delete", "path", clean)
		return nil
	}
	r.log.Info(ctx, "Deleted", "path", clean)
	return nil
}

func (r *Reconciler) syncArchives(ctx context.Context, repo string) {
	entries, err := r.area.ListArchives(repo)
	if err != nil {
		r.fail(ctx, fmt.Sprintf("Cannot list staged archives of %s: %v", repo, err))
		return
	}

	for _, e := range entries {
		base := r.ingestBase()
		err := r.txn.Ingest(ctx, repo, e.SourcePath, base)
		r.record(ctx, repo, domain.MutationExtract, 1, err)
		if err != nil {
			r.fail(ctx, fmt.Sprintf("Ingest of %s into %s failed: %v", e.DestinationPath, repo, err))
			continue
		}

		r.log.Info(ctx, "Archive ingested", "archive", e.DestinationPath, "base_dir", base, "size", humanize.Bytes(uint64(e.Size)))
		if _, err := r.area.Remove(e); err != nil {
			r.log.Warn(ctx, "Cannot remove staged archive", "path", e.SourcePath, "error", err)
		}
	}

	if len(entries) > 0 {
		if err := r.area.PruneEmptyDirs(repo); err != nil {
			r.log.Warn(ctx, "Cannot prune staging directories", "error", err)
		}
	}
}

// ingestBase is the repository directory an archive is extracted into: the
// archive's own directory joined with the archive base directory.
// ingestBase is the fixed directory every archive is extracted below,
// wherever the archive sat in the bucket.
func (r *Reconciler) ingestBase() string {
	return path.Clean(r.archiveBaseDir) + "/"
}

func (r *Reconciler) record(ctx context.Context, repo string, class domain.MutationClass, entries int, err error) {
	outcome := domain.TransactionOutcome{
		Repository: repo,
		Class:      class,
		Committed:  err == nil,
		Entries:    entries,
		At:         time.Now(),
	}
	if err != nil {
		outcome.Error = err.Error()
	}
	r.recorder.RecordOutcome(ctx, outcome)
}

func (r *Reconciler) fail(ctx context.Context, message string) {
	r.log.Error(ctx, message)
	r.notifier.Notify(ctx, message)
}
