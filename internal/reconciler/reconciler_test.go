package reconciler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/internal/staging"
	"github.com/infn-datacloud/cvmfs-publisher/internal/testutil"
	"github.com/infn-datacloud/cvmfs-publisher/internal/transaction"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

const repo = "repo07.infn.it"

type fixture struct {
	cfg      *config.Config
	area     *staging.Area
	backend  *testutil.Backend
	notifier *testutil.Notifier
	recorder *testutil.Recorder
	rec      *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.CVMFS.RepositoryRoot = t.TempDir()
	cfg.CVMFS.StagingRoot = t.TempDir()
	cfg.Sync.Interval = config.Duration{Duration: time.Hour}
	cfg.Sync.MinInterval = config.Duration{Duration: 0}

	f := &fixture{
		cfg:      cfg,
		area:     staging.New(cfg.CVMFS.StagingRoot),
		backend:  testutil.NewBackend(),
		notifier: &testutil.Notifier{},
		recorder: &testutil.Recorder{},
	}
	require.NoError(t, f.area.Ensure(repo))

	log := logger.NewNop()
	mgr := transaction.NewManager(f.backend, log)
	f.rec = New(cfg, f.area, mgr, f.notifier, f.recorder, log)
	return f
}

func (f *fixture) stageUpload(t *testing.T, rel, content string) string {
	t.Helper()
	dest, err := f.area.UploadPath(repo, rel)
	require.NoError(t, err)
	_, err = f.area.WriteAtomic(dest, func(file *os.File) (bool, error) {
		_, err := file.WriteString(content)
		return true, err
	})
	require.NoError(t, err)
	return dest
}

func (f *fixture) stageArchive(t *testing.T, rel string) string {
	t.Helper()
	dest, err := f.area.ArchivePath(repo, rel)
	require.NoError(t, err)
	_, err = f.area.WriteAtomic(dest, func(file *os.File) (bool, error) {
		_, err := file.WriteString("tarball")
		return true, err
	})
	require.NoError(t, err)
	return dest
}

func (f *fixture) published(rel string) string {
	return filepath.Join(f.cfg.CVMFS.RepositoryRoot, repo, filepath.FromSlash(rel))
}

func (f *fixture) writePublished(t *testing.T, rel, content string) string {
	t.Helper()
	p := f.published(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestSweep_PublishesStagedUploads(t *testing.T) {
	f := newFixture(t)
	staged := f.stageUpload(t, "tools/foo.bin", "foo")

	f.rec.Sweep(context.Background())

	data, err := os.ReadFile(f.published("tools/foo.bin"))
	require.NoError(t, err)
	assert.Equal(t, "foo", string(data))
	assert.NoFileExists(t, staged)
	assert.NoDirExists(t, filepath.Dir(staged))
	assert.Equal(t, []string{"begin " + repo, "publish " + repo}, f.backend.Calls())

	outcomes := f.recorder.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.MutationUpload, outcomes[0].Class)
	assert.True(t, outcomes[0].Committed)
	assert.Equal(t, 1, outcomes[0].Entries)
	assert.Empty(t, f.notifier.Messages())
}

func TestSweep_NothingStagedOpensNoTransaction(t *testing.T) {
	f := newFixture(t)

	f.rec.Sweep(context.Background())

	assert.Empty(t, f.backend.Calls())
	assert.Empty(t, f.recorder.Outcomes())
}

func TestSweep_PublishFailureKeepsStagedFiles(t *testing.T) {
	f := newFixture(t)
	const failing = "repo03.infn.it"
	require.NoError(t, f.area.Ensure(failing))

	dest, err := f.area.UploadPath(failing, "data.csv")
	require.NoError(t, err)
	_, err = f.area.WriteAtomic(dest, func(file *os.File) (bool, error) {
		_, err := file.WriteString("a,b")
		return true, err
	})
	require.NoError(t, err)
	f.backend.PublishErr[failing] = errors.New("publish: lease expired")

	f.rec.Sweep(context.Background())

	assert.FileExists(t, dest)
	assert.False(t, f.backend.Open(failing))
	assert.Contains(t, f.backend.Calls(), "abort "+failing)
	assert.True(t, f.notifier.Contains(failing))

	// Next sweep retries from scratch and succeeds
	delete(f.backend.PublishErr, failing)
	f.backend.Reset()
	f.rec.Sweep(context.Background())

	assert.NoFileExists(t, dest)
	assert.Equal(t, []string{"begin " + failing, "publish " + failing}, f.backend.Calls())
}

func TestSweep_ScrubsMultipartArtifacts(t *testing.T) {
	f := newFixture(t)
	f.stageUpload(t, "tools/foo.bin", "foo")
	artifact := f.writePublished(t, "tools/foo.bin.0a1B2c3D", "partial")
	unrelated := f.writePublished(t, "tools/notes.txt", "keep")
	elsewhere := f.writePublished(t, "other/bar.deadbeef", "untouched dir")

	f.rec.Sweep(context.Background())

	assert.NoFileExists(t, artifact)
	assert.FileExists(t, unrelated)
	assert.FileExists(t, elsewhere)
	assert.FileExists(t, f.published("tools/foo.bin"))
}

func TestSweep_KeepsFileReplacedDuringPublish(t *testing.T) {
	f := newFixture(t)
	staged := f.stageUpload(t, "tools/foo.bin", "v1")

	f.backend.OnPublish = func(string) {
		// A newer version is staged while the transaction is publishing
		f.stageUpload(t, "tools/foo.bin", "version 2")
		f.backend.OnPublish = nil
	}

	f.rec.Sweep(context.Background())

	data, err := os.ReadFile(staged)
	require.NoError(t, err)
	assert.Equal(t, "version 2", string(data))

	f.rec.Sweep(context.Background())
	assert.NoFileExists(t, staged)
	data, err = os.ReadFile(f.published("tools/foo.bin"))
	require.NoError(t, err)
	assert.Equal(t, "version 2", string(data))
}

func TestSweep_DeleteMissingTargetIsNotAFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.area.AppendDelete(repo, f.published("tools/gone.bin")))

	f.rec.Sweep(context.Background())

	assert.Empty(t, f.notifier.Messages())
	assert.NoFileExists(t, f.area.MarkerPath(repo))
	outcomes := f.recorder.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.MutationDelete, outcomes[0].Class)
	assert.True(t, outcomes[0].Committed)
}

func TestSweep_DuplicateDeletes(t *testing.T) {
	f := newFixture(t)
	target := f.writePublished(t, "tools/foo.bin", "foo")
	require.NoError(t, f.area.AppendDelete(repo, target))
	require.NoError(t, f.area.AppendDelete(repo, target))

	f.rec.Sweep(context.Background())

	assert.NoFileExists(t, target)
	assert.NoFileExists(t, f.area.MarkerPath(repo))
	assert.Empty(t, f.notifier.Messages())
}

func TestSweep_FailedDeletesStayInOrder(t *testing.T) {
	f := newFixture(t)
	ok1 := f.writePublished(t, "a.bin", "a")
	bad1 := f.writePublished(t, "dir1/inner.bin", "x")
	ok2 := f.writePublished(t, "b.bin", "b")
	bad2 := f.writePublished(t, "dir2/inner.bin", "y")

	// Non-empty directories cannot be removed as plain files
	lines := []string{ok1, filepath.Dir(bad1), ok2, filepath.Dir(bad2)}
	for _, l := range lines {
		require.NoError(t, f.area.AppendDelete(repo, l))
	}

	f.rec.Sweep(context.Background())

	assert.NoFileExists(t, ok1)
	assert.NoFileExists(t, ok2)
	data, err := os.ReadFile(f.area.MarkerPath(repo))
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(bad1)+"\n"+filepath.Dir(bad2)+"\n", string(data))
	assert.Len(t, f.notifier.Messages(), 2)
}

func TestSweep_DeleteCommitFailureLeavesMarker(t *testing.T) {
	f := newFixture(t)
	target := f.writePublished(t, "a.bin", "a")
	require.NoError(t, f.area.AppendDelete(repo, target))
	before, err := os.ReadFile(f.area.MarkerPath(repo))
	require.NoError(t, err)
	f.backend.PublishErr[repo] = errors.New("publish failed")

	f.rec.Sweep(context.Background())

	after, err := os.ReadFile(f.area.MarkerPath(repo))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Contains(t, f.backend.Calls(), "abort "+repo)
}

func TestSweep_DeleteOutsideRepositoryIsDropped(t *testing.T) {
	f := newFixture(t)
	outside := filepath.Join(t.TempDir(), "precious")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))
	require.NoError(t, f.area.AppendDelete(repo, outside))
	require.NoError(t, f.area.AppendDelete(repo, f.published("../"+repo+"-other/x")))

	f.rec.Sweep(context.Background())

	assert.FileExists(t, outside)
	assert.NoFileExists(t, f.area.MarkerPath(repo))
	assert.True(t, f.notifier.Contains("outside repository"))
}

func TestSweep_DeleteArchiveRemovesExtractedTree(t *testing.T) {
	f := newFixture(t)
	f.writePublished(t, "software/bundle/bin/tool", "elf")
	f.writePublished(t, "software/other/keep", "keep")
	f.writePublished(t, "tools/bundle/keep", "not extracted")

	require.NoError(t, f.area.AppendDelete(repo, f.published("tools/bundle.tar")))

	f.rec.Sweep(context.Background())

	assert.NoDirExists(t, f.published("software/bundle"))
	assert.FileExists(t, f.published("software/other/keep"))
	assert.FileExists(t, f.published("tools/bundle/keep"))
	assert.NoFileExists(t, f.area.MarkerPath(repo))
}

func TestSweep_IngestsArchives(t *testing.T) {
	f := newFixture(t)
	top := f.stageArchive(t, "bundle.tar")
	nested := f.stageArchive(t, "tools/bundle.tar")

	f.rec.Sweep(context.Background())

	ingests := f.backend.Ingests()
	require.Len(t, ingests, 2)
	bases := map[string]string{}
	for _, in := range ingests {
		bases[in.ArchivePath] = in.BaseDir
	}
	assert.Equal(t, "software/", bases[top])
	assert.Equal(t, "software/", bases[nested])
	assert.NoFileExists(t, top)
	assert.NoFileExists(t, nested)
}

func TestSweep_IngestFailureKeepsArchive(t *testing.T) {
	f := newFixture(t)
	archive := f.stageArchive(t, "bundle.tar")
	f.backend.IngestErr[repo] = errors.New("ingest: bad tar header")

	f.rec.Sweep(context.Background())

	assert.FileExists(t, archive)
	assert.Contains(t, f.backend.Calls(), "abort "+repo)
	assert.True(t, f.notifier.Contains("bad tar header"))

	outcomes := f.recorder.Outcomes()
	require.Len(t, outcomes, 1)
	assert.Equal(t, domain.MutationExtract, outcomes[0].Class)
	assert.False(t, outcomes[0].Committed)
}

func TestSweep_ClassOrder(t *testing.T) {
	f := newFixture(t)
	f.stageUpload(t, "a.bin", "a")
	require.NoError(t, f.area.AppendDelete(repo, f.published("gone.bin")))
	f.stageArchive(t, "bundle.tar")

	f.rec.Sweep(context.Background())

	assert.Equal(t, []string{
		"begin " + repo, "publish " + repo,
		"begin " + repo, "publish " + repo,
		"ingest " + repo + " software/",
	}, f.backend.Calls())
	assert.Zero(t, f.backend.Violations())
}

func TestSweep_OneRepositoryFailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	const other = "repo01.infn.it"
	require.NoError(t, f.area.Ensure(other))
	f.backend.BeginErr[other] = errors.New("backend down")

	dest, err := f.area.UploadPath(other, "x.bin")
	require.NoError(t, err)
	_, err = f.area.WriteAtomic(dest, func(file *os.File) (bool, error) {
		_, err := file.WriteString("x")
		return true, err
	})
	require.NoError(t, err)
	f.stageUpload(t, "y.bin", "y")

	f.rec.Sweep(context.Background())

	assert.FileExists(t, dest)
	assert.FileExists(t, f.published("y.bin"))
}

func TestRecover_AbortsStaleTransactions(t *testing.T) {
	f := newFixture(t)
	f.backend.SetOpen(repo, true)
	tmp := filepath.Join(f.area.RepositoryDir(repo), staging.UploadDir, ".incoming-abandoned")
	require.NoError(t, os.WriteFile(tmp, []byte("half"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(tmp, old, old))

	f.rec.Recover(context.Background())

	assert.False(t, f.backend.Open(repo))
	assert.Equal(t, []string{"abort " + repo}, f.backend.Calls())
	assert.NoFileExists(t, tmp)
}

func TestRun_WatchTriggersEarlySweep(t *testing.T) {
	f := newFixture(t)
	f.cfg.Sync.WatchStaging = true
	f.rec = New(f.cfg, f.area, transaction.NewManager(f.backend, logger.NewNop()), f.notifier, f.recorder, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- f.rec.Run(ctx) }()

	// Let the initial sweep and watch registration happen
	time.Sleep(100 * time.Millisecond)
	f.stageUpload(t, "late.bin", "late")

	assert.Eventually(t, func() bool {
		_, err := os.Stat(f.published("late.bin"))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSweep_CancelDuringPublishCompletesTransaction(t *testing.T) {
	f := newFixture(t)
	staged := f.stageUpload(t, "tools/foo.bin", "foo")
	require.NoError(t, f.area.AppendDelete(repo, f.writePublished(t, "tools/old.bin", "old")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.backend.OnPublish = func(string) { cancel() }

	f.rec.Sweep(ctx)

	assert.Equal(t, []string{"begin " + repo, "publish " + repo}, f.backend.Calls())
	assert.False(t, f.backend.Open(repo))
	assert.FileExists(t, f.published("tools/foo.bin"))
	assert.NoFileExists(t, staged)
	// Deletes are the next class and wait for the next run.
	assert.FileExists(t, f.published("tools/old.bin"))
	assert.FileExists(t, f.area.MarkerPath(repo))
}

func TestCopyFile_PreservesModTime(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("foo"), 0o644))
	mtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	dst := filepath.Join(dir, "out", "dst")
	require.NoError(t, copyFile(src, dst))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))
}
