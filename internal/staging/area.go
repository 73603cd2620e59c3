package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
)

// Layout of one repository below the staging root:
//
//	<root>/<repository>/
//	  upload/              plain files, mirroring the repository tree
//	  to_delete/<repository>.txt
//	  to_extract/          archives, mirroring the repository tree
const (
	UploadDir  = "upload"
	DeleteDir  = "to_delete"
	ExtractDir = "to_extract"

	tempPrefix = ".incoming-"
)

// Area is the durable staging area shared by the event dispatcher (writer)
// and the reconciler (reader). Files appear in it only through an atomic
// rename, so the reconciler never sees a partially written object.
type Area struct {
	root string
}

func New(root string) *Area {
	return &Area{root: root}
}

func (a *Area) Root() string {
	return a.root
}

func (a *Area) RepositoryDir(repository string) string {
	return filepath.Join(a.root, repository)
}

// Ensure creates the staging directories of a repository.
func (a *Area) Ensure(repository string) error {
	if err := validRepository(repository); err != nil {
		return err
	}
	for _, dir := range []string{UploadDir, DeleteDir, ExtractDir} {
		if err := os.MkdirAll(filepath.Join(a.root, repository, dir), 0o755); err != nil {
			return fmt.Errorf("creating staging directory %s: %w", dir, err)
		}
	}
	return nil
}

// Repositories lists the repositories that have a staging directory.
func (a *Area) Repositories() ([]string, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing staging root: %w", err)
	}

	var repos []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		repos = append(repos, e.Name())
	}
	sort.Strings(repos)
	return repos, nil
}

func (a *Area) UploadPath(repository, relPath string) (string, error) {
	return a.stagedPath(repository, UploadDir, relPath)
}

func (a *Area) ArchivePath(repository, relPath string) (string, error) {
	return a.stagedPath(repository, ExtractDir, relPath)
}

func (a *Area) stagedPath(repository, dir, relPath string) (string, error) {
	if err := validRepository(repository); err != nil {
		return "", err
	}
	rel, ok := domain.CleanRelative(relPath)
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrPathOutsideRepository, relPath)
	}
	return filepath.Join(a.root, repository, dir, filepath.FromSlash(rel)), nil
}

// WriteAtomic fills a temporary file next to dest and renames it into place.
// When fill reports keep=false or fails, nothing is left behind.
func (a *Area) WriteAtomic(dest string, fill func(f *os.File) (bool, error)) (bool, error) {
	dir := filepath.Dir(dest)

	tmp, err := createTemp(dir)
	if err != nil {
		return false, err
	}
	tmpName := tmp.Name()

	discard := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	keep, err := fill(tmp)
	if err != nil {
		discard()
		return false, err
	}
	if !keep {
		discard()
		return false, nil
	}

	if err := tmp.Sync(); err != nil {
		discard()
		return false, fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return false, fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return false, fmt.Errorf("moving %s into place: %w", dest, err)
	}

	syncDir(dir)
	return true, nil
}

func createTemp(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, tempPrefix+"*")
	if errors.Is(err, os.ErrNotExist) {
		// The reconciler pruned the directory in between.
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
		f, err = os.CreateTemp(dir, tempPrefix+"*")
	}
	if err != nil {
		return nil, fmt.Errorf("creating temporary file in %s: %w", dir, err)
	}
	return f, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	d.Sync()
	d.Close()
}

func (a *Area) ListUploads(repository string) ([]domain.UploadEntry, error) {
	return a.list(repository, UploadDir, false)
}

func (a *Area) ListArchives(repository string) ([]domain.UploadEntry, error) {
	return a.list(repository, ExtractDir, true)
}

func (a *Area) list(repository, dir string, archives bool) ([]domain.UploadEntry, error) {
	base := filepath.Join(a.root, repository, dir)

	var entries []domain.UploadEntry
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() || IsTemporary(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		entries = append(entries, domain.UploadEntry{
			DestinationPath: filepath.ToSlash(rel),
			SourcePath:      p,
			IsArchive:       archives,
			Size:            info.Size(),
			ModTime:         info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", base, err)
	}
	return entries, nil
}

// Remove deletes a staged file after its content has been committed. A file
// that was replaced since it was listed is left for the next sweep and
// Remove reports false.
func (a *Area) Remove(entry domain.UploadEntry) (bool, error) {
	info, err := os.Stat(entry.SourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if info.Size() != entry.Size || !info.ModTime().Equal(entry.ModTime) {
		return false, nil
	}
	if err := os.Remove(entry.SourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	return true, nil
}

// PruneEmptyDirs removes empty directories left below upload/ and
// to_extract/ once their files have been published.
func (a *Area) PruneEmptyDirs(repository string) error {
	for _, dir := range []string{UploadDir, ExtractDir} {
		base := filepath.Join(a.root, repository, dir)

		var dirs []string
		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() && p != base {
				dirs = append(dirs, p)
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Deepest first so parents become empty before they are visited.
		sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
		for _, d := range dirs {
			// Fails on non-empty directories, which is what we want.
			os.Remove(d)
		}
	}
	return nil
}

// RemoveStaleTemp deletes temporary download files older than maxAge. They
// are left behind when the process dies mid-download.
func (a *Area) RemoveStaleTemp(repository string, maxAge time.Duration) (int, error) {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, dir := range []string{UploadDir, ExtractDir} {
		base := filepath.Join(a.root, repository, dir)
		err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() || !IsTemporary(d.Name()) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(p); err == nil {
					removed++
				}
			}
			return nil
		})
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// IsTemporary reports whether name is an in-progress download.
func IsTemporary(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

func validRepository(repository string) error {
	if repository == "" || repository == "." || repository == ".." ||
		strings.ContainsAny(repository, `/\`) {
		return fmt.Errorf("%w: invalid repository name %q", domain.ErrPathOutsideRepository, repository)
	}
	return nil
}
