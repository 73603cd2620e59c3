package staging

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
)

// DeleteBatch is a snapshot of the delete marker. Lines counts every raw line
// consumed, blank ones included, so CompleteDeletes can keep whatever was
// appended after the snapshot was taken.
type DeleteBatch struct {
	Entries []domain.DeleteEntry
	Lines   int
}

func (a *Area) MarkerPath(repository string) string {
	return filepath.Join(a.root, repository, DeleteDir, repository+".txt")
}

func (a *Area) lockMarker(repository string) (*flock.Flock, error) {
	dir := filepath.Join(a.root, repository, DeleteDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", dir, err)
	}
	lock := flock.New(a.MarkerPath(repository) + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("locking delete marker of %s: %w", repository, err)
	}
	return lock, nil
}

// AppendDelete records an absolute repository path scheduled for removal.
func (a *Area) AppendDelete(repository, target string) error {
	if err := validRepository(repository); err != nil {
		return err
	}
	if target == "" || strings.ContainsAny(target, "\r\n") {
		return fmt.Errorf("%w: invalid delete target %q", domain.ErrPathOutsideRepository, target)
	}

	lock, err := a.lockMarker(repository)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	// Opened under the lock: a concurrent rewrite replaces the inode.
	f, err := os.OpenFile(a.MarkerPath(repository), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening delete marker: %w", err)
	}
	if _, err := f.WriteString(target + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("appending to delete marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing delete marker: %w", err)
	}
	return f.Close()
}

// ReadDeletes snapshots the delete marker. A missing marker is an empty batch.
func (a *Area) ReadDeletes(repository string) (DeleteBatch, error) {
	if err := validRepository(repository); err != nil {
		return DeleteBatch{}, err
	}

	lock, err := a.lockMarker(repository)
	if err != nil {
		return DeleteBatch{}, err
	}
	defer lock.Unlock()

	lines, err := readLines(a.MarkerPath(repository))
	if err != nil {
		return DeleteBatch{}, err
	}

	batch := DeleteBatch{Lines: len(lines)}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		batch.Entries = append(batch.Entries, domain.DeleteEntry{TargetPath: line})
	}
	return batch, nil
}

// CompleteDeletes rewrites the marker so that it holds the failed entries, in
// their original order, followed by every line appended after batch was read.
func (a *Area) CompleteDeletes(repository string, batch DeleteBatch, failed []domain.DeleteEntry) error {
	if err := validRepository(repository); err != nil {
		return err
	}

	lock, err := a.lockMarker(repository)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	path := a.MarkerPath(repository)
	lines, err := readLines(path)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for _, e := range failed {
		buf.WriteString(e.TargetPath)
		buf.WriteByte('\n')
	}
	if batch.Lines < len(lines) {
		for _, line := range lines[batch.Lines:] {
			if strings.TrimSpace(line) == "" {
				continue
			}
			buf.WriteString(line)
			buf.WriteByte('\n')
		}
	}

	if buf.Len() == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing delete marker: %w", err)
		}
		return nil
	}

	if current, err := os.ReadFile(path); err == nil && bytes.Equal(current, buf.Bytes()) {
		return nil
	}

	_, err = a.WriteAtomic(path, func(f *os.File) (bool, error) {
		_, err := f.Write(buf.Bytes())
		return true, err
	})
	return err
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading delete marker: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	lines := strings.Split(string(data), "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines, nil
}
