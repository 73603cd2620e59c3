package reconciler

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/infn-datacloud/cvmfs-publisher/internal/staging"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// watcher signals new staged work. fsnotify is not recursive, so only the
// staging root, the repository directories and their class directories are
// watched; deeper changes are picked up by the periodic sweep.
type watcher struct {
	fs   *fsnotify.Watcher
	area *staging.Area
	log  *logger.Logger
	wake chan struct{}
	done chan struct{}
}

func newWatcher(ctx context.Context, area *staging.Area, log *logger.Logger) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(area.Root(), 0o755); err != nil {
		fw.Close()
		return nil, err
	}
	if err := fw.Add(area.Root()); err != nil {
		fw.Close()
		return nil, err
	}

	w := &watcher{
		fs:   fw,
		area: area,
		log:  log,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	repos, err := area.Repositories()
	if err != nil {
		fw.Close()
		return nil, err
	}
	for _, repo := range repos {
		w.addRepository(ctx, repo)
	}

	go w.loop(ctx)
	return w, nil
}

func (w *watcher) Wake() <-chan struct{} {
	return w.wake
}

func (w *watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}

func (w *watcher) addRepository(ctx context.Context, repo string) {
	dir := w.area.RepositoryDir(repo)
	for _, p := range []string{
		dir,
		filepath.Join(dir, staging.UploadDir),
		filepath.Join(dir, staging.DeleteDir),
		filepath.Join(dir, staging.ExtractDir),
	} {
		if err := w.fs.Add(p); err != nil && !os.IsNotExist(err) {
			w.log.Warn(ctx, "Cannot watch staging directory", "path", p, "error", err)
		}
	}
}

func (w *watcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn(ctx, "Staging watch error", "error", err)
		}
	}
}

func (w *watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	name := filepath.Base(ev.Name)
	if staging.IsTemporary(name) || filepath.Ext(name) == ".lock" {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if filepath.Dir(ev.Name) == filepath.Clean(w.area.Root()) {
				w.addRepository(ctx, name)
			} else if err := w.fs.Add(ev.Name); err != nil {
				w.log.Debug(ctx, "Cannot watch directory", "path", ev.Name, "error", err)
			}
		}
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
}
