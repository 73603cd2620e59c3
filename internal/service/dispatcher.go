package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/infn-datacloud/cvmfs-publisher/internal/config"
	"github.com/infn-datacloud/cvmfs-publisher/internal/domain"
	"github.com/infn-datacloud/cvmfs-publisher/internal/staging"
	"github.com/infn-datacloud/cvmfs-publisher/pkg/logger"
)

// Dispatcher stages the changes described by object store notifications.
// A nil error means the notification is durably staged, or needs no staging,
// and may be acknowledged.
type Dispatcher struct {
	parser *NotificationParser
	area   *staging.Area
	store  domain.ObjectStore
	log    *logger.Logger

	keyPrefix      string
	domainSuffix   string
	archiveExt     string
	repositoryRoot string
}

func NewDispatcher(
	cfg *config.Config,
	parser *NotificationParser,
	area *staging.Area,
	store domain.ObjectStore,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		parser:         parser,
		area:           area,
		store:          store,
		log:            log,
		keyPrefix:      cfg.ObjectStore.KeyPrefix,
		domainSuffix:   cfg.CVMFS.DomainSuffix,
		archiveExt:     cfg.CVMFS.ArchiveExtension,
		repositoryRoot: cfg.CVMFS.RepositoryRoot,
	}
}

// RepositoryFor maps a bucket to the repository it publishes into.
func (d *Dispatcher) RepositoryFor(bucket string) string {
	return bucket + d.domainSuffix
}

// HandleMessage stages every record of a notification. Retryable failures
// take precedence over permanent ones, so a message with one record that
// could not be downloaded is redelivered as a whole.
func (d *Dispatcher) HandleMessage(ctx context.Context, body []byte) error {
	events, err := d.parser.Parse(body)
	if err != nil {
		return err
	}

	var permanent, retryable error
	for i, ev := range events {
		if err := d.Handle(ctx, ev); err != nil {
			err = fmt.Errorf("record %d (%s/%s): %w", i, ev.Bucket, ev.Key, err)
			if domain.IsPermanent(err) {
				permanent = errors.Join(permanent, err)
			} else {
				retryable = errors.Join(retryable, err)
			}
		}
	}
	if retryable != nil {
		return retryable
	}
	return permanent
}

// Handle stages one change event.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.ChangeEvent) error {
	repo := d.RepositoryFor(ev.Bucket)
	ctx = logger.WithRepository(ctx, repo)

	rel, err := d.relativePath(ev.Key)
	if err != nil {
		// Nothing that could ever be published: skip without retrying.
		d.log.Warn(ctx, "Ignoring object key", "key", ev.Key, "reason", err)
		return nil
	}

	switch ev.Operation {
	case domain.OperationCreated:
		if err := d.area.Ensure(repo); err != nil {
			return err
		}
		return d.stageCreated(ctx, repo, ev, rel)
	case domain.OperationRemoved:
		if err := d.area.Ensure(repo); err != nil {
			return err
		}
		return d.stageRemoved(ctx, repo, rel)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedOperation, ev.EventName)
	}
}

func (d *Dispatcher) relativePath(key string) (string, error) {
	if !strings.HasPrefix(key, d.keyPrefix) {
		return "", domain.ErrKeyOutsidePrefix
	}
	rest := strings.TrimPrefix(key, d.keyPrefix)
	if rest == "" || strings.HasSuffix(rest, "/") {
		return "", errors.New("directory placeholder")
	}
	rel, ok := domain.CleanRelative(rest)
	if !ok {
		return "", domain.ErrPathOutsideRepository
	}
	if staging.IsTemporary(path.Base(rel)) {
		return "", errors.New("name reserved for partial downloads")
	}
	return rel, nil
}

func (d *Dispatcher) stageCreated(ctx context.Context, repo string, ev domain.ChangeEvent, rel string) error {
	var (
		dest string
		err  error
	)
	if strings.HasSuffix(rel, d.archiveExt) {
		dest, err = d.area.ArchivePath(repo, rel)
	} else {
		dest, err = d.area.UploadPath(repo, rel)
	}
	if err != nil {
		return err
	}

	var size int64
	written, err := d.area.WriteAtomic(dest, func(f *os.File) (bool, error) {
		res, err := d.store.Download(ctx, ev.Bucket, ev.Key, f)
		if err != nil {
			return false, err
		}
		if res == domain.DownloadNotFound {
			return false, nil
		}
		if info, err := f.Stat(); err == nil {
			size = info.Size()
		}
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("downloading %s/%s: %w", ev.Bucket, ev.Key, err)
	}
	if !written {
		d.log.Info(ctx, "Object no longer exists, nothing to stage", "bucket", ev.Bucket, "key", ev.Key)
		return nil
	}

	d.log.Info(ctx, "Object staged",
		"bucket", ev.Bucket,
		"key", ev.Key,
		"path", dest,
		"size", humanize.Bytes(uint64(size)),
	)
	return nil
}

func (d *Dispatcher) stageRemoved(ctx context.Context, repo, rel string) error {
	target := filepath.Join(d.repositoryRoot, repo, filepath.FromSlash(rel))
	if err := d.area.AppendDelete(repo, target); err != nil {
		return fmt.Errorf("scheduling delete of %s: %w", target, err)
	}
	d.log.Info(ctx, "Delete scheduled", "path", target)
	return nil
}
