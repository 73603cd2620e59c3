package domain

import (
	"context"
	"io"
)

// Backend is the versioned repository store. The cvmfs package implements it
// on top of the cvmfs_server command line tool.
type Backend interface {
	IsOpen(ctx context.Context, repository string) (bool, error)
	Begin(ctx context.Context, repository string) error
	Publish(ctx context.Context, repository string) error
	Abort(ctx context.Context, repository string) error
	Ingest(ctx context.Context, repository, archivePath, baseDir string) error
	// Create returns ErrRepositoryExists when the repository is already there.
	Create(ctx context.Context, repository, keyDir string) error
}

// ObjectStore downloads objects. A missing object is reported as
// DownloadNotFound with a nil error.
type ObjectStore interface {
	Download(ctx context.Context, bucket, key string, w io.WriterAt) (DownloadResult, error)
}

type SecretStore interface {
	FetchKeys(ctx context.Context, req CreationRequest) (RepositoryKeys, error)
}

// TopicRegistrar creates the notification topic a bucket publishes to.
type TopicRegistrar interface {
	CreateTopic(ctx context.Context, name string) (string, error)
}

// QueueProvisioner declares a repository queue and binds it to the
// notification exchange.
type QueueProvisioner interface {
	DeclareRepositoryQueue(ctx context.Context, name string) error
}

// Notifier forwards operator alerts. It never blocks and never fails.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome TransactionOutcome)
}

type StatusRepository interface {
	AddOutcome(ctx context.Context, outcome TransactionOutcome) error
	GetOutcomes(ctx context.Context, repository string, limit int) ([]TransactionOutcome, error)
	ListRepositories(ctx context.Context) ([]string, error)
	SetConsumerState(ctx context.Context, state ConsumerState) error
	ListConsumerStates(ctx context.Context) ([]ConsumerState, error)
}
