package domain

import (
	"path"
	"strings"
	"time"
)

type Operation string

const (
	OperationCreated Operation = "Created"
	OperationRemoved Operation = "Removed"
	OperationUnknown Operation = "Unknown"
)

// OperationFromEventName maps an S3 notification event name such as
// "ObjectCreated:Put" or "s3:ObjectRemoved:Delete" to an Operation.
func OperationFromEventName(eventName string) Operation {
	name := strings.TrimPrefix(eventName, "s3:")
	switch {
	case strings.HasPrefix(name, "ObjectCreated"):
		return OperationCreated
	case strings.HasPrefix(name, "ObjectRemoved"):
		return OperationRemoved
	default:
		return OperationUnknown
	}
}

// ChangeEvent is one record of an object-store notification.
type ChangeEvent struct {
	Bucket      string
	Key         string
	EventName   string
	Operation   Operation
	PrincipalID string
	Timestamp   time.Time
}

type TxnState string

const (
	TxnStateIdle       TxnState = "idle"
	TxnStateOpen       TxnState = "open"
	TxnStatePublishing TxnState = "publishing"
	TxnStateAborting   TxnState = "aborting"
)

type MutationClass string

const (
	MutationUpload  MutationClass = "upload"
	MutationDelete  MutationClass = "delete"
	MutationExtract MutationClass = "extract"
)

// UploadEntry is a staged file waiting to be copied into the repository, or
// an archive waiting for bulk ingestion when IsArchive is set.
type UploadEntry struct {
	DestinationPath string
	SourcePath      string
	IsArchive       bool
	Size            int64
	ModTime         time.Time
}

// DeleteEntry is one line of a repository's delete marker.
type DeleteEntry struct {
	TargetPath string
}

type TransactionOutcome struct {
	Repository string        `json:"repository"`
	Class      MutationClass `json:"class"`
	Committed  bool          `json:"committed"`
	Entries    int           `json:"entries"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

// RepositoryKeys is the signing material of a repository as stored in the
// secret store.
type RepositoryKeys struct {
	CertificateKey string
	GatewayKey     string
	PublicKey      string
	MasterKey      string
}

// KeyScope selects where the signing keys of a new repository are stored.
type KeyScope string

const (
	// KeyScopeAuto tries the personal location first, then the group one.
	KeyScopeAuto     KeyScope = ""
	KeyScopePersonal KeyScope = "personal"
	KeyScopeGroup    KeyScope = "group"
)

// CreationRequest asks for a new repository:
// username,subject_id,repository_name,issuer_url[,common_key_flag]
type CreationRequest struct {
	Username   string
	SubjectID  string
	Repository string
	IssuerURL  string
	Scope      KeyScope
}

// ShortName is the first label of a repository name. Queues, topics and
// buckets are named after it.
func ShortName(repository string) string {
	if i := strings.IndexByte(repository, '.'); i >= 0 {
		return repository[:i]
	}
	return repository
}

type DownloadResult int

const (
	DownloadFound DownloadResult = iota
	DownloadNotFound
)

func (r DownloadResult) String() string {
	if r == DownloadNotFound {
		return "not_found"
	}
	return "found"
}

type ConsumerStatus string

const (
	ConsumerRunning ConsumerStatus = "running"
	ConsumerStopped ConsumerStatus = "stopped"
	ConsumerFailed  ConsumerStatus = "failed"
)

type ConsumerState struct {
	Queue     string         `json:"queue"`
	Status    ConsumerStatus `json:"status"`
	StartedAt time.Time      `json:"started_at"`
	StoppedAt *time.Time     `json:"stopped_at,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}

// CleanRelative normalizes a slash separated relative path and reports
// whether it stays below its root.
func CleanRelative(p string) (string, bool) {
	if p == "" || strings.HasPrefix(p, "/") {
		return "", false
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", false
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", false
		}
	}
	return cleaned, true
}
