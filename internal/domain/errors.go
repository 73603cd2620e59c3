package domain

import "errors"

var (
	ErrBackendUnavailable    = errors.New("repository backend unavailable")
	ErrPublishFailed         = errors.New("repository publish failed")
	ErrRepositoryExists      = errors.New("repository already exists")
	ErrRepositoryNotFound    = errors.New("repository not found")
	ErrMalformedEvent        = errors.New("malformed event payload")
	ErrUnsupportedOperation  = errors.New("unsupported event operation")
	ErrKeyOutsidePrefix      = errors.New("object key outside published prefix")
	ErrMalformedRequest      = errors.New("malformed repository creation request")
	ErrSecretNotFound        = errors.New("secret not found")
	ErrPathOutsideRepository = errors.New("path outside repository")
)

// IsPermanent reports whether err describes a message that can never be
// processed successfully, however often it is redelivered.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, ErrUnsupportedOperation) ||
		errors.Is(err, ErrMalformedRequest)
}
