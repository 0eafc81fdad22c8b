// Package errs defines the typed error kinds shared by the resolution and
// installation pipelines. Call sites that need to distinguish kinds use
// errors.As instead of matching error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories the resolver/installer
// pipelines can produce.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindTransferFailed    Kind = "transfer_failed"
	KindFilteredOut       Kind = "filtered_out"
	KindOffline           Kind = "offline"
	KindNoConnector       Kind = "no_connector"
	KindVersionResolution Kind = "version_resolution"
	KindPolicyViolation   Kind = "policy_violation"
)

// RepositoryError is a per-remote error recorded against a candidate
// repository (or the local repository, encoded as RepositoryID == "").
type RepositoryError struct {
	Kind         Kind
	RepositoryID string
	Err          error
}

func (e *RepositoryError) Error() string {
	if e.RepositoryID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [%s]: %v", e.Kind, e.RepositoryID, e.Err)
}

func (e *RepositoryError) Unwrap() error { return e.Err }

// New builds a RepositoryError around a plain message.
func New(kind Kind, repositoryID, msg string) *RepositoryError {
	return &RepositoryError{Kind: kind, RepositoryID: repositoryID, Err: errors.New(msg)}
}

// Wrap builds a RepositoryError around an existing error.
func Wrap(kind Kind, repositoryID string, err error) *RepositoryError {
	if err == nil {
		return nil
	}
	return &RepositoryError{Kind: kind, RepositoryID: repositoryID, Err: err}
}

// Is supports errors.Is(err, errs.KindNotFound) style checks by comparing
// the Kind field; Kind itself is not an error, so this helper exists to
// make the common case ergonomic.
func Is(err error, kind Kind) bool {
	var re *RepositoryError
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// AggregatedBatch carries every per-request/per-remote error accumulated
// while resolving or installing a batch.
type AggregatedBatch struct {
	Message string
	Errors  []error
}

func (a *AggregatedBatch) Error() string {
	return fmt.Sprintf("%s (%d error(s))", a.Message, len(a.Errors))
}

func (a *AggregatedBatch) Unwrap() []error { return a.Errors }

// NewAggregatedBatch returns nil if errs is empty, so callers can always
// return NewAggregatedBatch(msg, errs) without an extra len check.
func NewAggregatedBatch(message string, errors []error) error {
	if len(errors) == 0 {
		return nil
	}
	return &AggregatedBatch{Message: message, Errors: errors}
}
