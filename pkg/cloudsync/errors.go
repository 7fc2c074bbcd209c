// Package cloudsync holds the domain model shared by the sync engine,
// migrator, shunt, and both provider variants: object references, large
// object manifests, profiles, status records, and the error taxonomy they
// all report through.
package cloudsync

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a CloudSyncError for retry and counter purposes (spec §7).
type ErrorKind string

const (
	KindTransientNetwork  ErrorKind = "transient_network"
	KindAuth              ErrorKind = "auth"
	KindRemote5xx         ErrorKind = "remote_5xx"
	KindRemote4xxClient   ErrorKind = "remote_4xx_client"
	KindNotFound          ErrorKind = "not_found"
	KindConflictNewer     ErrorKind = "conflict_newer"
	KindIntegrityMismatch ErrorKind = "integrity_mismatch"
	KindLargeObjectPolicy ErrorKind = "large_object_policy"
	KindConfigInvalid     ErrorKind = "config_invalid"
	KindStatusCorrupt     ErrorKind = "status_corrupt"
)

// Sentinels for errors.Is checks, mirroring the teacher's storage.go sentinel set.
var (
	ErrNotFound          = errors.New("cloudsync: object not found")
	ErrConflictNewer     = errors.New("cloudsync: local object newer than remote")
	ErrIntegrityMismatch = errors.New("cloudsync: uploaded etag does not match composite manifest etag")
	ErrLargeObjectPolicy = errors.New("cloudsync: large object violates provider policy")
	ErrConfigInvalid     = errors.New("cloudsync: invalid configuration")
	ErrStatusCorrupt     = errors.New("cloudsync: status record corrupt")
	ErrAborted           = errors.New("cloudsync: operation aborted")
)

// CloudSyncError wraps underlying errors with the operation, key and
// taxonomy kind needed to drive retry policy and statsd counters.
// Generalizes the teacher's StorageError{Op,Key,Err} (storage.go).
type CloudSyncError struct {
	Kind ErrorKind
	Op   string
	Key  string
	Err  error
}

func (e *CloudSyncError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("cloudsync %s[%s] %q: %v", e.Op, e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("cloudsync %s[%s]: %v", e.Op, e.Kind, e.Err)
}

func (e *CloudSyncError) Unwrap() error { return e.Err }

// NewError builds a CloudSyncError, the single constructor every provider's
// error mapper should funnel through.
func NewError(kind ErrorKind, op, key string, err error) *CloudSyncError {
	return &CloudSyncError{Kind: kind, Op: op, Key: key, Err: err}
}

// IsNotFound reports whether err is, or wraps, a not-found condition.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var cse *CloudSyncError
	if errors.As(err, &cse) {
		return cse.Kind == KindNotFound
	}
	return false
}

// IsConflictNewer reports whether err represents "remote is already newer",
// which spec §7 treats as success on the sync path.
func IsConflictNewer(err error) bool {
	if errors.Is(err, ErrConflictNewer) {
		return true
	}
	var cse *CloudSyncError
	if errors.As(err, &cse) {
		return cse.Kind == KindConflictNewer
	}
	return false
}

// KindOf extracts the ErrorKind from err, defaulting to KindRemote5xx for
// unclassified errors so the retry policy treats unknowns as retryable.
func KindOf(err error) ErrorKind {
	var cse *CloudSyncError
	if errors.As(err, &cse) {
		return cse.Kind
	}
	return KindRemote5xx
}

// Retryable reports whether the error kind should be retried with backoff
// per the policy table in spec §7.
func Retryable(kind ErrorKind) bool {
	switch kind {
	case KindTransientNetwork, KindRemote5xx:
		return true
	default:
		return false
	}
}
