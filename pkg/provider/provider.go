// Package provider defines the capability surface that the sync engine,
// migrator and shunt drive against, and that the S3 and Swift adapters
// implement. Generalizes the teacher's storagex.Storage interface
// (storage.go) from a single-provider byte store to the two-protocol,
// large-object-aware surface spec §4.1 describes.
package provider

import (
	"context"
	"io"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
)

// PutOptions configures an object write. Generalizes the teacher's
// storagex.PutOptions with the large-object and conditional fields spec
// §4.1/§4.3 need.
type PutOptions struct {
	ContentType     string
	Metadata        map[string]string
	CacheControl    string
	ContentEncoding string

	// IfNewerThan makes the write conditional: the provider must reject
	// with cloudsync.ErrConflictNewer if the remote object's timestamp is
	// already >= this value (spec §4.3 "PUT only if local is newer").
	IfNewerThan *cloudsync.Timestamp

	// Timestamp overrides the write's X-Timestamp, letting the migrator
	// preserve the source object's original timestamp instead of stamping
	// the write with wall-clock time (spec §4.4 step 2 "preserve original
	// X-Timestamp from the source"). Providers without a settable
	// timestamp (S3) ignore it.
	Timestamp *cloudsync.Timestamp
}

// ListOptions configures a container listing.
type ListOptions struct {
	Prefix            string
	Delimiter         string
	PageSize          int32
	ContinuationToken string
}

// ListPage is one page of a container listing.
type ListPage struct {
	Objects        []cloudsync.ObjectRef
	CommonPrefixes []string
	NextToken      string
	IsTruncated    bool
}

// Reader is a streaming object body with a known or unknown size, mirroring
// the teacher's ReaderAtCloser.
type Reader interface {
	io.ReadCloser
	Size() int64
}

// Provider is the capability surface every object-storage backend
// (Swift, S3) must implement. Base methods only; optional capabilities are
// exposed through type assertions against the probe interfaces below
// instead of duck-typed attribute checks (spec §9 Go-native replacement
// for duck typing).
type Provider interface {
	// PutObject stores an object body. A Swift-protocol PUT and an
	// S3-protocol PutObject are both "PUT" at this level; large-object
	// translation happens above, in pkg/largeobject.
	PutObject(ctx context.Context, container, name string, r io.Reader, size int64, opts PutOptions) (cloudsync.ObjectRef, error)

	// PostObject updates metadata only, without touching the body
	// (Swift POST semantics; emulated on S3 via a same-key copy).
	PostObject(ctx context.Context, container, name string, metadata map[string]string) error

	// GetObject retrieves an object body and its metadata.
	GetObject(ctx context.Context, container, name string) (Reader, cloudsync.ObjectRef, error)

	// HeadObject retrieves metadata without the body.
	HeadObject(ctx context.Context, container, name string) (cloudsync.ObjectRef, error)

	// DeleteObject removes a single object. Deleting an object that is
	// already gone is not an error: implementations return nil, so repeat
	// deletes are idempotent. Callers also accept cloudsync.ErrNotFound
	// for that case.
	DeleteObject(ctx context.Context, container, name string) error

	// ListObjects lists one page of a container.
	ListObjects(ctx context.Context, container string, opts ListOptions) (ListPage, error)

	// PutContainer creates the remote container/bucket if it does not
	// already exist. Idempotent.
	PutContainer(ctx context.Context, container string) error

	// UploadManifest uploads a large object given its already-materialized
	// segments/parts, returning the composite ObjectRef once the provider
	// confirms the manifest was accepted (spec §4.2).
	UploadManifest(ctx context.Context, container, name string, m cloudsync.Manifest, opts PutOptions) (cloudsync.ObjectRef, error)
}

// ContainerACLSetter is implemented by providers that can propagate
// container-level ACLs (spec §6 sync_container_acl). Probed via type
// assertion, not a method presence check on Provider itself, so providers
// that can't support it simply don't implement the interface.
type ContainerACLSetter interface {
	SetContainerACL(ctx context.Context, container string, acl map[string]string) error
}

// ContainerMetadataSetter is implemented by providers that can propagate
// container-level metadata (spec §6 sync_container_metadata).
type ContainerMetadataSetter interface {
	SetContainerMetadata(ctx context.Context, container string, metadata map[string]string) error
}

// ContainerMetadataGetter is implemented by providers that can read back a
// container's current metadata, needed by the migrator to read the
// remote's metadata before propagating it onto the local container
// (spec §6 sync_container_metadata, Swift-to-Swift only).
type ContainerMetadataGetter interface {
	GetContainerMetadata(ctx context.Context, container string) (map[string]string, error)
}

// ContainerACLGetter is implemented by providers that can read back a
// container's current ACL (spec §6 sync_container_acl).
type ContainerACLGetter interface {
	GetContainerACL(ctx context.Context, container string) (map[string]string, error)
}

// LifecycleSetter is implemented by providers that support an
// object-expiration lifecycle rule (spec §6 propagate_expiration,
// remote_delete_after).
type LifecycleSetter interface {
	SetObjectLifecycle(ctx context.Context, container, name string, expireAt cloudsync.Timestamp) error
}

// SegmentContainerNamer is implemented by providers whose large-object
// translation needs a distinct segment container name (Swift SLO/DLO
// segments conventionally live in "<container>_segments"; S3 has no such
// concept since MPU parts are provider-internal).
type SegmentContainerNamer interface {
	SegmentContainer(container string) string
}

// BatchDeleter is implemented by providers that can delete multiple
// objects in a single round trip (S3 DeleteObjects). Providers without a
// batch primitive fall back to sequential DeleteObject calls.
type BatchDeleter interface {
	DeleteObjects(ctx context.Context, container string, names []string) (failed []string, err error)
}

// ManifestReader is implemented by providers whose objects may be
// large-object manifests the caller must detect before deciding how to
// copy them (spec §4.3 step 4 "route manifests through the translator").
// The local cluster is always Swift-shaped, so only internal/swiftprovider
// implements this; isManifest is false (with a nil error) for a plain
// object.
type ManifestReader interface {
	ReadManifest(ctx context.Context, container, name string) (m cloudsync.Manifest, isManifest bool, err error)
}

// BucketLifecycleSetter is implemented by providers that express
// object expiry as a bucket-level rule over a key prefix rather than a
// per-object header (S3's PutBucketLifecycleConfiguration). Swift expresses
// the same spec §6 remote_delete_after concern per-object via
// LifecycleSetter instead.
type BucketLifecycleSetter interface {
	SetPrefixLifecycle(ctx context.Context, container, prefix string, deleteAfterSeconds int64) error
}

// PartLister is implemented by providers that can recover the original
// part boundaries of an already-completed multipart upload (S3, via
// repeated HeadObject?partNumber= calls), needed to restore an MPU as a
// Swift SLO without re-chunking it (spec §4.4 "preserve original part
// boundaries").
type PartLister interface {
	ListParts(ctx context.Context, container, name string) ([]cloudsync.Part, error)
}

// ContainerLister is implemented by providers that can enumerate the
// containers/buckets under an account, needed by wildcard profiles to
// discover what to partition across crawler processes (spec §4.4
// ring_name, §6 wildcard containers).
type ContainerLister interface {
	ListContainers(ctx context.Context) ([]string, error)
}
