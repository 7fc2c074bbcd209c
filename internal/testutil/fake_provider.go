// Package testutil provides in-memory fakes for exercising the sync
// engine, migrator and shunt without a live Swift or S3 endpoint.
package testutil

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/provider"
)

var (
	_ provider.Provider              = (*FakeProvider)(nil)
	_ provider.ContainerACLSetter    = (*FakeProvider)(nil)
	_ provider.ContainerMetadataSetter = (*FakeProvider)(nil)
	_ provider.ContainerACLGetter      = (*FakeProvider)(nil)
	_ provider.ContainerMetadataGetter = (*FakeProvider)(nil)
	_ provider.LifecycleSetter       = (*FakeProvider)(nil)
	_ provider.SegmentContainerNamer = (*FakeProvider)(nil)
	_ provider.BatchDeleter          = (*FakeProvider)(nil)
	_ provider.ManifestReader        = (*FakeProvider)(nil)
	_ provider.BucketLifecycleSetter = (*FakeProvider)(nil)
	_ provider.ContainerLister       = (*FakeProvider)(nil)
	_ provider.PartLister            = (*FakeProvider)(nil)
)

// FakeProvider is a thread-safe in-memory implementation of
// provider.Provider, generalizing the teacher's MockStorage (an
// storagex.Storage fake keyed by a flat object key) into one keyed by
// (container, name) pairs, with container-level ACL/metadata/lifecycle
// state for the capability probes spec §6 describes.
type FakeProvider struct {
	mu         sync.RWMutex
	objects    map[string]map[string]*fakeObject // container -> name -> object
	containers map[string]bool
	acls       map[string]map[string]string
	metadata   map[string]map[string]string
	lifecycle  map[string]cloudsync.Timestamp    // "container/name" -> expiry
	manifests  map[string]cloudsync.Manifest     // "container/name" -> manifest, for ReadManifest
	prefixTTL  map[string]int64                  // "container/prefix" -> delete-after seconds
	parts      map[string][]cloudsync.Part       // "container/name" -> parts, for ListParts

	// FailNextPut, when non-nil, is returned (and cleared) by the next
	// PutObject call, letting tests inject a single transient failure.
	FailNextPut error
}

type fakeObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
	timestamp   cloudsync.Timestamp
	etag        string
}

// NewFakeProvider creates an empty in-memory provider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		objects:    make(map[string]map[string]*fakeObject),
		containers: make(map[string]bool),
		acls:       make(map[string]map[string]string),
		metadata:   make(map[string]map[string]string),
		lifecycle:  make(map[string]cloudsync.Timestamp),
		manifests:  make(map[string]cloudsync.Manifest),
		prefixTTL:  make(map[string]int64),
		parts:      make(map[string][]cloudsync.Part),
	}
}

func (f *FakeProvider) containerMap(container string) map[string]*fakeObject {
	m, ok := f.objects[container]
	if !ok {
		m = make(map[string]*fakeObject)
		f.objects[container] = m
	}
	return m
}

// PutObject implements provider.Provider.
func (f *FakeProvider) PutObject(ctx context.Context, container, name string, r io.Reader, size int64, opts provider.PutOptions) (cloudsync.ObjectRef, error) {
	if err := ctx.Err(); err != nil {
		return cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindTransientNetwork, "put_object", name, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailNextPut != nil {
		err := f.FailNextPut
		f.FailNextPut = nil
		return cloudsync.ObjectRef{}, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindTransientNetwork, "put_object", name, err)
	}

	objs := f.containerMap(container)
	if opts.IfNewerThan != nil {
		if existing, ok := objs[name]; ok && !opts.IfNewerThan.After(existing.timestamp) {
			return cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindConflictNewer, "put_object", name, cloudsync.ErrConflictNewer)
		}
	}

	metadata := make(map[string]string, len(opts.Metadata))
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	ts := cloudsync.FromLastModified(time.Now())
	if opts.Timestamp != nil {
		ts = *opts.Timestamp
	}
	obj := &fakeObject{
		data:        data,
		contentType: opts.ContentType,
		metadata:    metadata,
		timestamp:   ts,
		etag:        generateETag(data),
	}
	objs[name] = obj
	f.containers[container] = true

	return cloudsync.ObjectRef{
		Account:     container,
		Container:   container,
		Name:        name,
		ETag:        obj.etag,
		Timestamp:   obj.timestamp,
		Size:        int64(len(data)),
		ContentType: obj.contentType,
		Metadata:    metadata,
	}, nil
}

// PostObject implements provider.Provider.
func (f *FakeProvider) PostObject(ctx context.Context, container, name string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	objs, ok := f.objects[container]
	if !ok {
		return cloudsync.NewError(cloudsync.KindNotFound, "post_object", name, cloudsync.ErrNotFound)
	}
	obj, ok := objs[name]
	if !ok {
		return cloudsync.NewError(cloudsync.KindNotFound, "post_object", name, cloudsync.ErrNotFound)
	}
	merged := make(map[string]string, len(metadata))
	for k, v := range metadata {
		merged[k] = v
	}
	obj.metadata = merged
	return nil
}

// GetObject implements provider.Provider.
func (f *FakeProvider) GetObject(ctx context.Context, container, name string) (provider.Reader, cloudsync.ObjectRef, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	objs, ok := f.objects[container]
	if !ok {
		return nil, cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindNotFound, "get_object", name, cloudsync.ErrNotFound)
	}
	obj, ok := objs[name]
	if !ok {
		return nil, cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindNotFound, "get_object", name, cloudsync.ErrNotFound)
	}

	dataCopy := make([]byte, len(obj.data))
	copy(dataCopy, obj.data)
	ref := cloudsync.ObjectRef{
		Account: container, Container: container, Name: name,
		ETag: obj.etag, Timestamp: obj.timestamp, Size: int64(len(dataCopy)),
		ContentType: obj.contentType, Metadata: copyMetadata(obj.metadata),
	}
	return &fakeReader{Reader: bytes.NewReader(dataCopy), size: int64(len(dataCopy))}, ref, nil
}

// HeadObject implements provider.Provider.
func (f *FakeProvider) HeadObject(ctx context.Context, container, name string) (cloudsync.ObjectRef, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	objs, ok := f.objects[container]
	if !ok {
		return cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindNotFound, "head_object", name, cloudsync.ErrNotFound)
	}
	obj, ok := objs[name]
	if !ok {
		return cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindNotFound, "head_object", name, cloudsync.ErrNotFound)
	}
	return cloudsync.ObjectRef{
		Account: container, Container: container, Name: name,
		ETag: obj.etag, Timestamp: obj.timestamp, Size: int64(len(obj.data)),
		ContentType: obj.contentType, Metadata: copyMetadata(obj.metadata),
	}, nil
}

// DeleteObject implements provider.Provider. Idempotent: deleting an
// already-absent object is not an error, matching both Swift and S3
// semantics (spec §4.1).
func (f *FakeProvider) DeleteObject(ctx context.Context, container, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if objs, ok := f.objects[container]; ok {
		delete(objs, name)
	}
	return nil
}

// DeleteObjects implements provider.BatchDeleter.
func (f *FakeProvider) DeleteObjects(ctx context.Context, container string, names []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, ok := f.objects[container]
	if ok {
		for _, n := range names {
			delete(objs, n)
		}
	}
	return nil, nil
}

// ListObjects implements provider.Provider.
func (f *FakeProvider) ListObjects(ctx context.Context, container string, opts provider.ListOptions) (provider.ListPage, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	objs := f.objects[container]
	var names []string
	for name := range objs {
		if opts.Prefix == "" || strings.HasPrefix(name, opts.Prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	pageSize := int(opts.PageSize)
	if pageSize <= 0 {
		pageSize = 1000
	}
	startIdx := 0
	if opts.ContinuationToken != "" {
		for i, n := range names {
			if n > opts.ContinuationToken {
				startIdx = i
				break
			}
		}
	}
	endIdx := startIdx + pageSize
	if endIdx > len(names) {
		endIdx = len(names)
	}
	pageNames := names[startIdx:endIdx]

	page := provider.ListPage{IsTruncated: endIdx < len(names)}
	if page.IsTruncated {
		page.NextToken = pageNames[len(pageNames)-1]
	}

	if opts.Delimiter != "" {
		prefixSeen := make(map[string]bool)
		for _, name := range pageNames {
			relative := strings.TrimPrefix(name, opts.Prefix)
			if idx := strings.Index(relative, opts.Delimiter); idx >= 0 {
				prefixSeen[opts.Prefix+relative[:idx+len(opts.Delimiter)]] = true
				continue
			}
			page.Objects = append(page.Objects, refFor(container, name, objs[name]))
		}
		for p := range prefixSeen {
			page.CommonPrefixes = append(page.CommonPrefixes, p)
		}
		sort.Strings(page.CommonPrefixes)
	} else {
		for _, name := range pageNames {
			page.Objects = append(page.Objects, refFor(container, name, objs[name]))
		}
	}
	return page, nil
}

func refFor(container, name string, obj *fakeObject) cloudsync.ObjectRef {
	return cloudsync.ObjectRef{
		Account: container, Container: container, Name: name,
		ETag: obj.etag, Timestamp: obj.timestamp, Size: int64(len(obj.data)),
		ContentType: obj.contentType, Metadata: copyMetadata(obj.metadata),
	}
}

// PutContainer implements provider.Provider.
func (f *FakeProvider) PutContainer(ctx context.Context, container string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[container] = true
	return nil
}

// UploadManifest implements provider.Provider by storing a body-less object
// that carries the composite etag computed the same way the real providers
// do, so tests can assert on the well-known composite-etag formulas (spec
// §4.2). The parts/segments are not read, and their bytes are not copied
// into the stored object.
func (f *FakeProvider) UploadManifest(ctx context.Context, container, name string, m cloudsync.Manifest, opts provider.PutOptions) (cloudsync.ObjectRef, error) {
	var etag string
	switch m.Kind {
	case cloudsync.ManifestMPU:
		var err error
		etag, err = cloudsync.CompositeETagMPU(m.Parts)
		if err != nil {
			return cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindIntegrityMismatch, "upload_manifest", name, err)
		}
	case cloudsync.ManifestSLO:
		etag = cloudsync.CompositeETagSLO(m.Segments)
	default:
		return cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindLargeObjectPolicy, "upload_manifest", name,
			cloudsync.ErrLargeObjectPolicy)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	objs := f.containerMap(container)
	obj := &fakeObject{
		contentType: opts.ContentType,
		metadata:    copyMetadata(opts.Metadata),
		timestamp:   cloudsync.FromLastModified(time.Now()),
		etag:        etag,
	}
	objs[name] = obj
	f.containers[container] = true

	return cloudsync.ObjectRef{
		Account: container, Container: container, Name: name,
		ETag: etag, Timestamp: obj.timestamp, ContentType: opts.ContentType, Metadata: obj.metadata,
	}, nil
}

// SetContainerACL implements provider.ContainerACLSetter.
func (f *FakeProvider) SetContainerACL(ctx context.Context, container string, acl map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acls[container] = copyMetadata(acl)
	return nil
}

// SetContainerMetadata implements provider.ContainerMetadataSetter.
func (f *FakeProvider) SetContainerMetadata(ctx context.Context, container string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metadata[container] = copyMetadata(metadata)
	return nil
}

// SetObjectLifecycle implements provider.LifecycleSetter.
func (f *FakeProvider) SetObjectLifecycle(ctx context.Context, container, name string, expireAt cloudsync.Timestamp) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lifecycle[container+"/"+name] = expireAt
	return nil
}

// ContainerACL returns the last ACL set on container, for test assertions.
func (f *FakeProvider) ContainerACL(container string) map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return copyMetadata(f.acls[container])
}

// ContainerMetadata returns the last metadata set on container, for test assertions.
func (f *FakeProvider) ContainerMetadata(container string) map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return copyMetadata(f.metadata[container])
}

// GetContainerMetadata implements provider.ContainerMetadataGetter.
func (f *FakeProvider) GetContainerMetadata(ctx context.Context, container string) (map[string]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return copyMetadata(f.metadata[container]), nil
}

// GetContainerACL implements provider.ContainerACLGetter.
func (f *FakeProvider) GetContainerACL(ctx context.Context, container string) (map[string]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return copyMetadata(f.acls[container]), nil
}

// ObjectLifecycle returns the expiry set on container/name, if any.
func (f *FakeProvider) ObjectLifecycle(container, name string) (cloudsync.Timestamp, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	ts, ok := f.lifecycle[container+"/"+name]
	return ts, ok
}

// SetObjectTimestamp overwrites the stored timestamp of an existing
// object, letting tests simulate an object that was written well in the
// past (e.g. to exercise copy_after) without waiting in real time.
func (f *FakeProvider) SetObjectTimestamp(container, name string, ts cloudsync.Timestamp) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if objs, ok := f.objects[container]; ok {
		if obj, ok := objs[name]; ok {
			obj.timestamp = ts
		}
	}
}

// SetManifest registers container/name as a manifest object so a
// subsequent ReadManifest call reports it as one, letting tests exercise
// the sync engine's SLO/DLO routing without a real Swift manifest wire
// round-trip.
func (f *FakeProvider) SetManifest(container, name string, m cloudsync.Manifest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[container+"/"+name] = m
}

// ReadManifest implements provider.ManifestReader.
func (f *FakeProvider) ReadManifest(ctx context.Context, container, name string) (cloudsync.Manifest, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.manifests[container+"/"+name]
	return m, ok, nil
}

// SegmentContainer implements provider.SegmentContainerNamer, mirroring
// internal/swiftprovider's "<container>_segments" convention.
func (f *FakeProvider) SegmentContainer(container string) string {
	return container + "_segments"
}

// SetPrefixLifecycle implements provider.BucketLifecycleSetter.
func (f *FakeProvider) SetPrefixLifecycle(ctx context.Context, container, prefix string, deleteAfterSeconds int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefixTTL[container+"/"+prefix] = deleteAfterSeconds
	return nil
}

// PrefixLifecycle returns the delete-after seconds set on container/prefix,
// if any, for test assertions.
func (f *FakeProvider) PrefixLifecycle(container, prefix string) (int64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	secs, ok := f.prefixTTL[container+"/"+prefix]
	return secs, ok
}

// SetParts registers the original MPU part boundaries for container/name,
// so a subsequent ListParts call can report them (used by migrator tests
// exercising MPU-to-SLO restoration without a real S3 endpoint).
func (f *FakeProvider) SetParts(container, name string, parts []cloudsync.Part) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parts[container+"/"+name] = parts
}

// ListParts implements provider.PartLister.
func (f *FakeProvider) ListParts(ctx context.Context, container, name string) ([]cloudsync.Part, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	parts, ok := f.parts[container+"/"+name]
	if !ok {
		return nil, cloudsync.NewError(cloudsync.KindNotFound, "list_parts", name, cloudsync.ErrNotFound)
	}
	return parts, nil
}

// ListContainers implements provider.ContainerLister.
func (f *FakeProvider) ListContainers(ctx context.Context) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, 0, len(f.containers))
	for c := range f.containers {
		names = append(names, c)
	}
	sort.Strings(names)
	return names, nil
}

func copyMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// fakeReader implements provider.Reader.
type fakeReader struct {
	*bytes.Reader
	size int64
}

func (r *fakeReader) Close() error { return nil }
func (r *fakeReader) Size() int64  { return r.size }

// generateETag computes a real MD5 hex digest, unlike the teacher's
// length-based placeholder, so tests exercising CompositeETagSLO/MPU
// against fake-uploaded segments get realistic values.
func generateETag(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
