// Package swift implements provider.Provider against a Swift TempAuth
// endpoint, the counterpart of internal/s3provider for profiles whose
// protocol is cloudsync.ProtocolSwift (spec §4.1). Request/response shapes
// are grounded in other_examples' ncw-swift slo.go (SLO manifest JSON,
// multipart-manifest query parameter) and the distribution swift storage
// driver's X-Object-Manifest DLO convention.
package swift

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	adapterswift "github.com/gostratum/cloudsync/adapters/swift"
	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/provider"
	"github.com/gostratum/core/logx"
)

const metaPrefix = "X-Object-Meta-"
const containerMetaPrefix = "X-Container-Meta-"

// Provider implements provider.Provider against a Swift account.
type Provider struct {
	client *adapterswift.Client
	logger logx.Logger
}

var (
	_ provider.Provider                = (*Provider)(nil)
	_ provider.ContainerACLSetter      = (*Provider)(nil)
	_ provider.ContainerMetadataSetter = (*Provider)(nil)
	_ provider.ContainerACLGetter      = (*Provider)(nil)
	_ provider.ContainerMetadataGetter = (*Provider)(nil)
	_ provider.LifecycleSetter         = (*Provider)(nil)
	_ provider.SegmentContainerNamer   = (*Provider)(nil)
	_ provider.ManifestReader          = (*Provider)(nil)
	_ provider.ContainerLister         = (*Provider)(nil)
)

// New constructs a Provider bound to the given Client.
func New(client *adapterswift.Client, logger logx.Logger) *Provider {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	return &Provider{client: client, logger: logger}
}

// PutObject implements provider.Provider.
func (p *Provider) PutObject(ctx context.Context, container, name string, r io.Reader, size int64, opts provider.PutOptions) (cloudsync.ObjectRef, error) {
	if opts.IfNewerThan != nil {
		existing, err := p.HeadObject(ctx, container, name)
		if err == nil && !opts.IfNewerThan.After(existing.Timestamp) {
			return cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindConflictNewer, "put_object", name, cloudsync.ErrConflictNewer)
		} else if err != nil && !cloudsync.IsNotFound(err) {
			return cloudsync.ObjectRef{}, err
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindTransientNetwork, "put_object", name, err)
	}

	resp, err := p.request(ctx, http.MethodPut, container, name, nil, func(req *http.Request) {
		req.ContentLength = int64(len(data))
		applyPutHeaders(req, opts)
	}, func() io.Reader { return strings.NewReader(string(data)) })
	if err != nil {
		return cloudsync.ObjectRef{}, err
	}
	defer resp.Body.Close()

	ts := cloudsync.FromLastModified(time.Now())
	if opts.Timestamp != nil {
		ts = *opts.Timestamp
	}
	return cloudsync.ObjectRef{
		Account: container, Container: container, Name: name,
		Size: int64(len(data)), ETag: strings.Trim(resp.Header.Get("Etag"), `"`),
		ContentType: opts.ContentType, Metadata: opts.Metadata,
		Timestamp: ts,
	}, nil
}

// PostObject implements provider.Provider: a Swift POST updates metadata
// headers in place without touching the body, no emulation needed.
func (p *Provider) PostObject(ctx context.Context, container, name string, metadata map[string]string) error {
	resp, err := p.request(ctx, http.MethodPost, container, name, nil, func(req *http.Request) {
		for k, v := range metadata {
			req.Header.Set(metaPrefix+k, v)
		}
	}, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetObject implements provider.Provider.
func (p *Provider) GetObject(ctx context.Context, container, name string) (provider.Reader, cloudsync.ObjectRef, error) {
	resp, err := p.request(ctx, http.MethodGet, container, name, nil, nil, nil)
	if err != nil {
		return nil, cloudsync.ObjectRef{}, err
	}
	ref := refFromResponse(container, name, resp)
	return &reader{ReadCloser: resp.Body, size: ref.Size}, ref, nil
}

// HeadObject implements provider.Provider.
func (p *Provider) HeadObject(ctx context.Context, container, name string) (cloudsync.ObjectRef, error) {
	resp, err := p.request(ctx, http.MethodHead, container, name, nil, nil, nil)
	if err != nil {
		return cloudsync.ObjectRef{}, err
	}
	defer resp.Body.Close()
	return refFromResponse(container, name, resp), nil
}

func refFromResponse(container, name string, resp *http.Response) cloudsync.ObjectRef {
	ref := cloudsync.ObjectRef{Account: container, Container: container, Name: name}
	if size, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		ref.Size = size
	}
	ref.ETag = strings.Trim(resp.Header.Get("Etag"), `"`)
	ref.ContentType = resp.Header.Get("Content-Type")
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			ref.Timestamp = cloudsync.FromLastModified(t)
		}
	}
	if xts := resp.Header.Get("X-Timestamp"); xts != "" {
		if ts, err := cloudsync.ParseXTimestamp(xts); err == nil {
			ref.Timestamp = ts
		}
	}
	if da := resp.Header.Get("X-Delete-At"); da != "" {
		if secs, err := strconv.ParseInt(da, 10, 64); err == nil {
			t := cloudsync.FromLastModified(time.Unix(secs, 0))
			ref.DeleteAt = &t
		}
	}
	metadata := make(map[string]string)
	for k, vs := range resp.Header {
		if strings.HasPrefix(k, metaPrefix) && len(vs) > 0 {
			metadata[strings.TrimPrefix(k, metaPrefix)] = vs[0]
		}
	}
	ref.Metadata = metadata
	return ref
}

// DeleteObject implements provider.Provider. Swift DELETE on an already-
// absent object returns 404, which mapStatusError classifies as
// KindNotFound; this method treats that as an idempotent success and
// returns nil (spec §4.1).
func (p *Provider) DeleteObject(ctx context.Context, container, name string) error {
	resp, err := p.request(ctx, http.MethodDelete, container, name, nil, nil, nil)
	if err != nil {
		if cloudsync.IsNotFound(err) {
			return nil
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// listEntry is one row of a Swift container's JSON listing. A subdir row
// (present when Delimiter is set) carries only Subdir; an object row
// carries the rest.
type listEntry struct {
	Name         string `json:"name"`
	Hash         string `json:"hash"`
	Bytes        int64  `json:"bytes"`
	ContentType  string `json:"content_type"`
	LastModified string `json:"last_modified"`
	Subdir       string `json:"subdir"`
}

// ListObjects implements provider.Provider via Swift's JSON container
// listing format (?format=json).
func (p *Provider) ListObjects(ctx context.Context, container string, opts provider.ListOptions) (provider.ListPage, error) {
	query := url.Values{}
	query.Set("format", "json")
	if opts.Prefix != "" {
		query.Set("prefix", opts.Prefix)
	}
	if opts.Delimiter != "" {
		query.Set("delimiter", opts.Delimiter)
	}
	if opts.PageSize > 0 {
		query.Set("limit", strconv.FormatInt(int64(opts.PageSize), 10))
	}
	if opts.ContinuationToken != "" {
		query.Set("marker", opts.ContinuationToken)
	}

	resp, err := p.request(ctx, http.MethodGet, container, "", query, nil, nil)
	if err != nil {
		if cloudsync.IsNotFound(err) {
			return provider.ListPage{}, nil
		}
		return provider.ListPage{}, err
	}
	defer resp.Body.Close()

	var entries []listEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return provider.ListPage{}, cloudsync.NewError(cloudsync.KindRemote5xx, "list_objects", container,
			fmt.Errorf("decode listing: %w", err))
	}

	page := provider.ListPage{}
	for _, e := range entries {
		if e.Subdir != "" {
			page.CommonPrefixes = append(page.CommonPrefixes, e.Subdir)
			continue
		}
		ref := cloudsync.ObjectRef{
			Account: container, Container: container, Name: e.Name,
			ETag: cloudsync.NormalizedETag(e.Hash), Size: e.Bytes, ContentType: e.ContentType,
		}
		if t, err := time.Parse("2006-01-02T15:04:05.000000", e.LastModified); err == nil {
			ref.Timestamp = cloudsync.FromLastModified(t)
		}
		page.Objects = append(page.Objects, ref)
	}

	limit := int(opts.PageSize)
	if limit <= 0 {
		limit = 10000
	}
	page.IsTruncated = len(entries) == limit
	if page.IsTruncated && len(entries) > 0 {
		page.NextToken = entries[len(entries)-1].Name
	}
	return page, nil
}

// PutContainer implements provider.Provider.
func (p *Provider) PutContainer(ctx context.Context, container string) error {
	resp, err := p.request(ctx, http.MethodPut, container, "", nil, nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ListContainers implements provider.ContainerLister via Swift's
// account-level JSON listing (GET on the storage URL itself, container
// and name both empty), used by wildcard profiles to discover what to
// partition across crawler processes (spec §4.4 ring_name).
func (p *Provider) ListContainers(ctx context.Context) ([]string, error) {
	query := url.Values{}
	query.Set("format", "json")

	resp, err := p.request(ctx, http.MethodGet, "", "", query, nil, nil)
	if err != nil {
		if cloudsync.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	var entries []struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, cloudsync.NewError(cloudsync.KindRemote5xx, "list_containers", "", fmt.Errorf("decode account listing: %w", err))
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// SetContainerACL implements provider.ContainerACLSetter via Swift's
// X-Container-Read/X-Container-Write ACL headers.
func (p *Provider) SetContainerACL(ctx context.Context, container string, acl map[string]string) error {
	resp, err := p.request(ctx, http.MethodPost, container, "", nil, func(req *http.Request) {
		if read, ok := acl["read"]; ok {
			req.Header.Set("X-Container-Read", read)
		}
		if write, ok := acl["write"]; ok {
			req.Header.Set("X-Container-Write", write)
		}
	}, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SetContainerMetadata implements provider.ContainerMetadataSetter.
func (p *Provider) SetContainerMetadata(ctx context.Context, container string, metadata map[string]string) error {
	resp, err := p.request(ctx, http.MethodPost, container, "", nil, func(req *http.Request) {
		for k, v := range metadata {
			req.Header.Set(containerMetaPrefix+k, v)
		}
	}, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetContainerMetadata implements provider.ContainerMetadataGetter via a
// container HEAD, reading back the X-Container-Meta-* headers.
func (p *Provider) GetContainerMetadata(ctx context.Context, container string) (map[string]string, error) {
	resp, err := p.request(ctx, http.MethodHead, container, "", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	metadata := make(map[string]string)
	for k, vs := range resp.Header {
		if strings.HasPrefix(k, containerMetaPrefix) && len(vs) > 0 {
			metadata[strings.TrimPrefix(k, containerMetaPrefix)] = vs[0]
		}
	}
	return metadata, nil
}

// GetContainerACL implements provider.ContainerACLGetter via a container
// HEAD, reading back the X-Container-Read/X-Container-Write headers.
func (p *Provider) GetContainerACL(ctx context.Context, container string) (map[string]string, error) {
	resp, err := p.request(ctx, http.MethodHead, container, "", nil, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	acl := make(map[string]string)
	if read := resp.Header.Get("X-Container-Read"); read != "" {
		acl["read"] = read
	}
	if write := resp.Header.Get("X-Container-Write"); write != "" {
		acl["write"] = write
	}
	return acl, nil
}

// SetObjectLifecycle implements provider.LifecycleSetter via Swift's
// X-Delete-At header (unix seconds).
func (p *Provider) SetObjectLifecycle(ctx context.Context, container, name string, expireAt cloudsync.Timestamp) error {
	resp, err := p.request(ctx, http.MethodPost, container, name, nil, func(req *http.Request) {
		req.Header.Set("X-Delete-At", strconv.FormatInt(expireAt.At.Unix(), 10))
	}, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SegmentContainer implements provider.SegmentContainerNamer: Swift SLO/DLO
// segments conventionally live in a sibling "<container>_segments"
// container (spec §4.2).
func (p *Provider) SegmentContainer(container string) string {
	return container + "_segments"
}

func applyPutHeaders(req *http.Request, opts provider.PutOptions) {
	if opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	if opts.CacheControl != "" {
		req.Header.Set("Cache-Control", opts.CacheControl)
	}
	if opts.ContentEncoding != "" {
		req.Header.Set("Content-Encoding", opts.ContentEncoding)
	}
	if opts.Timestamp != nil {
		req.Header.Set("X-Timestamp", opts.Timestamp.String())
	}
	for k, v := range opts.Metadata {
		req.Header.Set(metaPrefix+k, v)
	}
}

// request builds and executes one Swift HTTP request against
// container/name, applying query values and a header-mutating hook before
// sending, and mapping non-2xx responses through mapStatusError.
func (p *Provider) request(ctx context.Context, method, container, name string, query url.Values, mutate func(*http.Request), newBody func() io.Reader) (*http.Response, error) {
	return p.client.DoRaw(ctx, method, container, name, query, mutate, newBody)
}

// reader implements provider.Reader for a Swift GET response body.
type reader struct {
	io.ReadCloser
	size int64
}

func (r *reader) Size() int64 { return r.size }
