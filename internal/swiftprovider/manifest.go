package swift

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/provider"
)

// sloSegment is the wire shape Swift expects for an SLO manifest PUT,
// grounded on other_examples' ncw-swift slo.go swiftSegment{path,etag,size_bytes}.
type sloSegment struct {
	Path string `json:"path"`
	ETag string `json:"etag"`
	Size int64  `json:"size_bytes"`
}

// UploadManifest implements provider.Provider for the SLO case: it PUTs
// the segment list as a JSON body with "multipart-manifest=put", the
// Swift convention for registering a static large object (spec §4.2).
func (p *Provider) UploadManifest(ctx context.Context, container, name string, m cloudsync.Manifest, opts provider.PutOptions) (cloudsync.ObjectRef, error) {
	if m.Kind != cloudsync.ManifestSLO {
		return cloudsync.ObjectRef{}, fmt.Errorf("swift provider only accepts SLO manifests, got %s", m.Kind)
	}

	segments := make([]sloSegment, len(m.Segments))
	for i, s := range m.Segments {
		segments[i] = sloSegment{Path: s.Path, ETag: cloudsync.NormalizedETag(s.ETag), Size: s.Size}
	}
	body, err := json.Marshal(segments)
	if err != nil {
		return cloudsync.ObjectRef{}, fmt.Errorf("swift: marshal SLO manifest: %w", err)
	}

	query := url.Values{}
	query.Set("multipart-manifest", "put")

	resp, err := p.request(ctx, http.MethodPut, container, name, query, func(req *http.Request) {
		req.ContentLength = int64(len(body))
		applyPutHeaders(req, opts)
	}, func() io.Reader { return bytes.NewReader(body) })
	if err != nil {
		return cloudsync.ObjectRef{}, err
	}
	defer resp.Body.Close()

	ref := cloudsync.ObjectRef{
		Account: container, Container: container, Name: name,
		ContentType: opts.ContentType, Metadata: opts.Metadata,
		ETag: cloudsync.CompositeETagSLO(m.Segments),
	}
	return ref, nil
}

// sloReadSegment is the read-direction shape of a Swift
// ?multipart-manifest=get response, grounded on other_examples' ncw-swift
// slo.go swiftSegment: Name carries a leading slash followed by
// "container/object", unlike the write-direction sloSegment's bare "path".
type sloReadSegment struct {
	Name  string `json:"name"`
	Hash  string `json:"hash"`
	Bytes int64  `json:"bytes"`
}

// ReadManifest implements provider.ManifestReader. It HEADs the object to
// classify it (X-Static-Large-Object for SLO, X-Object-Manifest for DLO),
// then for an SLO re-fetches the segment list via
// ?multipart-manifest=get (spec §4.2/§4.3 manifest routing).
func (p *Provider) ReadManifest(ctx context.Context, container, name string) (cloudsync.Manifest, bool, error) {
	head, err := p.request(ctx, http.MethodHead, container, name, nil, nil, nil)
	if err != nil {
		return cloudsync.Manifest{}, false, err
	}
	head.Body.Close()

	if om := head.Header.Get("X-Object-Manifest"); om != "" {
		segContainer, prefix, ok := cloudsync.SplitPath(om)
		if !ok {
			return cloudsync.Manifest{}, false, fmt.Errorf("swift: malformed X-Object-Manifest %q", om)
		}
		size, _ := strconv.ParseInt(head.Header.Get("Content-Length"), 10, 64)
		return cloudsync.Manifest{
			Kind:             cloudsync.ManifestDLO,
			SegmentContainer: segContainer,
			Prefix:           prefix,
			DLOHasData:       size > 0,
		}, true, nil
	}

	if head.Header.Get("X-Static-Large-Object") != "true" && head.Header.Get("X-Static-Large-Object") != "True" {
		return cloudsync.Manifest{}, false, nil
	}

	query := url.Values{}
	query.Set("multipart-manifest", "get")
	resp, err := p.request(ctx, http.MethodGet, container, name, query, nil, nil)
	if err != nil {
		return cloudsync.Manifest{}, false, err
	}
	defer resp.Body.Close()

	var wire []sloReadSegment
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return cloudsync.Manifest{}, false, fmt.Errorf("swift: decode SLO manifest %s/%s: %w", container, name, err)
	}

	segments := make([]cloudsync.Segment, len(wire))
	for i, s := range wire {
		path := strings.TrimPrefix(s.Name, "/")
		segments[i] = cloudsync.Segment{Path: path, ETag: cloudsync.NormalizedETag(s.Hash), Size: s.Bytes}
	}
	return cloudsync.Manifest{Kind: cloudsync.ManifestSLO, Segments: segments}, true, nil
}
