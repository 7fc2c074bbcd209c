package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	adapters3 "github.com/gostratum/cloudsync/adapters/s3"
	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/largeobject"
	"github.com/gostratum/cloudsync/pkg/provider"
)

var (
	_ largeobject.SessionOpener    = (*Provider)(nil)
	_ largeobject.MultipartSession = (*Session)(nil)
)

// UploadManifest implements provider.Provider for the MPU case: it opens a
// multipart upload, completes it from the manifest's already-uploaded part
// etags, and returns the composite ObjectRef. Generalizes the teacher's
// internal/s3/multipart.go S3Storage.MultipartUpload/CompleteMultipart pair,
// which only ever built a manifest from a single source reader, into one
// that accepts a manifest whose parts may have come from translating a
// Swift SLO (spec §4.2).
func (p *Provider) UploadManifest(ctx context.Context, container, name string, m cloudsync.Manifest, opts provider.PutOptions) (cloudsync.ObjectRef, error) {
	if m.Kind != cloudsync.ManifestMPU {
		return cloudsync.ObjectRef{}, fmt.Errorf("s3 provider only accepts MPU manifests, got %s", m.Kind)
	}
	key := p.key(container, name)

	uploadID, err := p.createMultipart(ctx, key, opts)
	if err != nil {
		return cloudsync.ObjectRef{}, err
	}

	parts := make([]types.CompletedPart, len(m.Parts))
	for i, part := range m.Parts {
		parts[i] = types.CompletedPart{
			ETag:       aws.String(part.ETag),
			PartNumber: aws.Int32(int32(part.Number)),
		}
	}

	out, err := p.client.GetS3Client().CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(p.client.GetSettings().Bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		_, _ = p.client.GetS3Client().AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket: aws.String(p.client.GetSettings().Bucket), Key: aws.String(key), UploadId: aws.String(uploadID),
		})
		return cloudsync.ObjectRef{}, adapters3.MapS3Error(err, "complete_multipart", key)
	}

	ref, err := p.HeadObject(ctx, container, name)
	if err != nil {
		ref = cloudsync.ObjectRef{Account: container, Container: container, Name: name}
		if out.ETag != nil {
			ref.ETag = aws.ToString(out.ETag)
		}
	}
	return ref, nil
}

func (p *Provider) createMultipart(ctx context.Context, key string, opts provider.PutOptions) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(p.client.GetSettings().Bucket),
		Key:    aws.String(key),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.CacheControl != "" {
		input.CacheControl = aws.String(opts.CacheControl)
	}
	if opts.ContentEncoding != "" {
		input.ContentEncoding = aws.String(opts.ContentEncoding)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}
	out, err := p.client.GetS3Client().CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", adapters3.MapS3Error(err, "create_multipart", key)
	}
	return aws.ToString(out.UploadId), nil
}

// Session is a multipart upload in progress, giving pkg/largeobject a
// handle to stream parts one at a time without materializing the whole
// manifest before the first byte is sent (spec §4.2 MPU path). Generalizes
// the teacher's MultipartUploader (internal/s3/multipart.go) from a
// single-reader chunker into an explicit part-at-a-time session the
// translator drives.
type Session struct {
	p        *Provider
	key      string
	uploadID string
}

// CreateSession starts a multipart upload and returns a Session handle,
// typed as largeobject.MultipartSession so *Provider satisfies
// largeobject.SessionOpener exactly (Go requires identical method
// signatures for interface satisfaction; a concrete *Session return type
// would not match SessionOpener's declared return type).
func (p *Provider) CreateSession(ctx context.Context, container, name string, opts provider.PutOptions) (largeobject.MultipartSession, error) {
	key := p.key(container, name)
	uploadID, err := p.createMultipart(ctx, key, opts)
	if err != nil {
		return nil, err
	}
	return &Session{p: p, key: key, uploadID: uploadID}, nil
}

// UploadPart streams one part of the session's multipart upload.
func (s *Session) UploadPart(ctx context.Context, partNumber int, r io.Reader, size int64) (string, error) {
	out, err := s.p.client.GetS3Client().UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(s.p.client.GetSettings().Bucket),
		Key:        aws.String(s.key),
		PartNumber: aws.Int32(int32(partNumber)),
		UploadId:   aws.String(s.uploadID),
		Body:       r,
	})
	if err != nil {
		return "", adapters3.MapS3Error(err, "upload_part", s.key)
	}
	return aws.ToString(out.ETag), nil
}

// Abort cancels the session, cleaning up any uploaded parts.
func (s *Session) Abort(ctx context.Context) error {
	_, err := s.p.client.GetS3Client().AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket: aws.String(s.p.client.GetSettings().Bucket), Key: aws.String(s.key), UploadId: aws.String(s.uploadID),
	})
	if err != nil {
		return adapters3.MapS3Error(err, "abort_multipart", s.key)
	}
	return nil
}
