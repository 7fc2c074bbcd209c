// Package s3 implements provider.Provider against an S3-compatible
// endpoint. Generalizes the teacher's internal/s3/storage_s3.go S3Storage
// (itself a single-bucket Storage implementation) into a provider.Provider
// whose "container" argument addresses an S3 prefix rather than a second
// bucket, since S3 has no native container concept below the bucket level
// (spec §4.1, §6 remote key layout "bucket/container/name").
package s3

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	adapters3 "github.com/gostratum/cloudsync/adapters/s3"
	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/provider"
	"github.com/gostratum/core/logx"
)

// Provider implements provider.Provider against a single S3 bucket; every
// local "container" becomes a "<container>/" key prefix inside it.
type Provider struct {
	client *adapters3.ClientManager
	logger logx.Logger
}

var (
	_ provider.Provider     = (*Provider)(nil)
	_ provider.BatchDeleter = (*Provider)(nil)
)

// New constructs a Provider bound to the given ClientManager.
func New(client *adapters3.ClientManager, logger logx.Logger) *Provider {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	return &Provider{client: client, logger: logger}
}

func (p *Provider) key(container, name string) string {
	if container == "" {
		return name
	}
	return container + "/" + name
}

// PutObject implements provider.Provider.
func (p *Provider) PutObject(ctx context.Context, container, name string, r io.Reader, size int64, opts provider.PutOptions) (cloudsync.ObjectRef, error) {
	key := p.key(container, name)

	if opts.IfNewerThan != nil {
		existing, err := p.HeadObject(ctx, container, name)
		if err == nil && !opts.IfNewerThan.After(existing.Timestamp) {
			return cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindConflictNewer, "put_object", key, cloudsync.ErrConflictNewer)
		} else if err != nil && !cloudsync.IsNotFound(err) {
			return cloudsync.ObjectRef{}, err
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindTransientNetwork, "put_object", key, fmt.Errorf("read body: %w", err))
	}

	sum := md5.Sum(data)
	input := &s3.PutObjectInput{
		Bucket:               aws.String(p.client.GetSettings().Bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(data),
		ContentMD5:           aws.String(base64.StdEncoding.EncodeToString(sum[:])),
		ServerSideEncryption: types.ServerSideEncryptionAes256,
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

	out, err := p.client.GetS3Client().PutObject(ctx, input)
	if err != nil {
		return cloudsync.ObjectRef{}, adapters3.MapS3Error(err, "put_object", key)
	}

	ref := cloudsync.ObjectRef{
		Account:     container,
		Container:   container,
		Name:        name,
		Size:        int64(len(data)),
		ContentType: opts.ContentType,
		Metadata:    opts.Metadata,
		Timestamp:   cloudsync.FromLastModified(time.Now()),
	}
	if out.ETag != nil {
		ref.ETag = aws.ToString(out.ETag)
	}
	return ref, nil
}

// PostObject emulates Swift's metadata-only POST via a same-key copy with
// replaced metadata, the standard S3 workaround since S3 has no update-
// metadata-in-place primitive.
func (p *Provider) PostObject(ctx context.Context, container, name string, metadata map[string]string) error {
	key := p.key(container, name)
	bucket := p.client.GetSettings().Bucket
	_, err := p.client.GetS3Client().CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:            aws.String(bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(bucket + "/" + key),
		Metadata:          metadata,
		MetadataDirective: types.MetadataDirectiveReplace,
	})
	if err != nil {
		return adapters3.MapS3Error(err, "post_object", key)
	}
	return nil
}

// GetObject implements provider.Provider.
func (p *Provider) GetObject(ctx context.Context, container, name string) (provider.Reader, cloudsync.ObjectRef, error) {
	key := p.key(container, name)
	out, err := p.client.GetS3Client().GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.client.GetSettings().Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, cloudsync.ObjectRef{}, adapters3.MapS3Error(err, "get_object", key)
	}

	ref := refFromHead(container, name, out.ContentLength, out.ETag, out.ContentType, out.LastModified, out.Metadata)
	return &reader{ReadCloser: out.Body, size: ref.Size}, ref, nil
}

// HeadObject implements provider.Provider.
func (p *Provider) HeadObject(ctx context.Context, container, name string) (cloudsync.ObjectRef, error) {
	key := p.key(container, name)
	out, err := p.client.GetS3Client().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.client.GetSettings().Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return cloudsync.ObjectRef{}, adapters3.MapS3Error(err, "head_object", key)
	}
	return refFromHead(container, name, out.ContentLength, out.ETag, out.ContentType, out.LastModified, out.Metadata), nil
}

func refFromHead(container, name string, size *int64, etag, contentType *string, lastModified *time.Time, metadata map[string]string) cloudsync.ObjectRef {
	ref := cloudsync.ObjectRef{Account: container, Container: container, Name: name, Metadata: metadata}
	if size != nil {
		ref.Size = aws.ToInt64(size)
	}
	if etag != nil {
		ref.ETag = aws.ToString(etag)
	}
	if contentType != nil {
		ref.ContentType = aws.ToString(contentType)
	}
	if lastModified != nil {
		ref.Timestamp = cloudsync.FromLastModified(*lastModified)
	}
	return ref
}

// DeleteObject implements provider.Provider.
func (p *Provider) DeleteObject(ctx context.Context, container, name string) error {
	key := p.key(container, name)
	_, err := p.client.GetS3Client().DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.client.GetSettings().Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return adapters3.MapS3Error(err, "delete_object", key)
	}
	return nil
}

// DeleteObjects implements provider.BatchDeleter.
func (p *Provider) DeleteObjects(ctx context.Context, container string, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	objects := make([]types.ObjectIdentifier, 0, len(names))
	for _, n := range names {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(p.key(container, n))})
	}
	out, err := p.client.GetS3Client().DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(p.client.GetSettings().Bucket),
		Delete: &types.Delete{Objects: objects},
	})
	if err != nil {
		return names, adapters3.MapS3Error(err, "delete_objects", container)
	}

	var failed []string
	for _, de := range out.Errors {
		if de.Key == nil {
			continue
		}
		storageKey := aws.ToString(de.Key)
		for _, n := range names {
			if p.key(container, n) == storageKey {
				failed = append(failed, n)
				break
			}
		}
	}
	return failed, nil
}

// ListObjects implements provider.Provider.
func (p *Provider) ListObjects(ctx context.Context, container string, opts provider.ListOptions) (provider.ListPage, error) {
	prefix := p.key(container, opts.Prefix)
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(p.client.GetSettings().Bucket),
		Prefix: aws.String(prefix),
	}
	if opts.Delimiter != "" {
		input.Delimiter = aws.String(opts.Delimiter)
	}
	if opts.PageSize > 0 {
		input.MaxKeys = aws.Int32(opts.PageSize)
	} else {
		input.MaxKeys = aws.Int32(1000)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	out, err := p.client.GetS3Client().ListObjectsV2(ctx, input)
	if err != nil {
		return provider.ListPage{}, adapters3.MapS3Error(err, "list_objects", container)
	}

	stripPrefix := container + "/"
	page := provider.ListPage{
		Objects:        make([]cloudsync.ObjectRef, 0, len(out.Contents)),
		CommonPrefixes: make([]string, 0, len(out.CommonPrefixes)),
		IsTruncated:    aws.ToBool(out.IsTruncated),
	}
	if out.NextContinuationToken != nil {
		page.NextToken = aws.ToString(out.NextContinuationToken)
	}
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		name := trimPrefix(aws.ToString(obj.Key), stripPrefix)
		ref := cloudsync.ObjectRef{Account: container, Container: container, Name: name}
		if obj.Size != nil {
			ref.Size = aws.ToInt64(obj.Size)
		}
		if obj.ETag != nil {
			ref.ETag = aws.ToString(obj.ETag)
		}
		if obj.LastModified != nil {
			ref.Timestamp = cloudsync.FromLastModified(*obj.LastModified)
		}
		page.Objects = append(page.Objects, ref)
	}
	for _, cp := range out.CommonPrefixes {
		if cp.Prefix != nil {
			page.CommonPrefixes = append(page.CommonPrefixes, trimPrefix(aws.ToString(cp.Prefix), stripPrefix))
		}
	}
	return page, nil
}

func trimPrefix(key, prefix string) string {
	if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}

// PutContainer is a no-op beyond ensuring the bucket exists: containers are
// simulated as key prefixes, so there is nothing to create per container.
func (p *Provider) PutContainer(ctx context.Context, container string) error {
	return p.client.CreateBucketIfNotExists(ctx)
}

// objectExists checks for a key's existence via HeadObject.
func (p *Provider) objectExists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.GetS3Client().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.client.GetSettings().Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// reader implements provider.Reader for an S3 GetObject response body.
type reader struct {
	io.ReadCloser
	size int64
}

func (r *reader) Size() int64 { return r.size }
