package testutil_test

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gostratum/cloudsync/internal/testutil"
	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/provider"
)

func TestFakeProvider_BasicOperations(t *testing.T) {
	fp := testutil.NewFakeProvider()
	ctx := context.Background()

	t.Run("Put and Get", func(t *testing.T) {
		data := []byte("hello world")
		ref, err := fp.PutObject(ctx, "c1", "a.txt", bytes.NewReader(data), int64(len(data)), provider.PutOptions{})
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), ref.Size)
		assert.NotEmpty(t, ref.ETag)

		r, getRef, err := fp.GetObject(ctx, "c1", "a.txt")
		require.NoError(t, err)
		defer r.Close()

		assert.Equal(t, ref.ETag, getRef.ETag)
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("Head carries metadata", func(t *testing.T) {
		data := []byte("metadata test")
		opts := provider.PutOptions{
			ContentType: "text/plain",
			Metadata:    map[string]string{"custom-key": "custom-value"},
		}
		ref, err := fp.PutObject(ctx, "c1", "b.txt", bytes.NewReader(data), int64(len(data)), opts)
		require.NoError(t, err)

		head, err := fp.HeadObject(ctx, "c1", "b.txt")
		require.NoError(t, err)
		assert.Equal(t, ref.ETag, head.ETag)
		assert.Equal(t, "text/plain", head.ContentType)
		assert.Equal(t, "custom-value", head.Metadata["custom-key"])
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		_, err := fp.PutObject(ctx, "c1", "c.txt", bytes.NewReader([]byte("x")), 1, provider.PutOptions{})
		require.NoError(t, err)

		require.NoError(t, fp.DeleteObject(ctx, "c1", "c.txt"))
		_, err = fp.HeadObject(ctx, "c1", "c.txt")
		assert.True(t, cloudsync.IsNotFound(err))

		assert.NoError(t, fp.DeleteObject(ctx, "c1", "c.txt"))
	})

	t.Run("PostObject on missing object is not_found", func(t *testing.T) {
		err := fp.PostObject(ctx, "c1", "missing.txt", map[string]string{"k": "v"})
		assert.True(t, cloudsync.IsNotFound(err))
	})
}

func TestFakeProvider_PutObject_IfNewerThan(t *testing.T) {
	fp := testutil.NewFakeProvider()
	ctx := context.Background()

	_, err := fp.PutObject(ctx, "c1", "x.txt", bytes.NewReader([]byte("v1")), 2, provider.PutOptions{})
	require.NoError(t, err)

	older := cloudsync.FromLastModified(time.Now().Add(-time.Hour))
	_, err = fp.PutObject(ctx, "c1", "x.txt", bytes.NewReader([]byte("v2")), 2, provider.PutOptions{IfNewerThan: &older})
	assert.True(t, cloudsync.IsConflictNewer(err))

	future := cloudsync.FromLastModified(time.Now().Add(time.Hour))
	ref, err := fp.PutObject(ctx, "c1", "x.txt", bytes.NewReader([]byte("v3")), 2, provider.PutOptions{IfNewerThan: &future})
	require.NoError(t, err)
	assert.NotEmpty(t, ref.ETag)
}

func TestFakeProvider_FailNextPut(t *testing.T) {
	fp := testutil.NewFakeProvider()
	ctx := context.Background()
	injected := cloudsync.NewError(cloudsync.KindTransientNetwork, "put_object", "y.txt", assert.AnError)
	fp.FailNextPut = injected

	_, err := fp.PutObject(ctx, "c1", "y.txt", bytes.NewReader([]byte("v")), 1, provider.PutOptions{})
	assert.ErrorIs(t, err, injected)

	_, err = fp.PutObject(ctx, "c1", "y.txt", bytes.NewReader([]byte("v")), 1, provider.PutOptions{})
	require.NoError(t, err)
}

func TestFakeProvider_ListObjects_DelimiterGroupsPrefixes(t *testing.T) {
	fp := testutil.NewFakeProvider()
	ctx := context.Background()

	for _, name := range []string{"a/1.txt", "a/2.txt", "b/1.txt", "top.txt"} {
		_, err := fp.PutObject(ctx, "c1", name, bytes.NewReader([]byte("v")), 1, provider.PutOptions{})
		require.NoError(t, err)
	}

	page, err := fp.ListObjects(ctx, "c1", provider.ListOptions{Delimiter: "/"})
	require.NoError(t, err)

	assert.Len(t, page.Objects, 1)
	assert.Equal(t, "top.txt", page.Objects[0].Name)
	assert.ElementsMatch(t, []string{"a/", "b/"}, page.CommonPrefixes)
}

func TestFakeProvider_UploadManifest(t *testing.T) {
	fp := testutil.NewFakeProvider()
	ctx := context.Background()

	t.Run("SLO composite etag", func(t *testing.T) {
		segments := []cloudsync.Segment{
			{Path: "c1_segments/seg1", ETag: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Size: 4},
			{Path: "c1_segments/seg2", ETag: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Size: 4},
		}
		manifest := cloudsync.Manifest{Kind: cloudsync.ManifestSLO, Segments: segments}
		ref, err := fp.UploadManifest(ctx, "c1", "big.bin", manifest, provider.PutOptions{})
		require.NoError(t, err)
		assert.Equal(t, cloudsync.CompositeETagSLO(segments), ref.ETag)
	})

	t.Run("MPU composite etag", func(t *testing.T) {
		parts := []cloudsync.Part{
			{Number: 1, ETag: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Size: 5 << 20},
			{Number: 2, ETag: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Size: 5 << 20},
		}
		manifest := cloudsync.Manifest{Kind: cloudsync.ManifestMPU, Parts: parts}
		ref, err := fp.UploadManifest(ctx, "c1", "big.bin", manifest, provider.PutOptions{})
		require.NoError(t, err)
		want, err := cloudsync.CompositeETagMPU(parts)
		require.NoError(t, err)
		assert.Equal(t, want, ref.ETag)
	})

	t.Run("unsupported kind is large object policy error", func(t *testing.T) {
		manifest := cloudsync.Manifest{Kind: cloudsync.ManifestDLO}
		_, err := fp.UploadManifest(ctx, "c1", "big.bin", manifest, provider.PutOptions{})
		assert.Equal(t, cloudsync.KindLargeObjectPolicy, cloudsync.KindOf(err))
	})
}

func TestFakeProvider_ContainerCapabilities(t *testing.T) {
	fp := testutil.NewFakeProvider()
	ctx := context.Background()

	require.NoError(t, fp.SetContainerACL(ctx, "c1", map[string]string{"read": ".r:*"}))
	assert.Equal(t, ".r:*", fp.ContainerACL("c1")["read"])

	require.NoError(t, fp.SetContainerMetadata(ctx, "c1", map[string]string{"owner": "team-x"}))
	assert.Equal(t, "team-x", fp.ContainerMetadata("c1")["owner"])

	expiry := cloudsync.FromLastModified(time.Now().Add(24 * time.Hour))
	require.NoError(t, fp.SetObjectLifecycle(ctx, "c1", "a.txt", expiry))
	got, ok := fp.ObjectLifecycle("c1", "a.txt")
	require.True(t, ok)
	assert.Equal(t, expiry.At.Unix(), got.At.Unix())
}
