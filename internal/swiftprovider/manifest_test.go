package swift_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adapterswift "github.com/gostratum/cloudsync/adapters/swift"
	swiftprovider "github.com/gostratum/cloudsync/internal/swiftprovider"
	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/provider"
	"github.com/gostratum/core/logx"
)

// sloServer captures the PUT manifest request so the test can assert on
// the multipart-manifest=put query parameter and the segment JSON body,
// the Swift SLO registration convention (spec §4.2).
type sloServer struct {
	srv            *httptest.Server
	gotQuery       string
	gotBody        []byte
	gotContentType string
}

func newSLOServer(t *testing.T) *sloServer {
	t.Helper()
	s := &sloServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1.0", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Storage-Url", s.srv.URL+"/v1/AUTH_test")
		w.Header().Set("X-Auth-Token", "tok")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/AUTH_test/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.gotQuery = r.URL.RawQuery
		s.gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		s.gotBody = body
		w.Header().Set("Etag", `"manifest"`)
		w.WriteHeader(http.StatusCreated)
	})
	s.srv = httptest.NewServer(mux)
	return s
}

func (s *sloServer) Close() { s.srv.Close() }

func TestProvider_UploadManifest_SLO(t *testing.T) {
	s := newSLOServer(t)
	defer s.Close()

	settings := adapterswift.Settings{
		AuthURL: s.srv.URL + "/auth/v1.0", User: "test:tester", Key: "testing",
		RequestTimeout: 5 * time.Second, MaxRetries: 2,
		BackoffInitial: time.Millisecond, BackoffMax: 5 * time.Millisecond,
	}
	client, err := adapterswift.NewClient(context.Background(), settings, logx.NewNoopLogger())
	require.NoError(t, err)
	p := swiftprovider.New(client, logx.NewNoopLogger())

	segments := []cloudsync.Segment{
		{Path: "c1_segments/seg1", ETag: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Size: 5 << 20},
		{Path: "c1_segments/seg2", ETag: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Size: 3 << 20},
	}
	manifest := cloudsync.Manifest{Kind: cloudsync.ManifestSLO, Segments: segments}

	ref, err := p.UploadManifest(context.Background(), "c1", "big.bin", manifest,
		provider.PutOptions{ContentType: "application/octet-stream"})
	require.NoError(t, err)

	assert.Equal(t, "multipart-manifest=put", s.gotQuery)
	assert.Equal(t, cloudsync.CompositeETagSLO(segments), ref.ETag)

	var wire []struct {
		Path string `json:"path"`
		ETag string `json:"etag"`
		Size int64  `json:"size_bytes"`
	}
	require.NoError(t, json.Unmarshal(s.gotBody, &wire))
	require.Len(t, wire, 2)
	assert.Equal(t, "c1_segments/seg1", wire[0].Path)
	assert.Equal(t, strconv.FormatInt(5<<20, 10), strconv.FormatInt(wire[0].Size, 10))
}

func TestProvider_UploadManifest_RejectsNonSLO(t *testing.T) {
	s := newSLOServer(t)
	defer s.Close()

	settings := adapterswift.Settings{
		AuthURL: s.srv.URL + "/auth/v1.0", User: "test:tester", Key: "testing",
		RequestTimeout: 5 * time.Second, MaxRetries: 1,
		BackoffInitial: time.Millisecond, BackoffMax: 5 * time.Millisecond,
	}
	client, err := adapterswift.NewClient(context.Background(), settings, logx.NewNoopLogger())
	require.NoError(t, err)
	p := swiftprovider.New(client, logx.NewNoopLogger())

	manifest := cloudsync.Manifest{Kind: cloudsync.ManifestMPU}
	_, err = p.UploadManifest(context.Background(), "c1", "big.bin", manifest, provider.PutOptions{})
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "SLO"))
}
