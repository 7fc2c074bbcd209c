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

// fakeAccount is an in-memory Swift account server: one containers map
// keyed by name, each holding objects keyed by name, enough to exercise
// Provider's request shapes (headers, query strings, JSON listing body).
type fakeAccount struct {
	mux        *http.ServeMux
	srv        *httptest.Server
	token      string
	containers map[string]map[string]*fakeObj
}

type fakeObj struct {
	data []byte
	ct   string
	meta map[string]string
}

func newFakeAccount(t *testing.T) *fakeAccount {
	t.Helper()
	f := &fakeAccount{token: "tok", containers: make(map[string]map[string]*fakeObj)}
	f.mux = http.NewServeMux()
	f.mux.HandleFunc("/auth/v1.0", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Storage-Url", f.srv.URL+"/v1/AUTH_test")
		w.Header().Set("X-Auth-Token", f.token)
		w.WriteHeader(http.StatusOK)
	})
	f.mux.HandleFunc("/v1/AUTH_test/", f.handleObject)
	f.srv = httptest.NewServer(f.mux)
	return f
}

func (f *fakeAccount) handleObject(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Auth-Token") != f.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/v1/AUTH_test/")
	container, name, hasName := strings.Cut(path, "/")

	if !hasName {
		f.handleContainer(w, r, container)
		return
	}

	objs, ok := f.containers[container]
	if !ok {
		objs = make(map[string]*fakeObj)
		f.containers[container] = objs
	}

	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		ct := r.Header.Get("Content-Type")
		meta := extractMeta(r.Header, "X-Object-Meta-")
		objs[name] = &fakeObj{data: data, ct: ct, meta: meta}
		w.Header().Set("Etag", `"`+strconv.Itoa(len(data))+`"`)
		w.WriteHeader(http.StatusCreated)
	case http.MethodPost:
		obj, ok := objs[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		obj.meta = extractMeta(r.Header, "X-Object-Meta-")
		w.WriteHeader(http.StatusAccepted)
	case http.MethodGet, http.MethodHead:
		obj, ok := objs[name]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		w.Header().Set("Content-Type", obj.ct)
		w.Header().Set("Etag", `"`+strconv.Itoa(len(obj.data))+`"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		for k, v := range obj.meta {
			w.Header().Set("X-Object-Meta-"+k, v)
		}
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(obj.data)
		}
	case http.MethodDelete:
		delete(objs, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeAccount) handleContainer(w http.ResponseWriter, r *http.Request, container string) {
	switch r.Method {
	case http.MethodPut:
		if _, ok := f.containers[container]; !ok {
			f.containers[container] = make(map[string]*fakeObj)
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodPost:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		if r.URL.Query().Get("format") != "json" {
			w.WriteHeader(http.StatusOK)
			return
		}
		type entry struct {
			Name         string `json:"name"`
			Hash         string `json:"hash"`
			Bytes        int64  `json:"bytes"`
			ContentType  string `json:"content_type"`
			LastModified string `json:"last_modified"`
		}
		objs := f.containers[container]
		var entries []entry
		for name, obj := range objs {
			entries = append(entries, entry{
				Name: name, Hash: strconv.Itoa(len(obj.data)), Bytes: int64(len(obj.data)),
				ContentType: obj.ct, LastModified: "2026-01-01T00:00:00.000000",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(entries)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func extractMeta(h http.Header, prefix string) map[string]string {
	out := make(map[string]string)
	for k, vs := range h {
		if strings.HasPrefix(k, prefix) && len(vs) > 0 {
			out[strings.TrimPrefix(k, prefix)] = vs[0]
		}
	}
	return out
}

func (f *fakeAccount) Close() { f.srv.Close() }

func newTestProvider(t *testing.T, f *fakeAccount) *swiftprovider.Provider {
	t.Helper()
	settings := adapterswift.Settings{
		AuthURL:        f.srv.URL + "/auth/v1.0",
		User:           "test:tester",
		Key:            "testing",
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
	client, err := adapterswift.NewClient(context.Background(), settings, logx.NewNoopLogger())
	require.NoError(t, err)
	return swiftprovider.New(client, logx.NewNoopLogger())
}

func TestProvider_PutGetHeadDelete(t *testing.T) {
	f := newFakeAccount(t)
	defer f.Close()
	p := newTestProvider(t, f)
	ctx := context.Background()

	data := "hello swift"
	ref, err := p.PutObject(ctx, "c1", "a.txt", strings.NewReader(data), int64(len(data)),
		provider.PutOptions{ContentType: "text/plain", Metadata: map[string]string{"owner": "team-x"}})
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), ref.Size)

	head, err := p.HeadObject(ctx, "c1", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", head.ContentType)
	assert.Equal(t, "team-x", head.Metadata["owner"])

	r, getRef, err := p.GetObject(ctx, "c1", "a.txt")
	require.NoError(t, err)
	defer r.Close()
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, string(got))
	assert.Equal(t, head.ETag, getRef.ETag)

	require.NoError(t, p.DeleteObject(ctx, "c1", "a.txt"))
	_, err = p.HeadObject(ctx, "c1", "a.txt")
	assert.True(t, cloudsync.IsNotFound(err))

	assert.NoError(t, p.DeleteObject(ctx, "c1", "a.txt"))
}

func TestProvider_PostObject_UpdatesMetadataInPlace(t *testing.T) {
	f := newFakeAccount(t)
	defer f.Close()
	p := newTestProvider(t, f)
	ctx := context.Background()

	_, err := p.PutObject(ctx, "c1", "a.txt", strings.NewReader("x"), 1, provider.PutOptions{})
	require.NoError(t, err)

	require.NoError(t, p.PostObject(ctx, "c1", "a.txt", map[string]string{"k": "v"}))

	head, err := p.HeadObject(ctx, "c1", "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "v", head.Metadata["k"])
}

func TestProvider_ListObjects_JSONFormat(t *testing.T) {
	f := newFakeAccount(t)
	defer f.Close()
	p := newTestProvider(t, f)
	ctx := context.Background()

	for _, name := range []string{"1.txt", "2.txt"} {
		_, err := p.PutObject(ctx, "c1", name, strings.NewReader("v"), 1, provider.PutOptions{})
		require.NoError(t, err)
	}

	page, err := p.ListObjects(ctx, "c1", provider.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, page.Objects, 2)
}

func TestProvider_ContainerCapabilities(t *testing.T) {
	f := newFakeAccount(t)
	defer f.Close()
	p := newTestProvider(t, f)
	ctx := context.Background()

	require.NoError(t, p.PutContainer(ctx, "c1"))
	require.NoError(t, p.SetContainerACL(ctx, "c1", map[string]string{"read": ".r:*"}))
	require.NoError(t, p.SetContainerMetadata(ctx, "c1", map[string]string{"owner": "team-x"}))

	expiry := cloudsync.FromLastModified(time.Now().Add(time.Hour))
	_, err := p.PutObject(ctx, "c1", "a.txt", strings.NewReader("v"), 1, provider.PutOptions{})
	require.NoError(t, err)
	require.NoError(t, p.SetObjectLifecycle(ctx, "c1", "a.txt", expiry))

	assert.Equal(t, "c1_segments", p.SegmentContainer("c1"))
}
