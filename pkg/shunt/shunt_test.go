package shunt_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gostratum/cloudsync/internal/testutil"
	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/provider"
	"github.com/gostratum/cloudsync/pkg/shunt"
)

// staticResolver is a Resolver backed by a fixed map, standing in for a
// config-backed resolver in tests.
type staticResolver map[string]shunt.Binding

func (s staticResolver) Resolve(account, container string) (shunt.Binding, bool) {
	b, ok := s[account+"/"+container]
	return b, ok
}

func notFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})
}

func TestShunt_ObjectLocal404FallsBackToRemote(t *testing.T) {
	remote := testutil.NewFakeProvider()
	_, err := remote.PutObject(context.Background(), "c1", "obj1", bytes.NewReader([]byte("remote body")), 11, provider.PutOptions{})
	require.NoError(t, err)

	resolver := staticResolver{
		"acct/c1": {Profile: cloudsync.Profile{Account: "acct", Container: "c1"}, Remote: remote, IsMigration: true},
	}
	handler := shunt.Middleware(shunt.Config{Resolver: resolver})(notFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/acct/c1/obj1", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "remote body", rw.Body.String())
}

func TestShunt_ObjectLocal404NoBindingStaysNotFound(t *testing.T) {
	resolver := staticResolver{}
	handler := shunt.Middleware(shunt.Config{Resolver: resolver})(notFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/acct/c1/obj1", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusNotFound, rw.Code)
}

func TestShunt_ListingMergesLocalAndRemoteWithContentLocation(t *testing.T) {
	remote := testutil.NewFakeProvider()
	_, err := remote.PutObject(context.Background(), "c1", "remote-only", bytes.NewReader([]byte("r")), 1, provider.PutOptions{})
	require.NoError(t, err)
	_, err = remote.PutObject(context.Background(), "c1", "shared", bytes.NewReader([]byte("remote-shared")), 13, provider.PutOptions{})
	require.NoError(t, err)

	local := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`[{"name":"local-only","bytes":5},{"name":"shared","bytes":3}]`))
	})

	resolver := staticResolver{
		"acct/c1": {Profile: cloudsync.Profile{Account: "acct", Container: "c1"}, Remote: remote, IsMigration: true},
	}
	handler := shunt.Middleware(shunt.Config{Resolver: resolver})(local)

	req := httptest.NewRequest(http.MethodGet, "/v1/acct/c1?format=json", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	assert.Contains(t, rw.Body.String(), `"name":"local-only"`)
	assert.Contains(t, rw.Body.String(), `"name":"remote-only"`)
	assert.Contains(t, rw.Body.String(), `"content_location":"remote"`)
	// "shared" appears in both; local wins, so its content_location must
	// NOT be stamped "remote" and its size must be the local 3, not 13.
	assert.Contains(t, rw.Body.String(), `"name":"shared","bytes":3}`)
}

func TestShunt_PartialContentCoveringWholeObjectIsPromoted(t *testing.T) {
	local := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-4/5")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("hello"))
	})

	handler := shunt.Middleware(shunt.Config{Resolver: staticResolver{}})(local)

	req := httptest.NewRequest(http.MethodGet, "/v1/acct/c1/obj1", nil)
	req.Header.Set("Range", "bytes=0-4")
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Empty(t, rw.Header().Get("Content-Range"))
	assert.Equal(t, "hello", rw.Body.String())
}

func TestShunt_PartialContentCoveringSubRangeIsNotPromoted(t *testing.T) {
	local := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "bytes 0-2/5")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("hel"))
	})

	handler := shunt.Middleware(shunt.Config{Resolver: staticResolver{}})(local)

	req := httptest.NewRequest(http.MethodGet, "/v1/acct/c1/obj1", nil)
	req.Header.Set("Range", "bytes=0-2")
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusPartialContent, rw.Code)
	assert.Equal(t, "bytes 0-2/5", rw.Header().Get("Content-Range"))
}

func TestShunt_RemoteErrorSurfacesAs502WithContentLength(t *testing.T) {
	resolver := staticResolver{
		"acct/c1": {Profile: cloudsync.Profile{Account: "acct", Container: "c1"}, Remote: &erroringProvider{testutil.NewFakeProvider()}, IsMigration: true},
	}
	handler := shunt.Middleware(shunt.Config{Resolver: resolver})(notFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/acct/c1/obj1", nil)
	rw := httptest.NewRecorder()
	handler.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusBadGateway, rw.Code)
	assert.NotEmpty(t, rw.Header().Get("Content-Length"))
	assert.NotEmpty(t, rw.Body.String())
}

// erroringProvider wraps a FakeProvider and forces GetObject to fail with a
// transient-network error, simulating an upstream connection failure.
type erroringProvider struct {
	*testutil.FakeProvider
}

func (e *erroringProvider) GetObject(ctx context.Context, container, name string) (provider.Reader, cloudsync.ObjectRef, error) {
	return nil, cloudsync.ObjectRef{}, cloudsync.NewError(cloudsync.KindTransientNetwork, "get_object", name, errSimulatedUpstream)
}

type upstreamError string

func (e upstreamError) Error() string { return string(e) }

var errSimulatedUpstream = upstreamError("simulated upstream connection failure")
