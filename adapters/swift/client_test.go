package swift_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gostratum/cloudsync/adapters/swift"
	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/core/logx"
)

// fakeSwiftServer is a minimal TempAuth + object server exercising the
// handshake and the one-retry-on-401 path the client implements.
type fakeSwiftServer struct {
	mux        *http.ServeMux
	srv        *httptest.Server
	validToken string
	authCalls  int
	objects    map[string][]byte
}

func newFakeSwiftServer() *fakeSwiftServer {
	f := &fakeSwiftServer{validToken: "tok-1", objects: make(map[string][]byte)}
	f.mux = http.NewServeMux()
	f.mux.HandleFunc("/auth/v1.0", func(w http.ResponseWriter, r *http.Request) {
		f.authCalls++
		if r.Header.Get("X-Auth-User") == "" || r.Header.Get("X-Auth-Key") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("X-Storage-Url", f.srv.URL+"/v1/AUTH_test")
		w.Header().Set("X-Auth-Token", f.validToken)
		w.WriteHeader(http.StatusOK)
	})
	f.mux.HandleFunc("/v1/AUTH_test/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != f.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			f.objects[r.URL.Path] = data
			w.Header().Set("Etag", `"abc123"`)
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet, http.MethodHead:
			data, ok := f.objects[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", strconv.Itoa(len(data)))
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				_, _ = w.Write(data)
			}
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	f.srv = httptest.NewServer(f.mux)
	return f
}

func (f *fakeSwiftServer) Close() { f.srv.Close() }

func testSettings(f *fakeSwiftServer) swift.Settings {
	return swift.Settings{
		AuthURL:        f.srv.URL + "/auth/v1.0",
		User:           "test:tester",
		Key:            "testing",
		RequestTimeout: 5 * time.Second,
		MaxRetries:     3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     10 * time.Millisecond,
	}
}

func TestClient_Authenticate(t *testing.T) {
	f := newFakeSwiftServer()
	defer f.Close()

	c, err := swift.NewClient(context.Background(), testSettings(f), logx.NewNoopLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, f.authCalls)
	assert.Contains(t, c.StorageURL(), "/v1/AUTH_test")
}

func TestClient_Authenticate_MissingAuthURL(t *testing.T) {
	_, err := swift.NewClient(context.Background(), swift.Settings{}, logx.NewNoopLogger())
	assert.Error(t, err)
}

func TestClient_DoRaw_PutAndGetRoundTrip(t *testing.T) {
	f := newFakeSwiftServer()
	defer f.Close()

	c, err := swift.NewClient(context.Background(), testSettings(f), logx.NewNoopLogger())
	require.NoError(t, err)

	body := []byte("payload")
	resp, err := c.DoRaw(context.Background(), http.MethodPut, "c1", "obj.txt", nil, func(req *http.Request) {
		req.ContentLength = int64(len(body))
	}, func() io.Reader { return bytes.NewReader(body) })
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = c.DoRaw(context.Background(), http.MethodGet, "c1", "obj.txt", nil, nil, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestClient_DoRaw_ReauthenticatesOn401(t *testing.T) {
	f := newFakeSwiftServer()
	defer f.Close()

	c, err := swift.NewClient(context.Background(), testSettings(f), logx.NewNoopLogger())
	require.NoError(t, err)

	// Rotate the token server-side, simulating an expired token the client
	// must recover from without the caller knowing.
	f.validToken = "tok-2"

	resp, err := c.DoRaw(context.Background(), http.MethodHead, "c1", "obj.txt", nil, nil, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 2, f.authCalls)
}

func TestClient_DoRaw_NotFoundMapsToKindNotFound(t *testing.T) {
	f := newFakeSwiftServer()
	defer f.Close()

	c, err := swift.NewClient(context.Background(), testSettings(f), logx.NewNoopLogger())
	require.NoError(t, err)

	_, err = c.DoRaw(context.Background(), http.MethodGet, "c1", "missing.txt", nil, nil, nil)
	require.Error(t, err)
	assert.Equal(t, cloudsync.KindNotFound, cloudsync.KindOf(err))
}

func TestClient_Ping(t *testing.T) {
	f := newFakeSwiftServer()
	defer f.Close()

	c, err := swift.NewClient(context.Background(), testSettings(f), logx.NewNoopLogger())
	require.NoError(t, err)
	assert.NoError(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}
