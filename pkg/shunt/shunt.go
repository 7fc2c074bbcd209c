// Package shunt implements the transparent proxy middleware spec §4.5
// describes: it sits in the local HTTP pipeline ahead of any large-object
// expansion middleware and falls back to the remote provider whenever the
// local cluster can't answer a request a sync/migration binding covers.
// There is no teacher precedent for an http.Handler-shaped middleware (the
// teacher is a byte-store client library, not a proxy), so the wrapper
// shape — a struct holding `next http.Handler` plus a status-capturing
// ResponseWriter — is grounded on the corpus's one real Swift proxy
// middleware, other_examples' hummingbird largeobject.go xloMiddleware.
package shunt

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/provider"
	"github.com/gostratum/core/logx"
)

// Binding pairs a profile with the provider that speaks for its remote,
// resolved by account/container.
type Binding struct {
	Profile     cloudsync.Profile
	Remote      provider.Provider
	IsMigration bool
}

// Resolver looks up the binding that covers a given (account, container),
// honoring wildcard profiles the same way the sync engine and migrator do.
// The embedding proxy supplies the implementation; this module's daemons
// do not mount the shunt, and tests use a static map.
type Resolver interface {
	Resolve(account, container string) (Binding, bool)
}

// Config wires one Middleware instance.
type Config struct {
	Resolver Resolver
	Logger   logx.Logger
}

// Middleware returns an http.Handler wrapper implementing spec §4.5,
// the same `func(http.Handler) http.Handler` shape other_examples'
// hummingbird NewXlo returns.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logx.NewNoopLogger()
	}
	return func(next http.Handler) http.Handler {
		return &shuntHandler{next: next, cfg: cfg}
	}
}

type shuntHandler struct {
	next http.Handler
	cfg  Config
}

func (h *shuntHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path, ok := parsePath(r.URL.Path)
	if !ok {
		h.next.ServeHTTP(w, r)
		return
	}

	switch {
	case path.IsObject() && (r.Method == http.MethodGet || r.Method == http.MethodHead):
		h.serveObject(w, r, path)
	case path.IsContainer() && r.Method == http.MethodGet:
		h.serveContainerListing(w, r, path)
	case path.IsAccount() && r.Method == http.MethodGet:
		h.serveAccountListing(w, r, path)
	default:
		h.next.ServeHTTP(w, r)
	}
}

// serveObject runs the local handler first; on a local 404 it falls back
// to the remote, and on a 206 whose range covers the whole object it
// promotes the response to 200 (spec §4.5).
func (h *shuntHandler) serveObject(w http.ResponseWriter, r *http.Request, path requestPath) {
	rec := &captureWriter{header: make(http.Header)}
	h.next.ServeHTTP(rec, r)

	if rec.Status() != http.StatusNotFound {
		flushCapture(w, rec, promoteFullRange(rec))
		return
	}

	binding, ok := h.cfg.Resolver.Resolve(path.Account, path.Container)
	if !ok {
		flushCapture(w, rec, rec.Status())
		return
	}

	h.fetchRemoteObject(w, r, path, binding)
}

func (h *shuntHandler) fetchRemoteObject(w http.ResponseWriter, r *http.Request, path requestPath, binding Binding) {
	ctx := r.Context()
	body, ref, err := binding.Remote.GetObject(ctx, binding.Profile.RemoteContainer(path.Container), path.Object)
	if err != nil {
		writeUpstreamError(w, err)
		return
	}
	defer body.Close()

	header := w.Header()
	if ref.ContentType != "" {
		header.Set("Content-Type", ref.ContentType)
	}
	if ref.ETag != "" {
		header.Set("ETag", ref.ETag)
	}
	header.Set("Content-Length", strconv.FormatInt(ref.Size, 10))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	io.Copy(w, body) //nolint:errcheck
}

// serveContainerListing runs the local handler, and if a migration covers
// this container, merges in the remote listing (spec §4.5 "merge-sort the
// local listing with a remote listing by name").
func (h *shuntHandler) serveContainerListing(w http.ResponseWriter, r *http.Request, path requestPath) {
	binding, ok := h.cfg.Resolver.Resolve(path.Account, path.Container)
	if !ok || !binding.IsMigration {
		h.next.ServeHTTP(w, r)
		return
	}

	rec := &captureWriter{header: make(http.Header)}
	h.next.ServeHTTP(rec, r)
	if rec.Status() != http.StatusOK {
		flushCapture(w, rec, rec.Status())
		return
	}

	local, err := decodeListing(rec.header.Get("Content-Type"), rec.body)
	if err != nil {
		h.cfg.Logger.Warn("shunt: failed to decode local listing, passing through", "error", err)
		flushCapture(w, rec, rec.Status())
		return
	}

	remoteContainer := binding.Profile.RemoteContainer(path.Container)
	page, err := binding.Remote.ListObjects(r.Context(), remoteContainer, provider.ListOptions{
		Prefix: r.URL.Query().Get("prefix"),
	})
	if err != nil {
		h.cfg.Logger.Warn("shunt: remote listing failed, returning local only", "error", err)
		writeListing(w, listingFormat(r), local)
		return
	}

	remote := make([]listingEntry, 0, len(page.Objects))
	for _, ref := range page.Objects {
		remote = append(remote, entryFromRef(ref, true))
	}
	sortEntries(local)
	sortEntries(remote)

	writeListing(w, listingFormat(r), mergeListings(local, remote))
}

// serveAccountListing propagates the remote account's container list for a
// wildcard migration (spec §4.5 "propagate the remote account's container
// list").
func (h *shuntHandler) serveAccountListing(w http.ResponseWriter, r *http.Request, path requestPath) {
	binding, ok := h.cfg.Resolver.Resolve(path.Account, cloudsync.Wildcard)
	if !ok || !binding.IsMigration {
		h.next.ServeHTTP(w, r)
		return
	}

	rec := &captureWriter{header: make(http.Header)}
	h.next.ServeHTTP(rec, r)
	if rec.Status() != http.StatusOK {
		flushCapture(w, rec, rec.Status())
		return
	}

	local, err := decodeListing(rec.header.Get("Content-Type"), rec.body)
	if err != nil {
		h.cfg.Logger.Warn("shunt: failed to decode local account listing, passing through", "error", err)
		flushCapture(w, rec, rec.Status())
		return
	}

	lister, isLister := binding.Remote.(provider.ContainerLister)
	if !isLister {
		writeListing(w, listingFormat(r), local)
		return
	}
	names, err := lister.ListContainers(r.Context())
	if err != nil {
		h.cfg.Logger.Warn("shunt: remote container list failed, returning local only", "error", err)
		writeListing(w, listingFormat(r), local)
		return
	}

	remote := make([]listingEntry, 0, len(names))
	for _, name := range names {
		remote = append(remote, listingEntry{Name: name, ContentLocation: "remote"})
	}
	sortEntries(local)
	sortEntries(remote)

	writeListing(w, listingFormat(r), mergeListings(local, remote))
}

// promoteFullRange reports the status to actually send to the client:
// a 206 whose Content-Range covers the entire object is rewritten to 200
// (spec §4.5 "206 responses whose range covers the entire object are
// promoted to 200").
func promoteFullRange(rec *captureWriter) int {
	if rec.Status() != http.StatusPartialContent {
		return rec.Status()
	}
	start, end, size, ok := parseContentRange(rec.header.Get("Content-Range"))
	if !ok || start != 0 || end != size-1 {
		return rec.Status()
	}
	rec.header.Del("Content-Range")
	return http.StatusOK
}

func parseContentRange(v string) (start, end, size int64, ok bool) {
	v = strings.TrimPrefix(v, "bytes ")
	parts := strings.SplitN(v, "/", 2)
	if len(parts) != 2 {
		return 0, 0, 0, false
	}
	rangeParts := strings.SplitN(parts[0], "-", 2)
	if len(rangeParts) != 2 {
		return 0, 0, 0, false
	}
	start, err1 := strconv.ParseInt(rangeParts[0], 10, 64)
	end, err2 := strconv.ParseInt(rangeParts[1], 10, 64)
	size, err3 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	return start, end, size, true
}

// writeUpstreamError surfaces a remote error with its own status where
// meaningful (404, 416); anything else (connection failure, 5xx) becomes
// a 502 with Content-Length correctly set (spec §4.5).
func writeUpstreamError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case cloudsync.IsNotFound(err):
		status = http.StatusNotFound
	case cloudsync.KindOf(err) == cloudsync.KindRemote4xxClient:
		status = http.StatusRequestedRangeNotSatisfiable
	}
	body := []byte(err.Error())
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}
