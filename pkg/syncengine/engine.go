// Package syncengine drives the per-row change-feed sync loop: for every
// new change-feed row on a profile's (account, container), decide whether
// to skip, PUT/POST the object to the remote, translate a large-object
// manifest across protocols, propagate a delete, and apply the profile's
// lifecycle/retention rules, while advancing the profile's StatusRecord
// only as far as every row up to that point has reached a terminal
// outcome (spec §4.3). Generalizes the teacher's single-shot
// storagex.Storage calls into the stateful, resumable per-key engine spec
// §3/§4.3 describe; there is no teacher precedent for a change-feed loop
// itself, so the row state machine and low-water-mark advancement are
// grounded directly in spec §4.3/§5 rather than one teacher file, while
// every individual operation (PUT/HEAD/DELETE/UploadManifest, retry,
// dedupe, metrics) reuses the packages already grounded elsewhere.
package syncengine

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/gostratum/core/logx"

	"github.com/gostratum/cloudsync/internal/changefeed"
	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/dedupe"
	"github.com/gostratum/cloudsync/pkg/largeobject"
	"github.com/gostratum/cloudsync/pkg/metrics"
	"github.com/gostratum/cloudsync/pkg/provider"
	"github.com/gostratum/cloudsync/pkg/retrypolicy"
	"github.com/gostratum/cloudsync/pkg/ring"
	"github.com/gostratum/cloudsync/pkg/statusstore"
)

// Config wires one profile's Engine. Local is always Swift-shaped (spec
// §1); Remote speaks whatever Profile.Protocol names.
type Config struct {
	Profile cloudsync.Profile
	Local   provider.Provider
	Remote  provider.Provider
	Feed    changefeed.Source
	Status  *statusstore.Store
	Metrics *metrics.Recorder
	Retry   *retrypolicy.Policy
	Logger  logx.Logger

	// Ring/Shard partition change-feed rows across a fleet of processes
	// (spec §5); Ring may be nil, meaning this process owns every row.
	Ring  *ring.Ring
	Shard int

	// RowLimit bounds how many rows RunPass consumes from Feed per call;
	// defaults to 1000 (spec §6 items_chunk).
	RowLimit int
}

// Engine runs sync passes for one profile.
type Engine struct {
	cfg        Config
	exclude    *regexp.Regexp
	dedupe     *dedupe.Guard
	translator *largeobject.Translator
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.Local == nil || cfg.Remote == nil || cfg.Feed == nil || cfg.Status == nil {
		return nil, fmt.Errorf("syncengine: local, remote, feed and status are all required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logx.NewNoopLogger()
	}
	if cfg.Retry == nil {
		cfg.Retry = retrypolicy.New(retrypolicy.DefaultConfig(), nil)
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = 1000
	}

	var exclude *regexp.Regexp
	if cfg.Profile.ExcludePattern != "" {
		var err error
		exclude, err = regexp.Compile(cfg.Profile.ExcludePattern)
		if err != nil {
			return nil, cloudsync.NewError(cloudsync.KindConfigInvalid, "syncengine.new", cfg.Profile.Key(), err)
		}
	}

	e := &Engine{cfg: cfg, exclude: exclude, dedupe: dedupe.New()}
	e.translator = largeobject.NewTranslator(cfg.Profile.MinSegmentSize, e.openLocalSegment)
	return e, nil
}

// PassResult summarizes one RunPass call, for logging and tests.
type PassResult struct {
	Scanned         int64
	Uploaded        int64
	BytesUploaded   int64
	AlreadyUploaded int64
	Deleted         int64
	Errors          map[cloudsync.ErrorKind]int64
}

// rowOutcome classifies how processRow's attempt resolved, driving the
// low-water-mark advancement in RunPass.
type rowOutcome int

const (
	// outcomeDone means the row reached a terminal state this pass: it
	// succeeded, was legitimately skipped, or exhausted its retry budget
	// (DONE / DONE_FAILED in spec §4.3's state machine).
	outcomeDone rowOutcome = iota
	// outcomePending means the row must be reconsidered on a later pass
	// (copy_after not yet elapsed, or the local object changed again
	// since the row was queued) and must not advance the status cursor
	// past it.
	outcomePending
)

// RunPass consumes up to RowLimit new rows from Feed and processes each,
// then advances the profile's StatusRecord.LastRow to the highest row_id
// such that every row up to and including it reached a terminal outcome,
// contiguous from the previous mark (spec §4.3 "low water mark" cursor
// semantics, §5 per-key ordering: a later row for a different key may
// still be processed even while an earlier row is re-queued).
func (e *Engine) RunPass(ctx context.Context) (PassResult, error) {
	container := e.cfg.Profile.Container
	rec, err := e.cfg.Status.Load(e.cfg.Profile.Account, container)
	if err != nil {
		return PassResult{}, err
	}

	listContainer := container
	if e.cfg.Profile.IsWildcard() {
		listContainer = ""
	}
	rows, err := e.cfg.Feed.Rows(ctx, e.cfg.Profile.Account, listContainer, rec.LastRow, e.cfg.RowLimit)
	if err != nil {
		return PassResult{}, err
	}

	result := PassResult{Errors: make(map[cloudsync.ErrorKind]int64)}
	newLastRow := rec.LastRow
	stalled := false

	for _, row := range rows {
		if e.cfg.Ring != nil && !e.cfg.Ring.Owns(e.cfg.Shard, row.Account+"/"+row.Container+"/"+row.Name) {
			continue
		}

		outcome := e.processRow(ctx, row, &result)
		if stalled {
			continue
		}
		if outcome == outcomePending {
			stalled = true
			continue
		}
		newLastRow = row.RowID
	}

	rec.AdvanceLastRow(newLastRow)
	rec.AdvanceVerifiedRow(newLastRow)
	rec.BytesCount += result.BytesUploaded
	rec.MovedCount += result.Uploaded
	rec.ScanCount += result.Scanned

	if e.cfg.Metrics != nil {
		e.cfg.Metrics.RowLag(e.cfg.Profile.Account, container, rec.LastRow-rec.VerifiedRow)
	}

	if err := e.cfg.Status.Save(rec); err != nil {
		return result, err
	}
	return result, nil
}

// processRow applies spec §4.3 steps 1-6 to a single row.
func (e *Engine) processRow(ctx context.Context, row changefeed.Row, result *PassResult) rowOutcome {
	key := row.Account + "/" + row.Container + "/" + row.Name
	release := e.dedupe.Acquire(key)
	defer release()

	result.Scanned++
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ScannedObject(row.Account, row.Container)
	}

	// Step 1: exclude_pattern.
	if e.exclude != nil && e.exclude.MatchString(row.Name) {
		return outcomeDone
	}

	// Step 2: copy_after - objects younger than this are requeued, not
	// skipped, so they get a chance once they age past the threshold.
	if row.Op != cloudsync.OpDelete && e.cfg.Profile.CopyAfter > 0 {
		if time.Since(row.Ref.Timestamp.At) < time.Duration(e.cfg.Profile.CopyAfter)*time.Second {
			return outcomePending
		}
	}

	// Step 3: the local object may have changed again since this row was
	// queued; re-HEAD and requeue if its timestamp no longer matches.
	if row.Op != cloudsync.OpDelete {
		head, err := e.cfg.Local.HeadObject(ctx, row.Container, row.Name)
		if err != nil {
			if cloudsync.IsNotFound(err) {
				return outcomePending
			}
			e.recordError(row, err, result)
			return outcomePending
		}
		if !head.Timestamp.At.Equal(row.Ref.Timestamp.At) {
			return outcomePending
		}
	}

	var opErr error
	switch row.Op {
	case cloudsync.OpPut, cloudsync.OpPost:
		opErr = e.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			return e.syncPut(ctx, row, result)
		})
	case cloudsync.OpDelete:
		opErr = e.cfg.Retry.Do(ctx, func(ctx context.Context) error {
			return e.syncDelete(ctx, row, result)
		})
	default:
		opErr = fmt.Errorf("syncengine: unknown change op %q", row.Op)
	}

	if opErr != nil {
		e.recordError(row, opErr, result)
	}
	// Either way this row reached a terminal state: success, or
	// DONE_FAILED after exhausting the retry policy's attempt budget.
	return outcomeDone
}

func (e *Engine) recordError(row changefeed.Row, err error, result *PassResult) {
	kind := cloudsync.KindOf(err)
	result.Errors[kind]++
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.Error(row.Account, row.Container, kind)
	}
	e.cfg.Logger.Error("syncengine: row failed", "account", row.Account, "container", row.Container,
		"name", row.Name, "op", row.Op, "row_id", row.RowID, "kind", kind, "error", err)
}

// syncPut implements spec §4.3 step 4: skip if the remote is already
// current, otherwise route manifests through the translator or stream a
// plain object, then apply lifecycle and retain_local.
func (e *Engine) syncPut(ctx context.Context, row changefeed.Row, result *PassResult) error {
	remoteContainer := e.cfg.Profile.RemoteKeyPrefix(row.Container)

	remoteHead, err := e.cfg.Remote.HeadObject(ctx, remoteContainer, row.Name)
	if err == nil && cloudsync.ETagsEqual(remoteHead.ETag, row.Ref.ETag) && cloudsync.MetadataEqual(remoteHead.Metadata, row.Ref.Metadata) {
		result.AlreadyUploaded++
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.AlreadyUploaded(row.Account, row.Container)
		}
		e.applyLifecycle(ctx, row, nil)
		return e.retainLocalIfNeeded(ctx, row)
	}
	if err != nil && !cloudsync.IsNotFound(err) {
		return err
	}

	if mr, ok := e.cfg.Local.(provider.ManifestReader); ok {
		manifest, isManifest, merr := mr.ReadManifest(ctx, row.Container, row.Name)
		if merr != nil {
			return merr
		}
		if isManifest {
			return e.syncManifest(ctx, row, manifest, result)
		}
	}

	return e.syncStream(ctx, row, result)
}

// syncStream uploads a plain (non-manifest) object body and verifies the
// remote etag matches before declaring success (spec §4.1 ETag compares).
func (e *Engine) syncStream(ctx context.Context, row changefeed.Row, result *PassResult) error {
	body, ref, err := e.cfg.Local.GetObject(ctx, row.Container, row.Name)
	if err != nil {
		return err
	}
	defer body.Close()

	remoteContainer := e.cfg.Profile.RemoteKeyPrefix(row.Container)
	uploaded, err := e.cfg.Remote.PutObject(ctx, remoteContainer, row.Name, body, ref.Size, provider.PutOptions{
		ContentType: ref.ContentType,
		Metadata:    ref.Metadata,
	})
	if err != nil {
		return err
	}
	if !cloudsync.ETagsEqual(uploaded.ETag, ref.ETag) {
		return cloudsync.NewError(cloudsync.KindIntegrityMismatch, "sync.put", row.Name,
			fmt.Errorf("remote etag %q does not match local etag %q", uploaded.ETag, ref.ETag))
	}

	result.Uploaded++
	result.BytesUploaded += ref.Size
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.UploadedObject(row.Account, row.Container, ref.Size)
	}

	e.applyLifecycle(ctx, row, nil)
	return e.retainLocalIfNeeded(ctx, row)
}

// syncManifest implements the SLO/DLO translation path of spec §4.3 step
// 4 / §4.2: a plain DLO that isn't being converted is streamed like any
// other object (the local proxy already serves it assembled); everything
// else is re-expressed as the remote protocol's own large-object shape.
func (e *Engine) syncManifest(ctx context.Context, row changefeed.Row, m cloudsync.Manifest, result *PassResult) error {
	if m.Kind == cloudsync.ManifestDLO {
		if m.DLOHasData {
			return cloudsync.NewError(cloudsync.KindLargeObjectPolicy, "sync.manifest", row.Name, cloudsync.ErrLargeObjectPolicy)
		}
		if !e.cfg.Profile.ConvertDLO {
			return e.syncStream(ctx, row, result)
		}
		segments, err := largeobject.ResolveDLO(ctx, e.cfg.Local, m)
		if err != nil {
			return err
		}
		m = cloudsync.Manifest{Kind: cloudsync.ManifestSLO, Segments: segments}
	}

	remoteContainer := e.cfg.Profile.RemoteKeyPrefix(row.Container)
	segContainer := remoteContainer
	if namer, ok := e.cfg.Remote.(provider.SegmentContainerNamer); ok {
		segContainer = namer.SegmentContainer(remoteContainer)
	}

	var totalBytes int64
	switch e.cfg.Profile.Protocol {
	case cloudsync.ProtocolSwift:
		uploaded := make([]cloudsync.Segment, 0, len(m.Segments))
		for _, seg := range m.Segments {
			srcContainer, srcName, ok := cloudsync.SplitPath(seg.Path)
			if !ok {
				return fmt.Errorf("syncengine: malformed segment path %q", seg.Path)
			}
			body, ref, err := e.cfg.Local.GetObject(ctx, srcContainer, srcName)
			if err != nil {
				return err
			}
			up, err := e.cfg.Remote.PutObject(ctx, segContainer, srcName, body, ref.Size, provider.PutOptions{})
			body.Close()
			if err != nil {
				return err
			}
			uploaded = append(uploaded, cloudsync.Segment{Path: segContainer + "/" + srcName, ETag: up.ETag, Size: up.Size})
			totalBytes += up.Size
		}

		manifestRef, err := e.cfg.Remote.UploadManifest(ctx, remoteContainer, row.Name,
			cloudsync.Manifest{Kind: cloudsync.ManifestSLO, Segments: uploaded}, provider.PutOptions{})
		if err != nil {
			return err
		}
		if !cloudsync.ETagsEqual(manifestRef.ETag, cloudsync.CompositeETagSLO(uploaded)) {
			return cloudsync.NewError(cloudsync.KindIntegrityMismatch, "sync.manifest", row.Name,
				fmt.Errorf("composite etag mismatch after SLO upload"))
		}
		e.applySegmentLifecycle(ctx, segContainer, uploaded)

	case cloudsync.ProtocolS3:
		groups := e.translator.SLOToMPU(m.Segments)
		for _, g := range groups {
			for _, s := range g {
				totalBytes += s.Size
			}
		}
		if _, err := e.translator.UploadAsMPU(ctx, e.cfg.Remote, remoteContainer, row.Name, groups, provider.PutOptions{}); err != nil {
			return err
		}

	default:
		return fmt.Errorf("syncengine: unknown protocol %q", e.cfg.Profile.Protocol)
	}

	result.Uploaded++
	result.BytesUploaded += totalBytes
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.UploadedObject(row.Account, row.Container, totalBytes)
	}

	e.applyLifecycle(ctx, row, nil)
	return e.retainLocalIfNeeded(ctx, row)
}

// applyLifecycle implements spec §6 propagate_expiration / remote_delete_after.
// remote_delete_after wins when both are configured (the documented
// behavior confirmed in DESIGN.md's Open Question resolution): it is a
// fixed policy independent of the local object's own expiry, whereas
// propagate_expiration only fires when the local object actually carries
// an X-Delete-At.
func (e *Engine) applyLifecycle(ctx context.Context, row changefeed.Row, extraSeconds *int64) {
	p := e.cfg.Profile
	remoteContainer := p.RemoteKeyPrefix(row.Container)

	if p.RemoteDeleteAfter > 0 {
		var addition int64
		if extraSeconds != nil {
			addition += *extraSeconds
		}
		switch p.Protocol {
		case cloudsync.ProtocolSwift:
			if ls, ok := e.cfg.Remote.(provider.LifecycleSetter); ok {
				expiry := cloudsync.FromLastModified(time.Now().Add(time.Duration(p.RemoteDeleteAfter+addition) * time.Second))
				if err := ls.SetObjectLifecycle(ctx, remoteContainer, row.Name, expiry); err != nil {
					e.cfg.Logger.Warn("syncengine: remote_delete_after failed", "name", row.Name, "error", err)
				}
			}
		case cloudsync.ProtocolS3:
			if bl, ok := e.cfg.Remote.(provider.BucketLifecycleSetter); ok {
				if err := bl.SetPrefixLifecycle(ctx, remoteContainer, "", p.RemoteDeleteAfter+addition); err != nil {
					e.cfg.Logger.Warn("syncengine: remote_delete_after failed", "container", remoteContainer, "error", err)
				}
			}
		}
		return
	}

	if p.PropagateExpiration && p.Protocol == cloudsync.ProtocolSwift && row.Ref.DeleteAt != nil {
		if ls, ok := e.cfg.Remote.(provider.LifecycleSetter); ok {
			expiry := cloudsync.FromLastModified(row.Ref.DeleteAt.At.Add(time.Duration(p.ExpirationOffset) * time.Second))
			if err := ls.SetObjectLifecycle(ctx, remoteContainer, row.Name, expiry); err != nil {
				e.cfg.Logger.Warn("syncengine: propagate_expiration failed", "name", row.Name, "error", err)
			}
		}
	}
}

// applySegmentLifecycle applies remote_delete_after (plus
// remote_delete_after_addition) to each SLO segment individually, as spec
// §6 requires for Swift targets ("segments get manifest_delete_after +
// remote_delete_after_addition").
func (e *Engine) applySegmentLifecycle(ctx context.Context, segContainer string, segments []cloudsync.Segment) {
	p := e.cfg.Profile
	if p.RemoteDeleteAfter <= 0 {
		return
	}
	ls, ok := e.cfg.Remote.(provider.LifecycleSetter)
	if !ok {
		return
	}
	expiry := cloudsync.FromLastModified(time.Now().Add(time.Duration(p.RemoteDeleteAfter+p.RemoteDeleteAddition) * time.Second))
	for _, seg := range segments {
		_, name, ok := cloudsync.SplitPath(seg.Path)
		if !ok {
			continue
		}
		if err := ls.SetObjectLifecycle(ctx, segContainer, name, expiry); err != nil {
			e.cfg.Logger.Warn("syncengine: segment lifecycle failed", "name", name, "error", err)
		}
	}
}

// retainLocalIfNeeded implements spec §6 retain_local/retain_local_segments:
// after a successful remote sync, delete the local copy (and, unless
// retain_local_segments is set, its manifest's segments) provided the
// local object hasn't changed since it was read for upload.
func (e *Engine) retainLocalIfNeeded(ctx context.Context, row changefeed.Row) error {
	p := e.cfg.Profile
	if p.RetainLocal {
		return nil
	}

	head, err := e.cfg.Local.HeadObject(ctx, row.Container, row.Name)
	if err != nil {
		if cloudsync.IsNotFound(err) {
			return nil
		}
		return err
	}
	if !head.Timestamp.At.Equal(row.Ref.Timestamp.At) {
		return nil // changed since upload; don't delete a newer write
	}

	var segments []cloudsync.Segment
	if !p.RetainLocalSegments {
		if mr, ok := e.cfg.Local.(provider.ManifestReader); ok {
			if m, isManifest, merr := mr.ReadManifest(ctx, row.Container, row.Name); merr == nil && isManifest {
				segments = m.Segments
			}
		}
	}

	if err := e.cfg.Local.DeleteObject(ctx, row.Container, row.Name); err != nil && !cloudsync.IsNotFound(err) {
		return err
	}
	for _, seg := range segments {
		if c, n, ok := cloudsync.SplitPath(seg.Path); ok {
			_ = e.cfg.Local.DeleteObject(ctx, c, n)
		}
	}
	return nil
}

// syncDelete implements spec §4.3 step 6: propagate_delete gates whether a
// local delete is mirrored remotely at all; a remote 404 or a remote
// object newer than the delete both count as success (spec §7).
func (e *Engine) syncDelete(ctx context.Context, row changefeed.Row, result *PassResult) error {
	if !e.cfg.Profile.PropagateDelete {
		return nil
	}
	remoteContainer := e.cfg.Profile.RemoteKeyPrefix(row.Container)
	err := e.cfg.Remote.DeleteObject(ctx, remoteContainer, row.Name)
	if err != nil {
		if cloudsync.IsNotFound(err) || cloudsync.IsConflictNewer(err) {
			return nil
		}
		return err
	}
	result.Deleted++
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.Deleted(row.Account, row.Container)
	}
	return nil
}

func (e *Engine) openLocalSegment(ctx context.Context, container, name string, _ *cloudsync.ByteRange) (io.ReadCloser, int64, error) {
	r, ref, err := e.cfg.Local.GetObject(ctx, container, name)
	if err != nil {
		return nil, 0, err
	}
	return r, ref.Size, nil
}
