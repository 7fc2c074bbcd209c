// Package migrator implements the inverse pipeline to pkg/syncengine: it
// periodically lists a remote bucket, pulls new or changed objects into the
// local Swift-shaped cluster, and prunes local objects the remote no longer
// has (spec §4.4). There is no teacher precedent for a remote-to-local
// reconciliation crawler, so the per-pass algorithm is built directly from
// spec §4.4's numbered steps; the operations it drives (provider calls,
// large-object translation, retry, ring partitioning, status persistence)
// all reuse the packages already grounded for pkg/syncengine.
package migrator

import (
	"context"
	"fmt"
	"io"

	"github.com/gostratum/core/logx"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/largeobject"
	"github.com/gostratum/cloudsync/pkg/metrics"
	"github.com/gostratum/cloudsync/pkg/provider"
	"github.com/gostratum/cloudsync/pkg/retrypolicy"
	"github.com/gostratum/cloudsync/pkg/ring"
	"github.com/gostratum/cloudsync/pkg/statusstore"
)

const (
	// metaMigratedFrom/metaMigratedSeen are the bare (X-Object-Meta-
	// prefix stripped) metadata keys spec §6 "Internal tags" names as
	// X-Object-Meta-Cloud-Sync / X-Object-Meta-Source-X-Timestamp.
	metaMigratedFrom = "Cloud-Sync"
	metaMigratedSeen = "Source-X-Timestamp"
)

// defaultLocalObjectSizeLimit is the classic Swift single-object ceiling;
// above it an MPU is restored as an SLO rather than re-assembled into one
// PUT (spec §4.4 step 2 "restored as SLOs only if they exceed the local
// object size limit"). Config.LocalObjectSizeLimit (migrator_settings
// local_object_size_limit) sets the threshold; when it is unset,
// Profile.MinSegmentSize is used when set, falling back to this constant
// otherwise (decision recorded in DESIGN.md).
const defaultLocalObjectSizeLimit = 5 * 1024 * 1024 * 1024

// Config wires one migration's Migrator. Remote is the source of truth;
// Local is the Swift-shaped destination cluster.
type Config struct {
	Profile cloudsync.Profile
	Local   provider.Provider
	Remote  provider.Provider
	Status  *statusstore.Store
	Metrics *metrics.Recorder
	Retry   *retrypolicy.Policy
	Logger  logx.Logger

	// Conditions filters which remote entries are eligible for migration
	// (spec §6 migrator_settings.metadata_conditions). The zero value
	// matches everything.
	Conditions Condition

	Ring  *ring.Ring
	Shard int

	ItemsChunk           int
	LocalObjectSizeLimit int64
}

// Migrator runs reconciliation passes for one migration binding.
type Migrator struct {
	cfg        Config
	translator *largeobject.Translator
	sizeLimit  int64
}

// New validates cfg and builds a Migrator.
func New(cfg Config) (*Migrator, error) {
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.Local == nil || cfg.Remote == nil || cfg.Status == nil {
		return nil, fmt.Errorf("migrator: local, remote and status are all required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logx.NewNoopLogger()
	}
	if cfg.Retry == nil {
		cfg.Retry = retrypolicy.New(retrypolicy.DefaultConfig(), nil)
	}
	if cfg.ItemsChunk <= 0 {
		cfg.ItemsChunk = 1000
	}

	sizeLimit := cfg.LocalObjectSizeLimit
	if sizeLimit <= 0 {
		sizeLimit = cfg.Profile.MinSegmentSize
	}
	if sizeLimit <= 0 {
		sizeLimit = defaultLocalObjectSizeLimit
	}

	m := &Migrator{cfg: cfg, sizeLimit: sizeLimit}
	m.translator = largeobject.NewTranslator(cfg.Profile.MinSegmentSize, m.openRemoteSegment)
	return m, nil
}

// PassResult summarizes one RunPass call.
type PassResult struct {
	Scanned   int64
	Migrated  int64
	Bytes     int64
	Conflicts int64
	Pruned    int64
	Errors    map[cloudsync.ErrorKind]int64
}

// RunPass lists every container this process owns for the migration's
// profile, reconciles each one, and persists the updated StatusRecord.
func (m *Migrator) RunPass(ctx context.Context) (PassResult, error) {
	result := PassResult{Errors: make(map[cloudsync.ErrorKind]int64)}

	containers, err := m.containersToVisit(ctx)
	if err != nil {
		return result, err
	}

	for _, container := range containers {
		if err := m.runContainer(ctx, container, &result); err != nil {
			return result, err
		}
	}
	return result, nil
}

func (m *Migrator) containersToVisit(ctx context.Context) ([]string, error) {
	if !m.cfg.Profile.IsWildcard() {
		return []string{m.cfg.Profile.Container}, nil
	}

	lister, ok := m.cfg.Remote.(provider.ContainerLister)
	if !ok {
		return nil, fmt.Errorf("migrator: wildcard profile requires a ContainerLister remote")
	}
	all, err := lister.ListContainers(ctx)
	if err != nil {
		return nil, err
	}

	var owned []string
	for _, c := range all {
		if m.cfg.Ring == nil || m.cfg.Ring.Owns(m.cfg.Shard, c) {
			owned = append(owned, c)
		}
	}
	return owned, nil
}

// runContainer reconciles one remote container against its local
// counterpart: lazy creation, the listing/reconcile walk, and the
// two-pass-tolerant prune sweep (spec §4.4 steps 1-3).
func (m *Migrator) runContainer(ctx context.Context, container string, result *PassResult) error {
	rec, err := m.cfg.Status.Load(m.cfg.Profile.Account, container)
	if err != nil {
		return err
	}

	if err := m.ensureContainer(ctx, container, rec); err != nil {
		return err
	}

	seen := make(map[string]bool)
	token := ""
	for {
		page, err := m.cfg.Remote.ListObjects(ctx, container, provider.ListOptions{
			PageSize:          int32(m.cfg.ItemsChunk),
			ContinuationToken: token,
		})
		if err != nil {
			return err
		}

		for _, entry := range page.Objects {
			seen[entry.Name] = true
			m.reconcileEntry(ctx, container, entry, result)
		}

		if !page.IsTruncated || page.NextToken == "" {
			break
		}
		token = page.NextToken
	}

	m.prune(ctx, container, seen, rec, result)

	return m.cfg.Status.Save(rec)
}

// ensureContainer lazily creates the local container on first touch,
// tracked by StatusRecord.AllBuckets so the (idempotent) PutContainer call
// isn't repeated every pass, then re-propagates ACL/metadata every pass
// regardless (spec §4.4 "Container creation": "subsequent container
// metadata changes are re-propagated on each pass").
func (m *Migrator) ensureContainer(ctx context.Context, container string, rec *cloudsync.StatusRecord) error {
	if !rec.AllBuckets[container] {
		if err := m.cfg.Local.PutContainer(ctx, container); err != nil {
			return err
		}
		rec.AllBuckets[container] = true
	}
	return m.propagateContainerState(ctx, container)
}

// propagateContainerState mirrors the remote container's metadata (and, if
// configured, its ACL) onto the local one, when both providers support the
// capability (spec §6 sync_container_acl/sync_container_metadata, Swift
// only).
func (m *Migrator) propagateContainerState(ctx context.Context, container string) error {
	if m.cfg.Profile.SyncContainerMetadata {
		if metaGetter, ok := m.cfg.Remote.(provider.ContainerMetadataGetter); ok {
			if setter, ok := m.cfg.Local.(provider.ContainerMetadataSetter); ok {
				metadata, err := metaGetter.GetContainerMetadata(ctx, container)
				if err != nil {
					return err
				}
				if err := setter.SetContainerMetadata(ctx, container, metadata); err != nil {
					return err
				}
			}
		}
	}
	if m.cfg.Profile.SyncContainerACL {
		if aclGetter, ok := m.cfg.Remote.(provider.ContainerACLGetter); ok {
			if setter, ok := m.cfg.Local.(provider.ContainerACLSetter); ok {
				acl, err := aclGetter.GetContainerACL(ctx, container)
				if err != nil {
					return err
				}
				if err := setter.SetContainerACL(ctx, container, acl); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (m *Migrator) reconcileEntry(ctx context.Context, container string, entry cloudsync.ObjectRef, result *PassResult) {
	result.Scanned++
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.ScannedObject(m.cfg.Profile.Account, container)
	}

	if !m.cfg.Conditions.Evaluate(entry.Metadata) {
		return
	}

	local, err := m.cfg.Local.HeadObject(ctx, container, entry.Name)
	switch {
	case err == nil:
		if !local.Timestamp.At.Before(entry.Timestamp.At) {
			return // local already at least as new as remote
		}
		if !m.migratedByUs(local, container) {
			result.Conflicts++
			if m.cfg.Metrics != nil {
				m.cfg.Metrics.Conflict(m.cfg.Profile.Account, container)
			}
			m.cfg.Logger.Warn("migrator: local object mutated out of band, skipping overwrite",
				"container", container, "name", entry.Name)
			return
		}
	case cloudsync.IsNotFound(err):
		// first migration of this object
	default:
		m.recordError(container, entry.Name, err, result)
		return
	}

	opErr := m.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		return m.migrateOne(ctx, container, entry, result)
	})
	if opErr != nil {
		m.recordError(container, entry.Name, opErr, result)
	}
}

// migratedByUs reports whether local carries this migration's tag and its
// last-seen timestamp still matches the object's own current timestamp,
// meaning no user write has touched it since (spec §4.4 "no migration tag,
// or tag-timestamp differs from last-seen: do not overwrite").
func (m *Migrator) migratedByUs(local cloudsync.ObjectRef, container string) bool {
	from, ok := local.Metadata[metaMigratedFrom]
	if !ok || from != m.cfg.Profile.Key()+"/"+container {
		return false
	}
	seen, ok := local.Metadata[metaMigratedSeen]
	return ok && seen == local.Timestamp.String()
}

func (m *Migrator) migrateOne(ctx context.Context, container string, entry cloudsync.ObjectRef, result *PassResult) error {
	if mr, ok := m.cfg.Remote.(provider.ManifestReader); ok {
		manifest, isManifest, err := mr.ReadManifest(ctx, container, entry.Name)
		if err != nil {
			return err
		}
		if isManifest && manifest.Kind == cloudsync.ManifestMPU && entry.Size > m.sizeLimit {
			return m.migrateMPUAsSLO(ctx, container, entry, parts(manifest), result)
		}
	}
	return m.migrateStream(ctx, container, entry, result)
}

func parts(m cloudsync.Manifest) []cloudsync.Part { return m.Parts }

func (m *Migrator) migrateStream(ctx context.Context, container string, entry cloudsync.ObjectRef, result *PassResult) error {
	body, ref, err := m.cfg.Remote.GetObject(ctx, container, entry.Name)
	if err != nil {
		return err
	}
	defer body.Close()

	ts := ref.Timestamp
	metadata := taggedMetadata(ref.Metadata, m.cfg.Profile.Key()+"/"+container, ts)

	uploaded, err := m.cfg.Local.PutObject(ctx, container, entry.Name, body, ref.Size, provider.PutOptions{
		ContentType: ref.ContentType,
		Metadata:    metadata,
		Timestamp:   &ts,
	})
	if err != nil {
		return err
	}

	result.Migrated++
	result.Bytes += uploaded.Size
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.UploadedObject(m.cfg.Profile.Account, container, uploaded.Size)
	}
	return nil
}

// migrateMPUAsSLO restores a large S3 multipart object as a Swift SLO,
// preserving the original part boundaries instead of re-chunking the
// stream (spec §4.4 step 2).
func (m *Migrator) migrateMPUAsSLO(ctx context.Context, container string, entry cloudsync.ObjectRef, srcParts []cloudsync.Part, result *PassResult) error {
	pl, ok := m.cfg.Remote.(provider.PartLister)
	if !ok {
		return m.migrateStream(ctx, container, entry, result)
	}
	remoteParts, err := pl.ListParts(ctx, container, entry.Name)
	if err != nil {
		return err
	}
	if len(remoteParts) == 0 {
		remoteParts = srcParts
	}

	segContainer := container
	if namer, ok := m.cfg.Local.(provider.SegmentContainerNamer); ok {
		segContainer = namer.SegmentContainer(container)
	}
	segments, err := m.translator.MPUToSLO(ctx, m.cfg.Local, segContainer, entry.Name, remoteParts, m.openRemoteSegment, container, entry.Name)
	if err != nil {
		return err
	}

	ts := entry.Timestamp
	metadata := taggedMetadata(entry.Metadata, m.cfg.Profile.Key()+"/"+container, ts)
	if _, err := m.cfg.Local.UploadManifest(ctx, container, entry.Name,
		cloudsync.Manifest{Kind: cloudsync.ManifestSLO, Segments: segments}, provider.PutOptions{
			ContentType: entry.ContentType,
			Metadata:    metadata,
			Timestamp:   &ts,
		}); err != nil {
		return err
	}

	result.Migrated++
	result.Bytes += entry.Size
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.UploadedObject(m.cfg.Profile.Account, container, entry.Size)
	}
	return nil
}

func taggedMetadata(src map[string]string, migratedFrom string, seen cloudsync.Timestamp) map[string]string {
	out := make(map[string]string, len(src)+2)
	for k, v := range src {
		out[k] = v
	}
	out[metaMigratedFrom] = migratedFrom
	out[metaMigratedSeen] = seen.String()
	return out
}

// prune removes local objects this migration previously created that the
// remote no longer has. To tolerate a remote listing that transiently
// missed an object, a name only becomes eligible for deletion once it was
// seen absent on two consecutive passes (tracked via StatusRecord.Aux);
// since each pass walks its remote listing to full completion rather than
// resuming a partial one, there's no paginated-marker misalignment left to
// reconcile beyond that two-pass confirmation (spec §4.4 step 3).
func (m *Migrator) prune(ctx context.Context, container string, seenThisPass map[string]bool, rec *cloudsync.StatusRecord, result *PassResult) {
	token := ""
	tag := m.cfg.Profile.Key() + "/" + container
	for {
		page, err := m.cfg.Local.ListObjects(ctx, container, provider.ListOptions{
			PageSize:          int32(m.cfg.ItemsChunk),
			ContinuationToken: token,
		})
		if err != nil {
			m.cfg.Logger.Warn("migrator: prune listing failed", "container", container, "error", err)
			return
		}

		for _, local := range page.Objects {
			if local.Metadata[metaMigratedFrom] != tag {
				continue // not ours to prune
			}
			auxKey := "absent:" + local.Name
			if seenThisPass[local.Name] {
				delete(rec.Aux, auxKey)
				continue
			}
			if rec.Aux[auxKey] == "1" {
				if err := m.cfg.Local.DeleteObject(ctx, container, local.Name); err != nil && !cloudsync.IsNotFound(err) {
					m.cfg.Logger.Warn("migrator: prune delete failed", "container", container, "name", local.Name, "error", err)
					continue
				}
				delete(rec.Aux, auxKey)
				result.Pruned++
				if m.cfg.Metrics != nil {
					m.cfg.Metrics.Pruned(m.cfg.Profile.Account, container)
				}
				continue
			}
			rec.Aux[auxKey] = "1"
		}

		if !page.IsTruncated || page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
}

func (m *Migrator) recordError(container, name string, err error, result *PassResult) {
	kind := cloudsync.KindOf(err)
	result.Errors[kind]++
	if m.cfg.Metrics != nil {
		m.cfg.Metrics.Error(m.cfg.Profile.Account, container, kind)
	}
	m.cfg.Logger.Error("migrator: entry failed", "account", m.cfg.Profile.Account,
		"container", container, "name", name, "kind", kind, "error", err)
}

func (m *Migrator) openRemoteSegment(ctx context.Context, container, name string, _ *cloudsync.ByteRange) (io.ReadCloser, int64, error) {
	r, ref, err := m.cfg.Remote.GetObject(ctx, container, name)
	if err != nil {
		return nil, 0, err
	}
	return r, ref.Size, nil
}
