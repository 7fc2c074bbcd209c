package changefeed

import (
	"context"
	"sort"
	"sync"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/provider"
)

// PollSource is a changefeed.Source that synthesizes rows by repeatedly
// listing a local container (or, for a wildcard profile, every container
// under the account) and diffing against what it saw last time, rather
// than reading the real change-feed table spec.md §1 places out of scope.
// It assigns RowIDs itself, in first-seen order, so cmd/cloud-sync can run
// end to end against a bare provider.Provider when no real change-feed
// backend is wired in. Generalizes internal/testutil.FakeChangeFeed's
// in-memory row slice from a test-only double into something a provider
// can actually back.
type PollSource struct {
	local provider.Provider

	mu    sync.Mutex
	state map[string]*feedState
}

type trackedEntry struct {
	container string
	name      string
	etag      string
}

type feedState struct {
	nextRowID int64
	entries   map[string]trackedEntry // keyed by container+"\x00"+name
}

// NewPollSource wraps the local provider. Call Rows on a timer (the
// Global.PollInterval) per (account, container) pair the daemon owns.
func NewPollSource(local provider.Provider) *PollSource {
	return &PollSource{local: local, state: make(map[string]*feedState)}
}

// Rows implements Source: it lists the full container (or, when container
// is empty, every container under account), compares the listing to the
// previous call's snapshot, and returns a row for every new object, every
// object whose ETag changed, and a DELETE row for every object that
// disappeared - each stamped with a RowID > afterRow assigned in the
// order discovered.
func (p *PollSource) Rows(ctx context.Context, account, container string, afterRow int64, limit int) ([]Row, error) {
	containers := []string{container}
	if container == "" {
		lister, ok := p.local.(provider.ContainerLister)
		if !ok {
			return nil, nil
		}
		names, err := lister.ListContainers(ctx)
		if err != nil {
			return nil, err
		}
		containers = names
	}

	var refs []cloudsync.ObjectRef
	for _, c := range containers {
		page, err := p.listAll(ctx, c)
		if err != nil {
			return nil, err
		}
		for i := range page {
			page[i].Container = c
		}
		refs = append(refs, page...)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	feedKey := account + "/" + container
	st, ok := p.state[feedKey]
	if !ok {
		st = &feedState{entries: make(map[string]trackedEntry)}
		p.state[feedKey] = st
	}

	seenNow := make(map[string]bool, len(refs))
	var rows []Row
	for _, ref := range refs {
		entryKey := ref.Container + "\x00" + ref.Name
		seenNow[entryKey] = true
		if prev, known := st.entries[entryKey]; known && prev.etag == ref.ETag {
			continue
		}
		st.nextRowID++
		st.entries[entryKey] = trackedEntry{container: ref.Container, name: ref.Name, etag: ref.ETag}
		rows = append(rows, Row{
			RowID: st.nextRowID, Account: account, Container: ref.Container,
			Name: ref.Name, Op: cloudsync.OpPut, Ref: ref,
		})
	}

	for entryKey, entry := range st.entries {
		if seenNow[entryKey] {
			continue
		}
		st.nextRowID++
		rows = append(rows, Row{
			RowID: st.nextRowID, Account: account, Container: entry.container,
			Name: entry.name, Op: cloudsync.OpDelete,
		})
		delete(st.entries, entryKey)
	}

	// Rows must come back in strictly increasing RowID order (the Source
	// contract); the delete pass above assigns RowIDs in map-iteration
	// (random) order, so the combined slice needs re-sorting.
	sort.Slice(rows, func(i, j int) bool { return rows[i].RowID < rows[j].RowID })

	var out []Row
	for _, r := range rows {
		if r.RowID <= afterRow {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *PollSource) listAll(ctx context.Context, container string) ([]cloudsync.ObjectRef, error) {
	var all []cloudsync.ObjectRef
	var token string
	for {
		page, err := p.local.ListObjects(ctx, container, provider.ListOptions{ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Objects...)
		if !page.IsTruncated || page.NextToken == "" {
			break
		}
		token = page.NextToken
	}
	return all, nil
}
