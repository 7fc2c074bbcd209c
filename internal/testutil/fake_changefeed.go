package testutil

import (
	"context"
	"sync"

	"github.com/gostratum/cloudsync/internal/changefeed"
)

// FakeChangeFeed is an in-memory changefeed.Source backed by a slice of
// rows appended by tests, generalizing the teacher's in-memory fakes to
// the resumable row_id cursor contract pkg/syncengine drives against.
type FakeChangeFeed struct {
	mu   sync.Mutex
	rows []changefeed.Row
}

// NewFakeChangeFeed creates an empty feed.
func NewFakeChangeFeed() *FakeChangeFeed {
	return &FakeChangeFeed{}
}

// Append adds rows to the feed, auto-assigning RowID in append order
// starting at 1 if the caller left RowID unset (zero).
func (f *FakeChangeFeed) Append(rows ...changefeed.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		if r.RowID == 0 {
			r.RowID = int64(len(f.rows) + 1)
		}
		f.rows = append(f.rows, r)
	}
}

// Rows implements changefeed.Source.
func (f *FakeChangeFeed) Rows(ctx context.Context, account, container string, afterRow int64, limit int) ([]changefeed.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []changefeed.Row
	for _, r := range f.rows {
		if r.RowID <= afterRow {
			continue
		}
		if r.Account != account || (container != "" && r.Container != container) {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
