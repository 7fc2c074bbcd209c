// Package changefeed defines the contract the sync engine polls for new
// object changes: an ordered, resumable stream of rows keyed by a
// monotonically increasing row_id (spec §4.3). The local cluster's actual
// change feed (a database table in production) is abstracted behind this
// interface so the engine itself never depends on a specific storage
// backend; internal/testutil provides an in-memory double for tests.
package changefeed

import (
	"context"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
)

// Row is one change-feed entry: an object mutation the sync engine must
// react to.
type Row struct {
	RowID     int64
	Account   string
	Container string
	Name      string
	Op        cloudsync.ChangeOp
	Ref       cloudsync.ObjectRef // populated for PUT/POST; zero for DELETE
}

// Source is the change-feed read contract. Implementations must return
// rows in strictly increasing RowID order and must be safe to resume from
// any previously-returned RowID (spec §4.3 "resume from last_row").
type Source interface {
	// Rows returns up to limit rows with RowID > afterRow, for the given
	// account/container (or "" for every container under account).
	Rows(ctx context.Context, account, container string, afterRow int64, limit int) ([]Row, error)
}
