package cloudsync

import "fmt"

// StatusRecord is the crash-safe per-(profile,container) checkpoint persisted
// by the status store between runs (spec §3 "Data Model" / §4.6).
type StatusRecord struct {
	Account   string
	Container string

	LastRow     int64 // highest change-feed row_id observed
	VerifiedRow int64 // highest row_id whose effect is confirmed durable remotely

	BytesCount int64 // cumulative bytes synced
	ScanCount  int64 // cumulative objects scanned (migrator)
	MovedCount int64 // cumulative objects moved/synced

	// AllBuckets records, for a wildcard profile, which remote containers
	// have already been created (spec §4.4 step 1: create-once).
	AllBuckets map[string]bool

	// Aux carries provider- or pass-specific continuation state (e.g. a
	// migrator marker token) that doesn't warrant its own field.
	Aux map[string]string
}

// NewStatusRecord returns a zero-value record for the given profile.
func NewStatusRecord(account, container string) *StatusRecord {
	return &StatusRecord{
		Account:    account,
		Container:  container,
		AllBuckets: make(map[string]bool),
		Aux:        make(map[string]string),
	}
}

// Validate enforces the record's structural invariant: verified_row can
// never be ahead of last_row, since a row can't be confirmed durable before
// it was observed (spec §3 invariants).
func (s *StatusRecord) Validate() error {
	if s.VerifiedRow > s.LastRow {
		return NewError(KindStatusCorrupt, "status.validate", s.Account+"/"+s.Container,
			fmt.Errorf("verified_row %d exceeds last_row %d", s.VerifiedRow, s.LastRow))
	}
	if s.BytesCount < 0 || s.ScanCount < 0 || s.MovedCount < 0 {
		return NewError(KindStatusCorrupt, "status.validate", s.Account+"/"+s.Container,
			fmt.Errorf("negative counters in status record"))
	}
	return nil
}

// AdvanceLastRow moves the high-water mark forward. It is a no-op if row is
// not past the current mark, keeping replays of the same change-feed
// segment idempotent.
func (s *StatusRecord) AdvanceLastRow(row int64) {
	if row > s.LastRow {
		s.LastRow = row
	}
}

// AdvanceVerifiedRow moves the durable mark forward, clamped to LastRow so
// the invariant in Validate can never be violated by a caller bug.
func (s *StatusRecord) AdvanceVerifiedRow(row int64) {
	if row > s.LastRow {
		row = s.LastRow
	}
	if row > s.VerifiedRow {
		s.VerifiedRow = row
	}
}

// Clone returns a deep copy, used by the status store so callers can mutate
// a record without racing a concurrent persist.
func (s *StatusRecord) Clone() *StatusRecord {
	out := *s
	out.AllBuckets = make(map[string]bool, len(s.AllBuckets))
	for k, v := range s.AllBuckets {
		out.AllBuckets[k] = v
	}
	out.Aux = make(map[string]string, len(s.Aux))
	for k, v := range s.Aux {
		out.Aux[k] = v
	}
	return &out
}
