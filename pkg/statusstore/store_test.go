package statusstore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/cloudsync/pkg/statusstore"
	"github.com/gostratum/core/logx"
)

func TestStore_Dir_LoadMissingReturnsFresh(t *testing.T) {
	s, err := statusstore.Open(t.TempDir(), logx.NewNoopLogger())
	require.NoError(t, err)

	rec, err := s.Load("acct", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.LastRow)
	assert.Equal(t, int64(0), rec.VerifiedRow)
}

func TestStore_Dir_SaveThenLoadRoundTrips(t *testing.T) {
	s, err := statusstore.Open(t.TempDir(), logx.NewNoopLogger())
	require.NoError(t, err)

	rec := cloudsync.NewStatusRecord("acct", "c1")
	rec.AdvanceLastRow(42)
	rec.AdvanceVerifiedRow(40)
	rec.BytesCount = 1024
	require.NoError(t, s.Save(rec))

	got, err := s.Load("acct", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.LastRow)
	assert.Equal(t, int64(40), got.VerifiedRow)
	assert.Equal(t, int64(1024), got.BytesCount)
}

func TestStore_Dir_WildcardContainerDoesNotEscapeDir(t *testing.T) {
	dir := t.TempDir()
	s, err := statusstore.Open(dir, logx.NewNoopLogger())
	require.NoError(t, err)

	rec := cloudsync.NewStatusRecord("acct", cloudsync.Wildcard)
	require.NoError(t, s.Save(rec))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
}

func TestStore_Dir_CorruptValueIsQuarantinedAndTreatedAsAbsent(t *testing.T) {
	dir := t.TempDir()
	s, err := statusstore.Open(dir, logx.NewNoopLogger())
	require.NoError(t, err)

	rec := cloudsync.NewStatusRecord("acct", "c1")
	require.NoError(t, s.Save(rec))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	path := filepath.Join(dir, entries[0].Name())
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	got, err := s.Load("acct", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.LastRow)

	entries, err = os.ReadDir(dir)
	require.NoError(t, err)
	var sawQuarantined bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			sawQuarantined = true
		}
	}
	assert.True(t, sawQuarantined, "expected a .corrupt.<ts> file alongside the quarantined original")
}

func TestStore_Dir_VerifiedRowNeverExceedsLastRow(t *testing.T) {
	s, err := statusstore.Open(t.TempDir(), logx.NewNoopLogger())
	require.NoError(t, err)

	rec := cloudsync.NewStatusRecord("acct", "c1")
	rec.AdvanceLastRow(10)
	rec.AdvanceVerifiedRow(999) // clamped to LastRow by StatusRecord itself
	assert.Equal(t, int64(10), rec.VerifiedRow)
	require.NoError(t, s.Save(rec))
}

func TestStore_File_SaveThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrator-status.json")
	s, err := statusstore.OpenFile(path, logx.NewNoopLogger())
	require.NoError(t, err)

	rec1 := cloudsync.NewStatusRecord("acct", "c1")
	rec1.AdvanceLastRow(5)
	rec2 := cloudsync.NewStatusRecord("acct", "c2")
	rec2.AdvanceLastRow(9)
	require.NoError(t, s.Save(rec1))
	require.NoError(t, s.Save(rec2))

	got1, err := s.Load("acct", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got1.LastRow)

	got2, err := s.Load("acct", "c2")
	require.NoError(t, err)
	assert.Equal(t, int64(9), got2.LastRow)

	// A fresh Store instance must be able to read back what was persisted.
	reopened, err := statusstore.OpenFile(path, logx.NewNoopLogger())
	require.NoError(t, err)
	got1Again, err := reopened.Load("acct", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got1Again.LastRow)
}

func TestStore_File_MissingReturnsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrator-status.json")
	s, err := statusstore.OpenFile(path, logx.NewNoopLogger())
	require.NoError(t, err)

	rec, err := s.Load("acct", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.LastRow)
}
