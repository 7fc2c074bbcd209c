// Package statusstore persists cloudsync.StatusRecord checkpoints between
// sync/migrator passes, crash-safely: every write lands in a temp file
// that is atomically renamed over the target (spec §4.6), and a value
// that fails to parse or fails StatusRecord.Validate is quarantined rather
// than trusted, so a half-written or hand-edited file can never wedge a
// profile at a wrong row. Grounded on the teacher pack's
// internal/cache/persistent.go (*PersistentCache).saveIndex, the one file
// in the example pack that does temp-write-then-os.Rename index
// persistence; this package generalizes that one-index-file pattern to
// either a directory of per-(account,container) files (the sync daemon's
// status_dir) or a single file holding every record (the migrator's
// status_file), selected by which constructor the caller uses.
package statusstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gostratum/cloudsync/pkg/cloudsync"
	"github.com/gostratum/core/logx"
)

// Store persists StatusRecords either as one file per (account, container)
// under a base directory (spec §6 status_dir), or as a single file holding
// every record (spec §6 status_file, the migrator's layout).
type Store struct {
	logger logx.Logger

	mu sync.Mutex

	dir string // set in directory mode; "" in single-file mode

	path    string // set in single-file mode; "" in directory mode
	loaded  bool
	records map[string]*cloudsync.StatusRecord
}

// Open builds a directory-backed Store: one JSON file per (account,
// container) under dir (spec §6 status_dir, used by cmd/cloud-sync).
func Open(dir string, logger logx.Logger) (*Store, error) {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statusstore: create %s: %w", dir, err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// OpenFile builds a single-file Store: every (account, container) record
// lives in one JSON object keyed by "account/container" (spec §6
// status_file, used by cmd/cloud-migrator). Only the parent directory is
// created here; the file itself is first written by Save, and Load lazily
// reads it on first use (a missing file yields fresh records).
func OpenFile(path string, logger logx.Logger) (*Store, error) {
	if logger == nil {
		logger = logx.NewNoopLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("statusstore: create %s: %w", filepath.Dir(path), err)
	}
	return &Store{path: path, logger: logger, records: make(map[string]*cloudsync.StatusRecord)}, nil
}

func recordKey(account, container string) string {
	return account + "/" + container
}

// sanitizeFilename replaces path separators so an account/container pair
// can never escape the status directory or collide with the wildcard
// container's literal "/*" form.
func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "*", "wildcard")
	return s
}

// Load returns the persisted record for (account, container), or a fresh
// zero-value one if none exists yet. A record that fails to parse or
// fails Validate is quarantined (renamed with a ".corrupt.<unix-ts>"
// suffix) and treated as absent rather than returned as an error, so a
// single damaged checkpoint degrades to "start this profile over" instead
// of wedging the whole process (spec §4.6).
func (s *Store) Load(account, container string) (*cloudsync.StatusRecord, error) {
	if s.dir != "" {
		return s.loadFromDir(account, container)
	}
	return s.loadFromFile(account, container)
}

func (s *Store) loadFromDir(account, container string) (*cloudsync.StatusRecord, error) {
	path := s.recordPath(account, container)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cloudsync.NewStatusRecord(account, container), nil
	}
	if err != nil {
		return nil, fmt.Errorf("statusstore: read %s: %w", path, err)
	}

	rec, perr := parseRecord(data)
	if perr == nil {
		perr = rec.Validate()
	}
	if perr != nil {
		s.quarantine(path, perr)
		return cloudsync.NewStatusRecord(account, container), nil
	}
	return rec, nil
}

func (s *Store) loadFromFile(account, container string) (*cloudsync.StatusRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	if rec, ok := s.records[recordKey(account, container)]; ok {
		return rec.Clone(), nil
	}
	return cloudsync.NewStatusRecord(account, container), nil
}

// ensureLoadedLocked lazily reads the single status file into s.records.
// A file that fails to parse is quarantined wholesale: the migrator's
// status_file is one blob, so a corrupt byte anywhere invalidates every
// record it holds, the same way a corrupt per-container file would.
func (s *Store) ensureLoadedLocked() error {
	if s.loaded {
		return nil
	}
	s.loaded = true

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("statusstore: read %s: %w", s.path, err)
	}

	var all map[string]*cloudsync.StatusRecord
	perr := json.Unmarshal(data, &all)
	if perr == nil {
		for _, rec := range all {
			if perr = rec.Validate(); perr != nil {
				break
			}
		}
	}
	if perr != nil {
		s.quarantine(s.path, perr)
		return nil
	}
	s.records = all
	return nil
}

func parseRecord(data []byte) (*cloudsync.StatusRecord, error) {
	var rec cloudsync.StatusRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) quarantine(path string, cause error) {
	dest := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
	if err := os.Rename(path, dest); err != nil {
		s.logger.Warn("statusstore: failed to quarantine corrupt status file", "path", path, "error", err)
		return
	}
	s.logger.Warn("statusstore: quarantined corrupt status file", "path", path, "quarantined_as", dest, "cause", cause)
}

// Save persists rec, validating it first so a programming error never
// writes an invariant-violating checkpoint to disk.
func (s *Store) Save(rec *cloudsync.StatusRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if s.dir != "" {
		return s.saveToDir(rec)
	}
	return s.saveToFile(rec)
}

func (s *Store) saveToDir(rec *cloudsync.StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.recordPath(rec.Account, rec.Container)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("statusstore: marshal %s: %w", path, err)
	}
	return writeFileAtomic(path, data)
}

func (s *Store) saveToFile(rec *cloudsync.StatusRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(); err != nil {
		return err
	}
	if s.records == nil {
		s.records = make(map[string]*cloudsync.StatusRecord)
	}
	s.records[recordKey(rec.Account, rec.Container)] = rec.Clone()

	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("statusstore: marshal %s: %w", s.path, err)
	}
	return writeFileAtomic(s.path, data)
}

func (s *Store) recordPath(account, container string) string {
	name := sanitizeFilename(account) + "__" + sanitizeFilename(container) + ".json"
	return filepath.Join(s.dir, name)
}

// writeFileAtomic writes data to a sibling temp file and renames it over
// path, so a crash mid-write leaves the previous good value in place
// instead of a truncated one (spec §4.6).
func writeFileAtomic(path string, data []byte) error {
	tmp := path + fmt.Sprintf(".tmp.%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("statusstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("statusstore: rename %s -> %s: %w", tmp, path, err)
	}
	return nil
}
