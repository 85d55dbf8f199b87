// Package store implements the Document Store component: it owns the
// CRDT document, serves field-level reads and writes over the
// document's `values` sub-map, applies remote merges, and persists to
// disk after every mutation.
package store

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/criticalstack/swimkv/internal/crdt"
	"github.com/criticalstack/swimkv/pkg/log"
)

// snapshotFile is the name of the persisted document within data-dir,
// per spec.md §6.
const snapshotFile = "automerge.dat"

// Store owns a single CRDT document and its on-disk persistence.
// All mutating and reading operations take the same exclusive lock,
// held for the minimum span required (spec.md §4.3).
type Store struct {
	mu       sync.Mutex
	doc      *crdt.Doc
	dataDir  string
}

// Load tries to read <data_dir>/automerge.dat. On success it loads the
// document; on read or parse failure it logs the error and falls back
// to a freshly initialized document whose actor id is derived from
// the peer identity's address, matching the teacher's "log and
// continue with a sane default" idiom (e.g. pkg/manager/manager.go's
// restoreFromSnapshot).
func Load(dataDir, actorID string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cannot create data-dir: %#v", dataDir)
	}
	path := filepath.Join(dataDir, snapshotFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Error("cannot read persisted document, starting fresh", zap.String("path", path), zap.Error(err))
		}
		return &Store{doc: crdt.New(actorID), dataDir: dataDir}, nil
	}
	doc, err := crdt.Load(data)
	if err != nil {
		log.Error("cannot parse persisted document, starting fresh", zap.String("path", path), zap.Error(err))
		return &Store{doc: crdt.New(actorID), dataDir: dataDir}, nil
	}
	log.Info("loaded document from disk", zap.String("path", path))
	return &Store{doc: doc, dataDir: dataDir}, nil
}

// GetField looks up values[name]. A missing key returns ("", false).
func (s *Store) GetField(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Get(name)
}

// SetField writes values[name]=value and persists the full snapshot.
// A persistence failure is logged and does not roll back the
// in-memory write, nor is it returned to the caller: the caller has
// already accepted the write, and the next successful gossip round (or
// persistence attempt) will converge the on-disk state.
func (s *Store) SetField(name, value string) {
	s.mu.Lock()
	s.doc.Put(name, value)
	data := s.doc.Save()
	s.mu.Unlock()

	s.persist(data)
}

// Snapshot returns a self-describing serialization of the current
// document, for use as a FullSync broadcast payload.
func (s *Store) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Save()
}

// Merge parses remoteSnapshot and merges it into the local document.
// A parse failure is logged and the call is a no-op. A successful
// merge is always persisted, even when it changed nothing locally —
// persistence here is at-most-once per call, not deduplicated against
// no-op merges (spec.md §4.3).
func (s *Store) Merge(remoteSnapshot []byte) {
	remote, err := crdt.Load(remoteSnapshot)
	if err != nil {
		log.Error("cannot parse remote snapshot, dropping merge", zap.Error(err))
		return
	}

	s.mu.Lock()
	changed := s.doc.Merge(remote)
	data := s.doc.Save()
	s.mu.Unlock()

	log.Debug("merged remote snapshot", zap.Int("changed-keys", changed))
	s.persist(data)
}

// persist truncates and rewrites automerge.dat with data. Failures are
// logged and never propagated (spec.md §7's Persistence row).
func (s *Store) persist(data []byte) {
	path := filepath.Join(s.dataDir, snapshotFile)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		log.Error("cannot open document file for persistence", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		log.Error("cannot write document to disk", zap.String("path", path), zap.Error(err))
	}
}
