// Package cache implements the persistent key/value store backing the
// rapid package index cache: parsed repo master and versions entries,
// kept across process runs so a resolver that already has a fresh
// versions.gz on disk doesn't re-parse every gzip file on every search.
// Grounded on xssnick-tonutils-storage-provider's internal/db/leveldb.DB (a
// leveldb.OpenFile-backed wrapper around a handful of Put/Get/iterate
// calls), generalized from bag-state records onto arbitrary byte blobs so
// the rapid index is the only caller that needs to know what's inside
// them.
package cache

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get for a key with no stored value.
var ErrNotFound = errors.New("cache: key not found")

// Store is a leveldb-backed key/value store. It is safe for concurrent use
// (leveldb.DB itself is), but callers that need an atomic read-modify-write
// must serialize it themselves.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) the leveldb database at path.
// leveldb needs real file locking semantics an afero.Fs can't provide, so
// unlike the rest of this codebase Store talks to the real filesystem
// directly, the same choice xssnick-tonutils-storage-provider's own db
// layer makes.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// OpenMem opens an in-memory store backed by goleveldb's own memory
// storage implementation, for tests that want real leveldb semantics
// (including its iterator ordering) without touching disk.
func OpenMem() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("cache: open in-memory store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Put(key string, value []byte) error {
	if err := s.db.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("cache: put %s: %w", key, err)
	}
	return nil
}

// Get returns ErrNotFound, not a leveldb-specific error, when key is
// absent, so callers never need to import leveldb just to check for it.
func (s *Store) Get(key string) ([]byte, error) {
	v, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Has(key string) (bool, error) {
	ok, err := s.db.Has([]byte(key), nil)
	if err != nil {
		return false, fmt.Errorf("cache: has %s: %w", key, err)
	}
	return ok, nil
}

func (s *Store) Delete(key string) error {
	if err := s.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

// ListByPrefix returns every key/value pair whose key starts with prefix.
func (s *Store) ListByPrefix(prefix string) (map[string][]byte, error) {
	it := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer it.Release()

	out := make(map[string][]byte)
	for it.Next() {
		v := make([]byte, len(it.Value()))
		copy(v, it.Value())
		out[string(it.Key())] = v
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("cache: iterate prefix %s: %w", prefix, err)
	}
	return out, nil
}
