package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/turntabl-delinuxist/Virtual-Machine/internal/machine"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store persists build records. Kept minimal so implementations can be swapped.
type Store interface {
	SaveBuild(ctx context.Context, b *machine.Build) error
	GetBuild(ctx context.Context, id string) (*machine.Build, error)
	ListByRequestor(ctx context.Context, requestor string) ([]*machine.Build, error)
	Close() error
}

// BadgerStore implements Store with Badger DB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a database at path. An empty path opens an
// in-memory database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Clean(path))
		opts = opts.WithValueLogFileSize(1 << 20) // smaller value log for local dev
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func buildKey(id string) []byte {
	return []byte("build:" + id)
}

func (s *BadgerStore) SaveBuild(ctx context.Context, b *machine.Build) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(buildKey(b.ID), data)
	})
}

func (s *BadgerStore) GetBuild(ctx context.Context, id string) (*machine.Build, error) {
	var out machine.Build
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(buildKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &out)
		})
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ListByRequestor returns every stored build for requestor.
func (s *BadgerStore) ListByRequestor(ctx context.Context, requestor string) ([]*machine.Build, error) {
	var out []*machine.Build
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("build:")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var b machine.Build
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &b)
			}); err != nil {
				return err
			}
			if b.Requestor == requestor {
				out = append(out, &b)
			}
		}
		return nil
	})
	return out, err
}
