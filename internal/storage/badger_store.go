package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"

	"github.com/devghori1264/aerophoenix/machine-bridge/internal/models"
	badger "github.com/dgraph-io/badger/v4"
)

var (
	ErrNotFound = errors.New("not found")
)

// Store interface (kept minimal, allows swapping implementations).
type Store interface {
	SaveMachine(ctx context.Context, m *models.MachineRecord) error
	GetMachine(ctx context.Context, id string) (*models.MachineRecord, error)
	ListMachines(ctx context.Context) ([]*models.MachineRecord, error)
	Close() error
}

// BadgerStore implements Store with Badger DB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens the database at path. An empty path keeps everything
// in memory.
func NewBadgerStore(path string) (Store, error) {
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

const machinePrefix = "machine:"

func machineKey(id string) []byte {
	return []byte(machinePrefix + id)
}

func (s *BadgerStore) SaveMachine(ctx context.Context, m *models.MachineRecord) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return txn.Set(machineKey(m.ID), data)
	})
}

func (s *BadgerStore) GetMachine(ctx context.Context, id string) (*models.MachineRecord, error) {
	var out models.MachineRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(machineKey(id))
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

// ListMachines returns every record in key order.
func (s *BadgerStore) ListMachines(ctx context.Context) ([]*models.MachineRecord, error) {
	var out []*models.MachineRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(machinePrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var m models.MachineRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return err
			}
			out = append(out, &m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
