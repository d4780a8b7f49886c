package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
)

const assetPrefix = "asset/"

// BadgerIndex stores asset records as JSON values in an embedded Badger
// database. It is the default index: no external service, one directory on
// disk.
type BadgerIndex struct {
	db *badger.DB
}

// NewBadgerIndex opens (or creates) the database at path.
func NewBadgerIndex(path string) (*BadgerIndex, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open index at %q: %w", path, err)
	}
	return &BadgerIndex{db: db}, nil
}

// Put stores or replaces the record for a.ID.
func (b *BadgerIndex) Put(ctx context.Context, a Asset) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode asset %q: %w", a.ID, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(assetKey(a.ID), data)
	})
	if err != nil {
		return fmt.Errorf("store asset %q: %w", a.ID, err)
	}
	return nil
}

// Get returns the record for id, or ErrNotFound.
func (b *BadgerIndex) Get(ctx context.Context, id string) (Asset, error) {
	var a Asset
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(assetKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &a)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Asset{}, ErrNotFound
	}
	if err != nil {
		return Asset{}, fmt.Errorf("read asset %q: %w", id, err)
	}
	return a, nil
}

// Delete removes the record for id. Absent records are a no-op.
func (b *BadgerIndex) Delete(ctx context.Context, id string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(assetKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete asset %q: %w", id, err)
	}
	return nil
}

// List returns all records, newest first.
func (b *BadgerIndex) List(ctx context.Context) ([]Asset, error) {
	var assets []Asset
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(assetPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var a Asset
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &a)
			}); err != nil {
				return err
			}
			assets = append(assets, a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	sort.Slice(assets, func(i, j int) bool {
		return assets[i].UploadedAt.After(assets[j].UploadedAt)
	})
	return assets, nil
}

// Close flushes and closes the database.
func (b *BadgerIndex) Close() error {
	return b.db.Close()
}

func assetKey(id string) []byte {
	return []byte(assetPrefix + id)
}
