// Package storage persists channels, messages, and users in BadgerDB.
// Keys are designed for ordered prefix scans; values are JSON records.
package storage

import (
	"errors"

	"github.com/dgraph-io/badger/v4"
)

// maxTxnRetries bounds optimistic-concurrency retries on conflicting
// transactions (two participants resolving the same pair, two appends
// touching the same channel record).
const maxTxnRetries = 5

// update runs fn in a read-write transaction, retrying on badger's
// serialization conflicts so callers see get-or-create semantics instead of
// spurious failures under concurrent first contact.
func update(db *badger.DB, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxTxnRetries; i++ {
		err = db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = item.Value(func(val []byte) error {
		out = append([]byte(nil), val...)
		return nil
	})
	return out, err
}
