// Miniflare-TRE - local development harness for the Cloudflare Workers runtime
// Copyright 2026 Miniflare-TRE contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cloudflare/miniflare-tre

package storage

import (
	"context"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// badgerValue is what's actually stored under a key: the raw bytes plus
// attributes, so a single txn.Get round-trips both (badger itself has no
// side-channel metadata slot usable across all SDK versions).
type badgerValue struct {
	Value []byte     `json:"value"`
	Attrs Attributes `json:"attrs"`
}

// BadgerStore is the SPEC_FULL-supplemented persistence variant (the
// `badger:` scheme) for namespaces wanting LSM-backed durability with
// efficient prefix scans — grounded on the teacher's
// internal/auth/session_badger.go txn.Set/txn.Get pattern, generalized
// from a fixed session-key scheme to an arbitrary namespace-scoped
// key/value/attributes store.
type BadgerStore struct {
	db        *badger.DB
	namespace string
}

// OpenBadgerStore opens (creating if needed) the badger database at dir,
// scoped to namespace via a key prefix.
func OpenBadgerStore(dir, namespace string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db, namespace: namespace}, nil
}

func (b *BadgerStore) prefixedKey(key string) []byte {
	return []byte(b.namespace + "\x00" + key)
}

func (b *BadgerStore) Get(_ context.Context, key string) ([]byte, Attributes, bool, error) {
	var stored badgerValue
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.prefixedKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, Attributes{}, false, nil
	}
	if err != nil {
		return nil, Attributes{}, false, err
	}
	return stored.Value, stored.Attrs, true, nil
}

func (b *BadgerStore) Put(_ context.Context, key string, value []byte, attrs Attributes) error {
	raw, err := json.Marshal(badgerValue{Value: value, Attrs: attrs})
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.prefixedKey(key), raw)
	})
}

func (b *BadgerStore) Delete(_ context.Context, key string) (bool, error) {
	existed := false
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(b.prefixedKey(key)); err == nil {
			existed = true
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if !existed {
			return nil
		}
		return txn.Delete(b.prefixedKey(key))
	})
	return existed, err
}

func (b *BadgerStore) List(_ context.Context, prefix, cursor string, limit int) (ListResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	nsPrefix := []byte(b.namespace + "\x00" + prefix)
	var keys []string
	attrsByKey := make(map[string]Attributes)

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = nsPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		nsLen := len(b.namespace) + 1
		for it.Seek(nsPrefix); it.ValidForPrefix(nsPrefix); it.Next() {
			item := it.Item()
			fullKey := string(item.Key())
			userKey := fullKey[nsLen:]
			if cursor != "" && userKey <= cursor {
				continue
			}

			var stored badgerValue
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			}); err != nil {
				return err
			}

			keys = append(keys, userKey)
			attrsByKey[userKey] = stored.Attrs
		}
		return nil
	})
	if err != nil {
		return ListResult{}, err
	}

	sort.Strings(keys)

	result := ListResult{Complete: true}
	if len(keys) > limit {
		keys = keys[:limit]
		result.Complete = false
	}
	for _, k := range keys {
		result.Keys = append(result.Keys, ListEntry{Key: k, Attributes: attrsByKey[k]})
	}
	if !result.Complete && len(result.Keys) > 0 {
		result.Cursor = result.Keys[len(result.Keys)-1].Key
	}

	return result, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
