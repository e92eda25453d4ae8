// SPDX-License-Identifier: MIT

package hash

import (
	"encoding/json"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Cache memoizes file digests in an embedded badger store so re-runs skip
// re-hashing landing files that have not changed. An entry is trusted only
// when size and mtime still match; a cold or absent cache is semantically
// identical to no cache.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

type cacheEntry struct {
	Digest  string `json:"digest"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime_unix_nano"`
}

// OpenCache opens (or creates) the digest cache at dir. Entries expire after
// ttl so the store cannot grow without bound.
func OpenCache(dir string, ttl time.Duration) (*Cache, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &HashError{Op: "open cache", Path: dir, Err: err}
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Lookup returns the cached digest for path when size and mtime still match.
func (c *Cache) Lookup(path string, size int64, modTime time.Time) (Digest, bool) {
	if c == nil || c.db == nil {
		return Digest{}, false
	}
	var entry cacheEntry
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	if err != nil {
		return Digest{}, false
	}
	if entry.Size != size || entry.ModTime != modTime.UnixNano() {
		return Digest{}, false
	}
	d, err := ParseHex(entry.Digest)
	if err != nil {
		return Digest{}, false
	}
	return d, true
}

// Store records the digest for path keyed by its current size and mtime.
// Cache write failures are swallowed: the cache is an optimization, never a
// source of truth.
func (c *Cache) Store(path string, size int64, modTime time.Time, d Digest) {
	if c == nil || c.db == nil {
		return
	}
	val, err := json.Marshal(cacheEntry{Digest: d.Hex(), Size: size, ModTime: modTime.UnixNano()})
	if err != nil {
		return
	}
	_ = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(path), val)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// FileCached digests path, consulting the cache first. The stat parameters
// come from the caller's FileRecord so the file is stat'ed exactly once.
func (c *Cache) FileCached(path string, size int64, modTime time.Time) (Digest, error) {
	if d, ok := c.Lookup(path, size, modTime); ok {
		return d, nil
	}
	d, err := File(path)
	if err != nil {
		var herr *HashError
		if errors.As(err, &herr) {
			return d, err
		}
		return d, &HashError{Op: "digest", Path: path, Err: err}
	}
	c.Store(path, size, modTime, d)
	return d, nil
}
