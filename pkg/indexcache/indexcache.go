// Package indexcache persists per-file seek tables so slow full-scan
// indexing (Ogg page walks, AVI idx1 parses) runs once per file.
package indexcache

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	tablesBucket = []byte("tables")
	accessBucket = []byte("access")
)

// FileID identifies one file version. A changed size or mtime makes a
// new identity, orphaning the stale table until pruned.
type FileID struct {
	Path    string
	Size    int64
	ModTime int64
}

func (id FileID) key() []byte {
	return []byte(fmt.Sprintf("%s|%d|%d", id.Path, id.Size, id.ModTime))
}

// Entry is one time-to-offset sample point.
type Entry struct {
	TimeUs int64
	Offset int64
}

const entrySize = 16

// Cache is a bolt-backed store of seek tables.
type Cache struct {
	db *bolt.DB
}

// Open opens or creates the cache database at path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(tablesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(accessBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Save stores the seek table for id, replacing any previous one. The
// entries are packed as fixed-width big-endian records to keep loads
// allocation-cheap.
func (c *Cache) Save(id FileID, entries []Entry) error {
	value := make([]byte, len(entries)*entrySize)
	for i, entry := range entries {
		binary.BigEndian.PutUint64(value[i*entrySize:], uint64(entry.TimeUs))
		binary.BigEndian.PutUint64(value[i*entrySize+8:], uint64(entry.Offset))
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(tablesBucket).Put(id.key(), value); err != nil {
			return err
		}
		return touchLocked(tx, id.key())
	})
}

// Load returns the stored seek table for id, or nil when absent.
func (c *Cache) Load(id FileID) ([]Entry, error) {
	var entries []Entry

	err := c.db.Update(func(tx *bolt.Tx) error {
		value := tx.Bucket(tablesBucket).Get(id.key())
		if value == nil {
			return nil
		}
		if len(value)%entrySize != 0 {
			// A torn record; treat as a miss and drop it.
			return tx.Bucket(tablesBucket).Delete(id.key())
		}

		entries = make([]Entry, len(value)/entrySize)
		for i := range entries {
			entries[i] = Entry{
				TimeUs: int64(binary.BigEndian.Uint64(value[i*entrySize:])),
				Offset: int64(binary.BigEndian.Uint64(value[i*entrySize+8:])),
			}
		}
		return touchLocked(tx, id.key())
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete removes the seek table for id.
func (c *Cache) Delete(id FileID) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(tablesBucket).Delete(id.key()); err != nil {
			return err
		}
		return tx.Bucket(accessBucket).Delete(id.key())
	})
}

// Prune evicts least-recently-used tables until at most maxTables
// remain.
func (c *Cache) Prune(maxTables int) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		tables := tx.Bucket(tablesBucket)
		access := tx.Bucket(accessBucket)

		type aged struct {
			key      []byte
			accessed uint64
		}
		var all []aged

		cursor := tables.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			key := make([]byte, len(k))
			copy(key, k)

			var accessed uint64
			if raw := access.Get(k); len(raw) == 8 {
				accessed = binary.BigEndian.Uint64(raw)
			}
			all = append(all, aged{key: key, accessed: accessed})
		}

		for len(all) > maxTables {
			oldest := 0
			for i, entry := range all {
				if entry.accessed < all[oldest].accessed {
					oldest = i
				}
			}
			if err := tables.Delete(all[oldest].key); err != nil {
				return err
			}
			if err := access.Delete(all[oldest].key); err != nil {
				return err
			}
			all = append(all[:oldest], all[oldest+1:]...)
		}
		return nil
	})
}

func touchLocked(tx *bolt.Tx, key []byte) error {
	now := make([]byte, 8)
	binary.BigEndian.PutUint64(now, uint64(time.Now().UnixNano()))
	return tx.Bucket(accessBucket).Put(key, now)
}
