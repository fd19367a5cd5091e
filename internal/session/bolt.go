package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/pitabwire/vendordesk/internal/listview"
)

var viewsBucket = []byte("views")

// BoltStore keeps state in a local bbolt file, for single-instance
// deployments that should survive restarts without Redis.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the database at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("session: open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(viewsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("session: create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Load reads the state at key. Expired entries are reported as missing.
func (s *BoltStore) Load(_ context.Context, key string) (listview.State, bool, error) {
	var r record
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(viewsBucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return listview.State{}, false, fmt.Errorf("session: load %q: %w", key, err)
	}
	if !found || r.expired(time.Now()) {
		return listview.State{}, false, nil
	}
	return r.State, true, nil
}

// Save writes st with an expiry stamp.
func (s *BoltStore) Save(_ context.Context, key string, st listview.State, ttl time.Duration) error {
	data, err := json.Marshal(newRecord(st, ttl))
	if err != nil {
		return fmt.Errorf("session: marshal state: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(viewsBucket).Put([]byte(key), data)
	})
}

// Delete removes key.
func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(viewsBucket).Delete([]byte(key))
	})
}

// Sweep deletes expired entries and returns how many were removed.
func (s *BoltStore) Sweep(_ context.Context) (int, error) {
	now := time.Now()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(viewsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var r record
			if err := json.Unmarshal(v, &r); err != nil || r.expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

// HealthCheck verifies the database is open.
func (s *BoltStore) HealthCheck(context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(viewsBucket) == nil {
			return fmt.Errorf("session: bucket %s missing", viewsBucket)
		}
		return nil
	})
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
