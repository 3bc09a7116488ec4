// Package boltstore is the bbolt session backend.
package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/matheus3301/flashd/internal/session"
	bolt "go.etcd.io/bbolt"
)

var (
	sessionsBucket = []byte("sessions")
	metaBucket     = []byte("meta")
)

// Store keeps each session in its own nested bucket under "sessions" and its
// last save time under "meta".
type Store struct {
	db  *bolt.DB
	now func() time.Time
}

var (
	_ session.Backend = (*Store)(nil)
	_ session.Counter = (*Store)(nil)
)

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(_ context.Context, id string) (session.Data, bool, error) {
	var (
		data  session.Data
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(sessionsBucket).Bucket([]byte(id))
		if b == nil {
			return nil
		}
		found = true
		data = make(session.Data)
		return b.ForEach(func(k, v []byte) error {
			// Values are only valid for the life of the transaction.
			data[string(k)] = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("load session: %w", err)
	}
	return data, found, nil
}

func (s *Store) Save(_ context.Context, id string, data session.Data) error {
	key := []byte(id)
	return s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		if sessions.Bucket(key) != nil {
			if err := sessions.DeleteBucket(key); err != nil {
				return err
			}
		}
		b, err := sessions.CreateBucket(key)
		if err != nil {
			return err
		}
		for k, v := range data {
			if v == nil {
				v = []byte{}
			}
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return tx.Bucket(metaBucket).Put(key, encodeTime(s.now()))
	})
}

func (s *Store) Delete(_ context.Context, id string) error {
	key := []byte(id)
	return s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		if sessions.Bucket(key) != nil {
			if err := sessions.DeleteBucket(key); err != nil {
				return err
			}
		}
		return tx.Bucket(metaBucket).Delete(key)
	})
}

func (s *Store) Expire(_ context.Context, before time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		sessions := tx.Bucket(sessionsBucket)
		meta := tx.Bucket(metaBucket)

		var expired [][]byte
		c := meta.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if decodeTime(v).Before(before) {
				expired = append(expired, append([]byte(nil), k...))
			}
		}
		for _, k := range expired {
			if sessions.Bucket(k) != nil {
				if err := sessions.DeleteBucket(k); err != nil {
					return err
				}
			}
			if err := meta.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return removed, nil
}

// Count returns the number of stored sessions.
func (s *Store) Count(context.Context) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(metaBucket).Stats().KeyN
		return nil
	})
	return n, err
}

func encodeTime(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.UnixMilli()))
	return buf
}

func decodeTime(b []byte) time.Time {
	if len(b) != 8 {
		return time.Time{}
	}
	return time.UnixMilli(int64(binary.BigEndian.Uint64(b)))
}
