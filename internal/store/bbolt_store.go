package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

type bboltStore struct {
	db *bolt.DB
}

func NewBboltStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initBboltSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltStore{db: db}, nil
}

func initBboltSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *bboltStore) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(wrapBboltTx(btx, false))
	})
}

func (s *bboltStore) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(wrapBboltTx(btx, true))
	})
}

func wrapBboltTx(btx *bolt.Tx, writable bool) *Tx {
	return &Tx{
		writable: writable,
		bucket: func(name []byte) kvBucket {
			b := btx.Bucket(name)
			if b == nil {
				return nil
			}
			return b
		},
	}
}

func (s *bboltStore) Backend() string {
	return BackendBbolt
}

func (s *bboltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
