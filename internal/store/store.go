package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	BackendBbolt  = "bbolt"
	BackendFile   = "file"
	BackendMemory = "memory"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateCorrelationID = errors.New("duplicate correlation id")
	ErrDuplicateEventID       = errors.New("duplicate webhook event id")
	ErrVersionConflict        = errors.New("version conflict")
	ErrReadOnly               = errors.New("transaction is read-only")
)

var (
	bucketRuns           = []byte("runs")
	bucketRunCorrelation = []byte("run_correlation_idx")
	bucketRunSteps       = []byte("run_steps")
	bucketApprovals      = []byte("approvals")
	bucketExceptions     = []byte("exceptions")
	bucketPolicies       = []byte("policies")
	bucketWebhookEvents  = []byte("webhook_events")
	bucketWebhookIndex   = []byte("webhook_event_idx")
	bucketAccounts       = []byte("accounts")
	bucketContacts       = []byte("contacts")
	bucketDeals          = []byte("deals")
	bucketCancelRequests = []byte("cancel_requests")
)

var allBuckets = [][]byte{
	bucketRuns,
	bucketRunCorrelation,
	bucketRunSteps,
	bucketApprovals,
	bucketExceptions,
	bucketPolicies,
	bucketWebhookEvents,
	bucketWebhookIndex,
	bucketAccounts,
	bucketContacts,
	bucketDeals,
	bucketCancelRequests,
}

// Store is the transactional persistence boundary. Every function passed to
// Update commits atomically or not at all.
type Store interface {
	View(ctx context.Context, fn func(tx *Tx) error) error
	Update(ctx context.Context, fn func(tx *Tx) error) error
	Backend() string
	Close() error
}

type Paths struct {
	DBPath   string
	FilePath string
}

func Open(paths Paths, backend string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendBbolt:
		if strings.TrimSpace(paths.DBPath) == "" {
			return nil, errors.New("db path is required for bbolt store")
		}
		return NewBboltStore(paths.DBPath)
	case BackendFile:
		if strings.TrimSpace(paths.FilePath) == "" {
			return nil, errors.New("file path is required for file store")
		}
		return NewFileStore(paths.FilePath)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, errors.New("unsupported store backend: " + backend)
	}
}

// kvBucket is the subset of *bbolt.Bucket the typed accessors rely on.
type kvBucket interface {
	Get(key []byte) []byte
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	ForEach(fn func(k, v []byte) error) error
}

// Tx exposes typed accessors over one backend transaction.
type Tx struct {
	bucket   func(name []byte) kvBucket
	writable bool
}

func (tx *Tx) b(name []byte) (kvBucket, error) {
	b := tx.bucket(name)
	if b == nil {
		return nil, fmt.Errorf("bucket %s missing", name)
	}
	return b, nil
}

func (tx *Tx) getJSON(bucket []byte, key string, out any) (bool, error) {
	b, err := tx.b(bucket)
	if err != nil {
		return false, err
	}
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", bucket, key, err)
	}
	return true, nil
}

func (tx *Tx) putJSON(bucket []byte, key string, v any) error {
	if !tx.writable {
		return ErrReadOnly
	}
	b, err := tx.b(bucket)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func (tx *Tx) getRaw(bucket []byte, key string) (string, bool, error) {
	b, err := tx.b(bucket)
	if err != nil {
		return "", false, err
	}
	data := b.Get([]byte(key))
	if data == nil {
		return "", false, nil
	}
	return string(data), true, nil
}

func (tx *Tx) putRaw(bucket []byte, key, value string) error {
	if !tx.writable {
		return ErrReadOnly
	}
	b, err := tx.b(bucket)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), []byte(value))
}

func (tx *Tx) delete(bucket []byte, key string) error {
	if !tx.writable {
		return ErrReadOnly
	}
	b, err := tx.b(bucket)
	if err != nil {
		return err
	}
	return b.Delete([]byte(key))
}

// scan decodes every value in bucket whose key has prefix, in key order.
func scan[T any](tx *Tx, bucket []byte, prefix string, fn func(item *T) error) error {
	b, err := tx.b(bucket)
	if err != nil {
		return err
	}
	return b.ForEach(func(k, v []byte) error {
		if prefix != "" && !strings.HasPrefix(string(k), prefix) {
			return nil
		}
		item := new(T)
		if err := json.Unmarshal(v, item); err != nil {
			return fmt.Errorf("decode %s/%s: %w", bucket, k, err)
		}
		return fn(item)
	})
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}
