package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
)

type memoryBucket struct {
	data map[string][]byte
}

func (b *memoryBucket) Get(key []byte) []byte {
	return b.data[string(key)]
}

func (b *memoryBucket) Put(key []byte, value []byte) error {
	if len(key) == 0 {
		return errors.New("key required")
	}
	b.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (b *memoryBucket) Delete(key []byte) error {
	delete(b.data, string(key))
	return nil
}

func (b *memoryBucket) ForEach(fn func(k, v []byte) error) error {
	keys := make([]string, 0, len(b.data))
	for key := range b.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := fn([]byte(key), b.data[key]); err != nil {
			return err
		}
	}
	return nil
}

type memoryStore struct {
	mu      sync.RWMutex
	buckets map[string]*memoryBucket
	persist func(map[string]*memoryBucket) error
	backend string
}

// NewMemoryStore returns a process-local store with copy-on-write transactions.
func NewMemoryStore() Store {
	return &memoryStore{buckets: emptyMemoryBuckets(), backend: BackendMemory}
}

// NewFileStore returns a memory store that snapshots every committed
// transaction to a single JSON file.
func NewFileStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store file path is required")
	}
	buckets := emptyMemoryBuckets()
	var snapshot map[string]map[string]json.RawMessage
	if err := readJSON(path, &snapshot); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	for name, entries := range snapshot {
		b, ok := buckets[name]
		if !ok {
			continue
		}
		for key, value := range entries {
			b.data[key] = []byte(value)
		}
	}
	return &memoryStore{
		buckets: buckets,
		backend: BackendFile,
		persist: func(next map[string]*memoryBucket) error {
			out := make(map[string]map[string]json.RawMessage, len(next))
			for name, b := range next {
				entries := make(map[string]json.RawMessage, len(b.data))
				for key, value := range b.data {
					entries[key] = json.RawMessage(value)
				}
				out[name] = entries
			}
			return writeJSONAtomic(path, out)
		},
	}, nil
}

func emptyMemoryBuckets() map[string]*memoryBucket {
	out := make(map[string]*memoryBucket, len(allBuckets))
	for _, name := range allBuckets {
		out[string(name)] = &memoryBucket{data: map[string][]byte{}}
	}
	return out
}

func (s *memoryStore) View(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(memoryTx(s.buckets, false))
}

func (s *memoryStore) Update(ctx context.Context, fn func(tx *Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]*memoryBucket, len(s.buckets))
	for name, b := range s.buckets {
		data := make(map[string][]byte, len(b.data))
		for key, value := range b.data {
			data[key] = value
		}
		next[name] = &memoryBucket{data: data}
	}
	if err := fn(memoryTx(next, true)); err != nil {
		return err
	}
	if s.persist != nil {
		if err := s.persist(next); err != nil {
			return err
		}
	}
	s.buckets = next
	return nil
}

func memoryTx(buckets map[string]*memoryBucket, writable bool) *Tx {
	return &Tx{
		writable: writable,
		bucket: func(name []byte) kvBucket {
			b, ok := buckets[string(name)]
			if !ok {
				return nil
			}
			return b
		},
	}
}

func (s *memoryStore) Backend() string {
	return s.backend
}

func (s *memoryStore) Close() error {
	return nil
}
