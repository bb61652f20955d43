package storage

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"ringkv/pkg/cluster"
	"ringkv/pkg/dberrors"
)

// Store is the local single-node keyed store used by a ringkv node.
type Store interface {
	Get(key string) (string, error)
	// Put reports whether the key already existed.
	Put(key, value string) (bool, error)
	Delete(key string) error
	// ScanRange returns every pair whose key hash lies in r.
	ScanRange(r cluster.Range) (map[string]string, error)
	All() (map[string]string, error)
	Clear() error
	Len() int
}

// hashKey orders entries by ring position first so range scans stay local.
type hashKey struct {
	hash cluster.NodeID
	key  string
}

func lessHashKey(a, b hashKey) bool {
	if c := a.hash.Compare(b.hash); c != 0 {
		return c < 0
	}
	return strings.Compare(a.key, b.key) < 0
}

type orderedMap = skipmap.FuncMap[hashKey, string]

// MemStore is a concurrent in-memory Store indexed by key hash.
type MemStore struct {
	underlying atomic.Pointer[orderedMap]
}

func NewMemStore() *MemStore {
	s := &MemStore{}
	s.underlying.Store(newOrderedMap())
	return s
}

func newOrderedMap() *orderedMap {
	return skipmap.NewFunc[hashKey, string](lessHashKey)
}

func (s *MemStore) Get(key string) (string, error) {
	v, ok := s.underlying.Load().Load(hashKey{hash: cluster.Hash(key), key: key})
	if !ok {
		return "", fmt.Errorf("get %q: %w", key, dberrors.ErrNotFound)
	}
	return v, nil
}

func (s *MemStore) Put(key, value string) (bool, error) {
	m := s.underlying.Load()
	k := hashKey{hash: cluster.Hash(key), key: key}
	_, existed := m.Load(k)
	m.Store(k, value)
	return existed, nil
}

func (s *MemStore) Delete(key string) error {
	if _, ok := s.underlying.Load().LoadAndDelete(hashKey{hash: cluster.Hash(key), key: key}); !ok {
		return fmt.Errorf("delete %q: %w", key, dberrors.ErrNotFound)
	}
	return nil
}

func (s *MemStore) ScanRange(r cluster.Range) (map[string]string, error) {
	result := make(map[string]string)
	plain := r.Start.Compare(r.Stop) < 0

	s.underlying.Load().Range(func(k hashKey, v string) bool {
		if plain && k.hash.Compare(r.Stop) > 0 {
			// дальше только хэши за правой границей
			return false
		}
		if r.Contains(k.hash) {
			result[k.key] = v
		}
		return true
	})
	return result, nil
}

func (s *MemStore) All() (map[string]string, error) {
	result := make(map[string]string, s.Len())
	s.underlying.Load().Range(func(k hashKey, v string) bool {
		result[k.key] = v
		return true
	})
	return result, nil
}

func (s *MemStore) Clear() error {
	s.underlying.Store(newOrderedMap())
	return nil
}

func (s *MemStore) Len() int {
	return s.underlying.Load().Len()
}
