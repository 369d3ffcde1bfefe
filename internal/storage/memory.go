package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local runs. A single
// mutex serialises every operation, which also gives RunTransaction its
// atomicity.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Document
	now         func() time.Time
}

// NewMemoryStore returns an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]*Document),
		now:         time.Now,
	}
}

// WithClock substitutes the timestamp source; tests use this for
// deterministic created/updated values.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(collection, id)
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(collection, id, data)
}

func (s *MemoryStore) Update(ctx context.Context, collection, id string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(collection, id, data)
}

func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	if _, ok := docs[id]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	delete(docs, id)
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, collection string, filters []Filter) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Document
	for _, doc := range s.collections[collection] {
		if matches(doc, filters) {
			out = append(out, cloneDocument(doc))
		}
	}
	return out, nil
}

// RunTransaction executes fn under the store lock. Writes go to a staging
// area and are merged in only when fn succeeds.
func (s *MemoryStore) RunTransaction(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, staged: make(map[string]map[string]*Document)}
	if err := fn(tx); err != nil {
		return err
	}

	for collection, docs := range tx.staged {
		if s.collections[collection] == nil {
			s.collections[collection] = make(map[string]*Document)
		}
		for id, doc := range docs {
			s.collections[collection][id] = doc
		}
	}
	return nil
}

// get, set and update assume the caller holds the lock.

func (s *MemoryStore) get(collection, id string) (*Document, error) {
	docs, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	doc, ok := docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return cloneDocument(doc), nil
}

func (s *MemoryStore) set(collection, id string, data map[string]any) error {
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]*Document)
	}

	now := s.now()
	created := now
	if existing, ok := s.collections[collection][id]; ok {
		created = existing.CreatedAt
	}
	s.collections[collection][id] = &Document{
		ID:        id,
		Data:      cloneData(data),
		CreatedAt: created,
		UpdatedAt: now,
	}
	return nil
}

func (s *MemoryStore) update(collection, id string, data map[string]any) error {
	docs, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	doc, ok := docs[id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}

	merged := cloneData(doc.Data)
	for key, value := range data {
		merged[key] = value
	}
	docs[id] = &Document{
		ID:        id,
		Data:      merged,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: s.now(),
	}
	return nil
}

type memoryTx struct {
	store  *MemoryStore
	staged map[string]map[string]*Document
}

func (tx *memoryTx) Get(collection, id string) (*Document, error) {
	if doc, ok := tx.staged[collection][id]; ok {
		return cloneDocument(doc), nil
	}
	return tx.store.get(collection, id)
}

func (tx *memoryTx) Set(collection, id string, data map[string]any) error {
	now := tx.store.now()
	created := now
	if existing, err := tx.Get(collection, id); err == nil {
		created = existing.CreatedAt
	}
	tx.stage(collection, id, &Document{
		ID:        id,
		Data:      cloneData(data),
		CreatedAt: created,
		UpdatedAt: now,
	})
	return nil
}

func (tx *memoryTx) Update(collection, id string, data map[string]any) error {
	doc, err := tx.Get(collection, id)
	if err != nil {
		return err
	}
	merged := cloneData(doc.Data)
	for key, value := range data {
		merged[key] = value
	}
	tx.stage(collection, id, &Document{
		ID:        id,
		Data:      merged,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: tx.store.now(),
	})
	return nil
}

func (tx *memoryTx) stage(collection, id string, doc *Document) {
	if tx.staged[collection] == nil {
		tx.staged[collection] = make(map[string]*Document)
	}
	tx.staged[collection][id] = doc
}

func matches(doc *Document, filters []Filter) bool {
	for _, f := range filters {
		if doc.Data[f.Field] != f.Value {
			return false
		}
	}
	return true
}

func cloneDocument(doc *Document) *Document {
	return &Document{
		ID:        doc.ID,
		Data:      cloneData(doc.Data),
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for key, value := range data {
		out[key] = value
	}
	return out
}
