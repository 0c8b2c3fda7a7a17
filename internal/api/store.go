package api

import (
	"fmt"
	"sort"
	"sync"
)

// ListOptions narrows a GetDetails call to one page.
type ListOptions struct {
	Limit  int
	Offset int
}

// ModelStore is the persistence surface a resource handler talks to.
// GetOne returns (nil, nil) when the record does not exist.
type ModelStore interface {
	GetDetails(opts ListOptions) ([]map[string]any, int, error)
	GetOne(id int64) (map[string]any, error)
	Save(data map[string]any, id int64) (int64, error)
	Delete(id int64) error
}

// Resource binds an endpoint name to its store. Unwrap opts the endpoint
// into single-object responses for limit=1 queries.
type Resource struct {
	Name   string
	Store  ModelStore
	Unwrap bool
}

// MemoryStore is an in-process ModelStore used by tests and the demo
// wiring. Records keep insertion order for stable pagination.
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	rows   map[int64]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1, rows: make(map[int64]map[string]any)}
}

func (s *MemoryStore) GetDetails(opts ListOptions) ([]map[string]any, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.rows))
	for id := range s.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	total := len(ids)
	if opts.Offset >= total {
		return []map[string]any{}, total, nil
	}
	end := opts.Offset + opts.Limit
	if opts.Limit <= 0 || end > total {
		end = total
	}

	page := make([]map[string]any, 0, end-opts.Offset)
	for _, id := range ids[opts.Offset:end] {
		page = append(page, cloneRow(s.rows[id]))
	}
	return page, total, nil
}

func (s *MemoryStore) GetOne(id int64) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	return cloneRow(row), nil
}

func (s *MemoryStore) Save(data map[string]any, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == 0 {
		id = s.nextID
		s.nextID++
	} else if _, ok := s.rows[id]; !ok {
		return 0, fmt.Errorf("record %d not found", id)
	}

	row := cloneRow(data)
	row["id"] = id
	s.rows[id] = row
	return id, nil
}

func (s *MemoryStore) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rows[id]; !ok {
		return fmt.Errorf("record %d not found", id)
	}
	delete(s.rows, id)
	return nil
}

func cloneRow(row map[string]any) map[string]any {
	clone := make(map[string]any, len(row))
	for k, v := range row {
		clone[k] = v
	}
	return clone
}
