package procsync

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is the in-memory TaskStore used by tests and by dev mode runs
// without a database.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]TaskRecord // keyed by record ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]TaskRecord{}}
}

func (s *MemoryStore) ListRemoteSourced(_ context.Context, processID string) ([]TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TaskRecord
	for _, record := range s.records {
		if record.ProcessID == processID && record.Origin == OriginRemote {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, record TaskRecord) error {
	if strings.TrimSpace(record.ProcessID) == "" || !record.Origin.Valid() {
		return ErrInvalidInput
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record
	return nil
}

func (s *MemoryStore) Update(_ context.Context, record TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.records {
		if existing.ProcessID == record.ProcessID && existing.RemoteID == record.RemoteID && existing.Origin == record.Origin {
			record.ID = id
			s.records[id] = record
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) Delete(_ context.Context, processID, remoteID string, origin Origin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.records {
		if existing.ProcessID == processID && existing.RemoteID == remoteID && existing.Origin == origin {
			delete(s.records, id)
			return nil
		}
	}
	return ErrNotFound
}

// All returns a snapshot of every stored record, remote-sourced or not.
func (s *MemoryStore) All() []TaskRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskRecord, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MemoryLinks is a fixed process-link table for tests and dev mode.
type MemoryLinks struct {
	mu    sync.Mutex
	links map[string]ProcessLink
}

func NewMemoryLinks() *MemoryLinks {
	return &MemoryLinks{links: map[string]ProcessLink{}}
}

func (l *MemoryLinks) Set(link ProcessLink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.links[link.ProcessID] = link
}

func (l *MemoryLinks) Link(_ context.Context, processID string) (ProcessLink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	link, ok := l.links[processID]
	if !ok {
		return ProcessLink{}, ErrNotFound
	}
	return link, nil
}
