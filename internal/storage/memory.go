package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryBackend implements Backend over an in-memory map, for tests
// and ephemeral nodes. A single writer lock serializes rw-transactions
// (matching the single-actor concurrency model of §5); readers see a
// snapshot taken at BeginRO.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory backend.
func NewMemory() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) BeginRO() (ReadTx, error) {
	m.mu.RLock()
	snapshot := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		snapshot[k] = v
	}
	m.mu.RUnlock()
	return &memoryTx{snapshot: snapshot}, nil
}

func (m *MemoryBackend) BeginRW() (ReadWriteTx, error) {
	m.mu.Lock()
	snapshot := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		snapshot[k] = v
	}
	return &memoryTx{
		backend:  m,
		snapshot: snapshot,
		writable: true,
		writes:   make(map[string][]byte),
		deletes:  make(map[string]struct{}),
	}, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}

type memoryTx struct {
	backend  *MemoryBackend
	snapshot map[string][]byte
	writable bool
	writes   map[string][]byte
	deletes  map[string]struct{}
	done     bool
}

func (t *memoryTx) Get(key []byte) ([]byte, error) {
	k := string(key)
	if t.writable {
		if _, deleted := t.deletes[k]; deleted {
			return nil, ErrNotFound
		}
		if v, ok := t.writes[k]; ok {
			return v, nil
		}
	}
	v, ok := t.snapshot[k]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (t *memoryTx) Has(key []byte) (bool, error) {
	_, err := t.Get(key)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (t *memoryTx) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	p := string(prefix)
	merged := make(map[string][]byte, len(t.snapshot))
	for k, v := range t.snapshot {
		merged[k] = v
	}
	if t.writable {
		for k := range t.deletes {
			delete(merged, k)
		}
		for k, v := range t.writes {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn([]byte(k), append([]byte(nil), merged[k]...)); err != nil {
			return err
		}
	}
	return nil
}

func (t *memoryTx) Put(key, value []byte) error {
	if !t.writable {
		return errWriteOnReadOnly
	}
	k := string(key)
	v := make([]byte, len(value))
	copy(v, value)
	delete(t.deletes, k)
	t.writes[k] = v
	return nil
}

func (t *memoryTx) Delete(key []byte) error {
	if !t.writable {
		return errWriteOnReadOnly
	}
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = struct{}{}
	return nil
}

func (t *memoryTx) Commit() error {
	if !t.writable || t.done {
		return nil
	}
	t.done = true
	for k := range t.deletes {
		delete(t.backend.data, k)
	}
	for k, v := range t.writes {
		t.backend.data[k] = v
	}
	t.backend.mu.Unlock()
	return nil
}

func (t *memoryTx) Discard() {
	if t.writable && !t.done {
		t.done = true
		t.backend.mu.Unlock()
	}
}

var errWriteOnReadOnly = &writeOnReadOnlyError{}

type writeOnReadOnlyError struct{}

func (*writeOnReadOnlyError) Error() string { return "storage: write on read-only transaction" }
