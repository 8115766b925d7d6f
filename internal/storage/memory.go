package storage

import (
	"context"
	"sync"
)

// Memory keeps everything in process. Values are copied on the way in
// and out so callers never share buffers with the store.
//
// Exported for tests that inspect audit entries or inject failures.
type Memory struct {
	mu    sync.Mutex
	data  map[Collection]map[string][]byte
	audit []AuditEntry
	fail  error
}

func NewMemory() *Memory {
	return &Memory{data: map[Collection]map[string][]byte{}}
}

// FailWith makes every subsequent call fail with err wrapped in
// ErrPersistence. Pass nil to recover.
func (s *Memory) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

// Audit returns a copy of the recorded audit entries.
func (s *Memory) Audit() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.audit...)
}

func (s *Memory) coll(c Collection) map[string][]byte {
	m := s.data[c]
	if m == nil {
		m = map[string][]byte{}
		s.data[c] = m
	}
	return m
}

func clone(b []byte) []byte { return append([]byte(nil), b...) }

func (s *Memory) Get(_ context.Context, c Collection, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, false, persistErr("get", s.fail)
	}
	v, ok := s.coll(c)[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (s *Memory) Put(_ context.Context, c Collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return persistErr("put", s.fail)
	}
	s.coll(c)[key] = clone(value)
	return nil
}

func (s *Memory) Delete(_ context.Context, c Collection, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return false, persistErr("delete", s.fail)
	}
	m := s.coll(c)
	_, ok := m[key]
	delete(m, key)
	return ok, nil
}

func (s *Memory) List(_ context.Context, c Collection) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, persistErr("list", s.fail)
	}
	out := make(map[string][]byte, len(s.data[c]))
	for k, v := range s.data[c] {
		out[k] = clone(v)
	}
	return out, nil
}

func (s *Memory) Update(_ context.Context, c Collection, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return persistErr("update", s.fail)
	}
	m := s.coll(c)
	cur, ok := m[key]
	next, op, err := applyUpdate(fn, clone(cur), ok)
	if err != nil {
		return err
	}
	switch op {
	case OpPut:
		m[key] = clone(next)
	case OpDelete:
		delete(m, key)
	}
	return nil
}

func (s *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return persistErr("audit", s.fail)
	}
	s.audit = append(s.audit, e)
	return nil
}

func (s *Memory) Close() error { return nil }
