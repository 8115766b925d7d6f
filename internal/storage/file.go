package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	logx "alertbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.<collection>.json  (whole collection, rewritten via temp file + rename)
//   - <prefix>.audit.jsonl        (append-only JSON Lines)
//   - <prefix>.lock               (held for the life of the store)
//
// Collections are loaded once at open and served from memory afterwards, so
// only one process may have them open. A failed write rolls back the
// in-memory change. One mutex guards every collection.
type fileStore struct {
	log    logx.Logger
	prefix string
	lock   *flock.Flock

	mu    sync.Mutex
	colls map[Collection]map[string]json.RawMessage

	auditFile *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, persistErr("mkdir", err)
	}

	lock := flock.New(prefix+".lock", flock.SetPermissions(0o600))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, persistErr("lock", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, lock.Path())
	}

	s := &fileStore{
		log:    log,
		prefix: prefix,
		lock:   lock,
		colls:  map[Collection]map[string]json.RawMessage{},
	}
	for _, c := range Collections {
		m, err := loadCollection(s.collPath(c))
		if err != nil {
			_ = lock.Unlock()
			return nil, persistErr("load "+string(c), err)
		}
		s.colls[c] = m
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = lock.Unlock()
		return nil, persistErr("open audit", err)
	}
	s.auditFile = af
	return s, nil
}

func (s *fileStore) collPath(c Collection) string {
	return s.prefix + "." + string(c) + ".json"
}

func loadCollection(path string) (map[string]json.RawMessage, error) {
	m := map[string]json.RawMessage{}
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("corrupt %s: %w", filepath.Base(path), err)
	}
	return m, nil
}

func (s *fileStore) coll(c Collection) map[string]json.RawMessage {
	m := s.colls[c]
	if m == nil {
		m = map[string]json.RawMessage{}
		s.colls[c] = m
	}
	return m
}

// flushLocked rewrites one collection file atomically.
func (s *fileStore) flushLocked(c Collection) error {
	path := s.collPath(c)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.coll(c)); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// setLocked applies a change and persists it, undoing the change on failure.
func (s *fileStore) setLocked(c Collection, key string, value []byte, del bool) error {
	m := s.coll(c)
	prev, had := m[key]
	if del {
		delete(m, key)
	} else {
		m[key] = json.RawMessage(clone(value))
	}
	if err := s.flushLocked(c); err != nil {
		if had {
			m[key] = prev
		} else {
			delete(m, key)
		}
		s.log.Warn("storage write failed", logx.String("collection", string(c)), logx.String("key", key), logx.Err(err))
		return persistErr("write "+string(c), err)
	}
	return nil
}

func (s *fileStore) Get(_ context.Context, c Collection, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.coll(c)[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (s *fileStore) Put(_ context.Context, c Collection, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("put %s/%s: value is not JSON", c, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(c, key, value, false)
}

func (s *fileStore) Delete(_ context.Context, c Collection, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.coll(c)[key]; !ok {
		return false, nil
	}
	if err := s.setLocked(c, key, nil, true); err != nil {
		return false, err
	}
	return true, nil
}

func (s *fileStore) List(_ context.Context, c Collection) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.coll(c)
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		out[k] = clone(v)
	}
	return out, nil
}

func (s *fileStore) Update(_ context.Context, c Collection, key string, fn UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.coll(c)[key]
	next, op, err := applyUpdate(fn, clone(cur), ok)
	if err != nil {
		return err
	}
	switch op {
	case OpPut:
		if !json.Valid(next) {
			return fmt.Errorf("update %s/%s: value is not JSON", c, key)
		}
		return s.setLocked(c, key, next, false)
	case OpDelete:
		if !ok {
			return nil
		}
		return s.setLocked(c, key, nil, true)
	}
	return nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return persistErr("audit", errors.New("audit file closed"))
	}
	if err := json.NewEncoder(s.auditFile).Encode(e); err != nil {
		return persistErr("audit", err)
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return errors.Join(err, s.lock.Unlock())
}
