package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	logx "alertbot/pkg/logx"
)

//go:embed migrations.sql
var schemaSQL string

// sqliteStore keeps every collection in a single key/value table.
//
// The pool is pinned to one connection, so transactions never interleave
// and Update is a serialized read-modify-write.
type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type kvRow struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, persistErr("mkdir", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, persistErr("open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, persistErr("pragma", err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, persistErr("migrate", err)
	}
	log.Debug("sqlite store ready", logx.String("path", path))
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Get(ctx context.Context, c Collection, key string) ([]byte, bool, error) {
	var v []byte
	err := s.db.GetContext(ctx, &v, `SELECT value FROM kv WHERE coll = ? AND key = ?`, string(c), key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, persistErr("get "+string(c), err)
	}
	return v, true, nil
}

const upsertKV = `INSERT INTO kv(coll, key, value, updated_at) VALUES(?,?,?,?)
	ON CONFLICT(coll, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

func (s *sqliteStore) Put(ctx context.Context, c Collection, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, upsertKV, string(c), key, value, time.Now().UnixMilli())
	return persistErr("put "+string(c), err)
}

func (s *sqliteStore) Delete(ctx context.Context, c Collection, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE coll = ? AND key = ?`, string(c), key)
	if err != nil {
		return false, persistErr("delete "+string(c), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistErr("delete "+string(c), err)
	}
	return n > 0, nil
}

func (s *sqliteStore) List(ctx context.Context, c Collection) (map[string][]byte, error) {
	var rows []kvRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value FROM kv WHERE coll = ?`, string(c)); err != nil {
		return nil, persistErr("list "+string(c), err)
	}
	out := make(map[string][]byte, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

func (s *sqliteStore) Update(ctx context.Context, c Collection, key string, fn UpdateFunc) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return persistErr("begin", err)
	}
	defer tx.Rollback()

	var cur []byte
	exists := true
	err = tx.GetContext(ctx, &cur, `SELECT value FROM kv WHERE coll = ? AND key = ?`, string(c), key)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return persistErr("read "+string(c), err)
	}

	next, op, err := applyUpdate(fn, cur, exists)
	if err != nil {
		return err
	}
	switch op {
	case OpKeep:
		return nil
	case OpPut:
		if _, err := tx.ExecContext(ctx, upsertKV, string(c), key, next, time.Now().UnixMilli()); err != nil {
			return persistErr("write "+string(c), err)
		}
	case OpDelete:
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE coll = ? AND key = ?`, string(c), key); err != nil {
			return persistErr("delete "+string(c), err)
		}
	}
	return persistErr("commit", tx.Commit())
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO audit(at, actor_id, source, action, target, ok, fail, err, took_ms, meta)
		 VALUES(:at, :actor_id, :source, :action, :target, :ok, :fail, :err, :took_ms, :meta)`,
		map[string]any{
			"at":       e.At.UTC().Format(time.RFC3339Nano),
			"actor_id": e.ActorID,
			"source":   e.Source,
			"action":   e.Action,
			"target":   e.Target,
			"ok":       e.OK,
			"fail":     e.Fail,
			"err":      nullStr(e.Error),
			"took_ms":  e.TookMS,
			"meta":     nullStr(e.MetaJSON),
		},
	)
	return persistErr("audit", err)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
