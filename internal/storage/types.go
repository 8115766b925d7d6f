package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	// ErrPersistence wraps every driver failure. The attempted change is not applied.
	ErrPersistence = errors.New("persistence error")
	// ErrAbort can be returned from an UpdateFunc to stop without writing.
	ErrAbort = errors.New("update aborted")
	// ErrLocked is returned by the file driver when another process holds
	// the same data files.
	ErrLocked = errors.New("storage in use by another process")
)

// Collection names one independently persisted record set.
type Collection string

const (
	Alerts        Collection = "alerts"
	Jobs          Collection = "jobs"
	Inbox         Collection = "inbox"
	Subscriptions Collection = "subscriptions"
	Stats         Collection = "stats"
	Users         Collection = "users"
)

// Collections lists every collection a driver must be able to hold.
var Collections = []Collection{Alerts, Jobs, Inbox, Subscriptions, Stats, Users}

// Op is the outcome of an UpdateFunc.
type Op int

const (
	OpKeep Op = iota
	OpPut
	OpDelete
)

// UpdateFunc receives the current raw value (exists=false when absent) and
// decides what to write. It runs while the driver holds the record exclusively
// and may be invoked more than once by optimistic drivers, so it must be pure.
type UpdateFunc func(cur []byte, exists bool) (next []byte, op Op, err error)

// Store is the persistence API used by every domain service.
//
// Values are opaque JSON documents. Update is an atomic read-modify-write.
type Store interface {
	Get(ctx context.Context, c Collection, key string) ([]byte, bool, error)
	Put(ctx context.Context, c Collection, key string, value []byte) error
	Delete(ctx context.Context, c Collection, key string) (bool, error)
	List(ctx context.Context, c Collection) (map[string][]byte, error)
	Update(ctx context.Context, c Collection, key string, fn UpdateFunc) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "file": JSON document per collection, temp-file + rename on every write
//   - "sqlite": SQLite database file
//   - "redis": one hash per collection on a Redis server
//   - "memory": process-local, for tests and dry runs
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Redis       RedisConfig
}

type RedisConfig struct {
	Addrs    []string
	Password string
	DB       int
	Prefix   string // key prefix, default "alertbot"
}

// AuditEntry records an operator action or a lifecycle event.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	ActorID  int64     `json:"actor_id,omitempty"`
	Source   string    `json:"source"` // "http", "telegram", "cli", "scheduler"
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	OK       int       `json:"ok,omitempty"`
	Fail     int       `json:"fail,omitempty"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}
