package storage

import (
	"errors"
	"fmt"
	"strings"

	logx "alertbot/pkg/logx"
)

// Open initializes the configured store.
// An empty driver selects "file".
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	case "memory", "mem":
		return NewMemory(), nil
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

// persistErr tags a driver failure with ErrPersistence while keeping the cause.
func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// applyUpdate runs fn and maps ErrAbort to a no-op.
func applyUpdate(fn UpdateFunc, cur []byte, exists bool) ([]byte, Op, error) {
	next, op, err := fn(cur, exists)
	if errors.Is(err, ErrAbort) {
		return nil, OpKeep, nil
	}
	if err != nil {
		return nil, OpKeep, err
	}
	return next, op, nil
}
