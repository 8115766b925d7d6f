package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetJSON loads key into v. It reports false when the record is absent.
func GetJSON(ctx context.Context, st Store, c Collection, key string, v any) (bool, error) {
	b, ok, err := st.Get(ctx, c, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", c, key, err)
	}
	return true, nil
}

// PutJSON stores v under key.
func PutJSON(ctx context.Context, st Store, c Collection, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c, key, err)
	}
	return st.Put(ctx, c, key, b)
}

// ListJSON decodes every record of a collection. Undecodable records are
// reported through the returned error after all others are collected.
func ListJSON[T any](ctx context.Context, st Store, c Collection) (map[string]T, error) {
	raw, err := st.List(ctx, c)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(raw))
	var firstErr error
	for k, b := range raw {
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("decode %s/%s: %w", c, k, err)
			}
			continue
		}
		out[k] = v
	}
	return out, firstErr
}

// UpdateJSON is the typed form of Store.Update. fn mutates *cur in place
// (a zero T when absent) and returns the op to apply.
func UpdateJSON[T any](ctx context.Context, st Store, c Collection, key string, fn func(cur *T, exists bool) (Op, error)) error {
	return st.Update(ctx, c, key, func(raw []byte, exists bool) ([]byte, Op, error) {
		var v T
		if exists {
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, OpKeep, fmt.Errorf("decode %s/%s: %w", c, key, err)
			}
		}
		op, err := fn(&v, exists)
		if err != nil || op != OpPut {
			return nil, op, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, OpKeep, fmt.Errorf("encode %s/%s: %w", c, key, err)
		}
		return b, OpPut, nil
	})
}
