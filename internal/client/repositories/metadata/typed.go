package metadata

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetString reads a UTF-8 value; absent keys yield "".
func GetString(ctx context.Context, r Repository, key string) (string, error) {
	v, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// SetString stores s, or deletes the key when s is empty.
func SetString(ctx context.Context, r Repository, key, s string) error {
	if s == "" {
		return r.Delete(ctx, key)
	}
	return r.Set(ctx, key, []byte(s))
}

// GetJSON decodes the stored value into v. It reports false when the key is
// absent.
func GetJSON(ctx context.Context, r Repository, key string, v any) (bool, error) {
	raw, err := r.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode metadata[%s]: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, r Repository, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode metadata[%s]: %w", key, err)
	}
	return r.Set(ctx, key, raw)
}
