package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/models"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
)

type setting struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// Setting decodes the value of a user setting into v. It reports false when
// the setting is absent or holds null.
func (s *Store) Setting(ctx context.Context, key string, v any) (bool, error) {
	rec, err := s.Get(ctx, models.Settings, key)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var raw json.RawMessage
	ok, err := rec.Field("value", &raw)
	if err != nil || !ok || string(raw) == "null" {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("setting %s: %w", key, err)
	}
	return true, nil
}

// SetSetting stores a user setting. Settings are ordinary records, so the
// change is replicated like any other write.
func (s *Store) SetSetting(ctx context.Context, key string, value any) error {
	raw, err := models.Marshal(setting{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("setting %s: %w", key, err)
	}
	_, err = s.Put(ctx, models.Settings, raw)
	return err
}
