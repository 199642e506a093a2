package services

import (
	"context"
	"strings"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/auth"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/store"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
)

// ClientIDs resolves the OAuth client id. A build-time id always wins over
// the one stored in the user settings.
type ClientIDs struct {
	store   *store.Store
	buildID string
}

func NewClientIDs(st *store.Store, buildID string) *ClientIDs {
	return &ClientIDs{store: st, buildID: buildID}
}

// Resolve returns the effective id and where it came from.
func (c *ClientIDs) Resolve(ctx context.Context) (string, auth.ClientIDSource, error) {
	var manual string
	if _, err := c.store.Setting(ctx, common.SettingOAuthClientID, &manual); err != nil {
		return "", auth.SourceNone, err
	}
	id, src := auth.ResolveClientID(c.buildID, manual)
	return id, src, nil
}

// ID satisfies auth.ClientIDFunc.
func (c *ClientIDs) ID(ctx context.Context) (string, error) {
	id, _, err := c.Resolve(ctx)
	return id, err
}

// SetManual stores a user-entered client id; an empty id clears it.
func (c *ClientIDs) SetManual(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return c.store.SetSetting(ctx, common.SettingOAuthClientID, nil)
	}
	return c.store.SetSetting(ctx, common.SettingOAuthClientID, id)
}
