package metadata

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`)
	require.NoError(t, err)
	return db
}

func TestSetAndGet_Upsert(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, common.MetaFolderID, []byte("folder-1")))
	require.NoError(t, r.Set(ctx, common.MetaFolderID, []byte("folder-2")))

	v, err := r.Get(ctx, common.MetaFolderID)
	require.NoError(t, err)
	assert.Equal(t, []byte("folder-2"), v)
}

func TestGet_Absent_ReturnsNilNil(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	v, err := r.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSet_NilValueStoredAsEmpty(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", nil))
	m, err := r.List(ctx)
	require.NoError(t, err)
	_, ok := m["k"]
	assert.True(t, ok)
}

func TestDelete_IsIdempotent(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "x", []byte{0x01}))
	require.NoError(t, r.Delete(ctx, "x"))
	require.NoError(t, r.Delete(ctx, "x"))

	v, err := r.Get(ctx, "x")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestListAndClear(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "a", []byte{0xAA}))
	require.NoError(t, r.Set(ctx, "b", []byte{0xBB, 0xCC}))

	m, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": {0xAA}, "b": {0xBB, 0xCC}}, m)

	require.NoError(t, r.Clear(ctx))
	m, err = r.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestErrorsAreWrapped_AfterClose(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Close())

	_, err := r.Get(ctx, "k")
	require.ErrorContains(t, err, "failed to get metadata[k]")

	err = r.Set(ctx, "k", []byte("v"))
	require.ErrorContains(t, err, "failed to set metadata[k]")

	err = r.Delete(ctx, "k")
	require.ErrorContains(t, err, "failed to delete metadata[k]")

	err = r.Clear(ctx)
	require.ErrorContains(t, err, "failed to clear metadata")

	_, err = r.List(ctx)
	require.ErrorContains(t, err, "failed to list metadata")
}

func TestTypedHelpers(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	s, err := GetString(ctx, r, common.MetaLastBackupTime)
	require.NoError(t, err)
	assert.Equal(t, "", s)

	require.NoError(t, SetString(ctx, r, common.MetaLastBackupTime, "2025-01-01T00:00:00.000Z"))
	s, err = GetString(ctx, r, common.MetaLastBackupTime)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01T00:00:00.000Z", s)

	require.NoError(t, SetString(ctx, r, common.MetaLastBackupTime, ""))
	v, err := r.Get(ctx, common.MetaLastBackupTime)
	require.NoError(t, err)
	assert.Nil(t, v)

	type cred struct {
		AccessToken string `json:"accessToken"`
	}
	var c cred
	ok, err := GetJSON(ctx, r, common.MetaCredential, &c)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, r, common.MetaCredential, cred{AccessToken: "at"}))
	ok, err = GetJSON(ctx, r, common.MetaCredential, &c)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "at", c.AccessToken)

	require.NoError(t, r.Set(ctx, common.MetaCredential, []byte("{broken")))
	ok, err = GetJSON(ctx, r, common.MetaCredential, &c)
	assert.True(t, ok)
	require.Error(t, err)
}
