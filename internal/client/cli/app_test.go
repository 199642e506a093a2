package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/auth"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/config"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/models"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/services"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/store"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/dmitrijs2005/invoicekeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// ------------ helpers ------------

type memRemote struct {
	mu      sync.Mutex
	files   []remote.File
	content map[string][]byte
	seq     int
}

func newMemRemote() *memRemote { return &memRemote{content: map[string][]byte{}} }

func (m *memRemote) FolderName() string { return "InvoiceApp-dev" }

func (m *memRemote) List(context.Context) ([]remote.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]remote.File(nil), m.files...)
	remote.SortNewestFirst(out)
	return out, nil
}

func (m *memRemote) Upload(_ context.Context, name string, content []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("f%d", m.seq)
	m.files = append(m.files, remote.File{ID: id, Name: name, Size: int64(len(content)), ModifiedAt: time.Unix(int64(m.seq), 0)})
	m.content[id] = content
	return id, nil
}

func (m *memRemote) Download(_ context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.content[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return c, nil
}

func (m *memRemote) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.files {
		if f.ID == id {
			m.files = append(m.files[:i], m.files[i+1:]...)
			delete(m.content, id)
			return nil
		}
	}
	return common.ErrNotFound
}

func (m *memRemote) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

var storeSeq atomic.Int64

func bufioReader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

// newTestApp wires an App around an in-memory store and rem (which may be
// nil for a local-only setup).
func newTestApp(t *testing.T, rem remote.Store, input string) (*App, *bytes.Buffer) {
	t.Helper()
	ctx := context.Background()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	st, err := store.Open(ctx, fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, storeSeq.Add(1)))
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Backend = config.BackendS3
	if rem == nil {
		cfg.Backend = config.BackendNone
	}
	cfg.Sync.Debounce = time.Hour

	var out bytes.Buffer
	a := &App{
		config:    &cfg,
		log:       logging.Nop(),
		store:     st,
		remote:    rem,
		clientIDs: services.NewClientIDs(st, ""),
		reader:    bufioReader(input),
		out:       &out,
	}
	a.wireServices()
	t.Cleanup(func() {
		a.backup.Close()
		_ = st.Close()
	})
	return a, &out
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "data", "ik.db")
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Run(context.Background(), args, strings.NewReader(stdin), &out, &out)
	return out.String(), err
}

// ------------ App ------------

func TestApp_RecordCommands(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, nil, "")

	require.NoError(t, a.Put(ctx, "clients", `{"id":"c1","name":"Acme <Ltd>"}`))
	assert.Contains(t, out.String(), "Saved clients c1")

	out.Reset()
	require.NoError(t, a.List(ctx, "clients"))
	assert.Contains(t, out.String(), "c1")
	assert.Contains(t, out.String(), "Acme <Ltd>")

	out.Reset()
	require.NoError(t, a.Get(ctx, "clients", "c1"))
	assert.Contains(t, out.String(), `"name": "Acme <Ltd>"`)

	require.NoError(t, a.Delete(ctx, "clients", "c1"))
	require.ErrorContains(t, a.Delete(ctx, "clients", "c1"), "not found")
	require.ErrorContains(t, a.List(ctx, "vendors"), "unknown collection")
	require.Error(t, a.Put(ctx, "clients", `[1,2]`))
}

func TestApp_BackupPullRestore(t *testing.T) {
	ctx := context.Background()
	rem := newMemRemote()
	a, out := newTestApp(t, rem, "")

	require.NoError(t, a.Put(ctx, "invoices", `{"id":"i1","total":100}`))
	require.NoError(t, a.Backup(ctx))
	assert.Contains(t, out.String(), "Backed up as backup-")
	assert.False(t, a.backup.IsDirty())

	out.Reset()
	require.NoError(t, a.Backups(ctx))
	assert.Contains(t, out.String(), "f1")

	// a second device pulls the snapshot
	b, bout := newTestApp(t, rem, "")
	require.NoError(t, b.Put(ctx, "clients", `{"id":"mine"}`))
	require.NoError(t, b.Pull(ctx))
	assert.Contains(t, bout.String(), "Merged: 1 added, 0 updated")
	_, err := b.store.Get(ctx, models.Clients, "mine")
	require.NoError(t, err, "merge keeps local-only records")

	require.NoError(t, b.Restore(ctx, ""))
	_, err = b.store.Get(ctx, models.Clients, "mine")
	require.ErrorIs(t, err, common.ErrNotFound, "restore replaces local data")
	_, err = b.store.Get(ctx, models.Invoices, "i1")
	require.NoError(t, err)
}

func TestApp_Retention(t *testing.T) {
	ctx := context.Background()
	rem := newMemRemote()
	a, out := newTestApp(t, rem, "")
	for i := 0; i < 3; i++ {
		_, err := rem.Upload(ctx, fmt.Sprintf("backup-2025-01-0%dT00-00-00-000Z.json", i+1), []byte(`{}`))
		require.NoError(t, err)
	}

	require.NoError(t, a.Retention(ctx, false, 0))
	assert.Contains(t, out.String(), "Keeping the newest 10 backups.")

	out.Reset()
	require.NoError(t, a.Retention(ctx, true, 1))
	assert.Contains(t, out.String(), "Removed 2 old backups.")
	assert.Equal(t, 1, rem.count())

	out.Reset()
	require.NoError(t, a.Retention(ctx, true, 0))
	assert.Contains(t, out.String(), "Keeping all backups.")
	require.Error(t, a.Retention(ctx, true, -2))
}

func TestApp_CloseFlushesPendingWrites(t *testing.T) {
	ctx := context.Background()
	rem := newMemRemote()
	a, _ := newTestApp(t, rem, "")

	require.NoError(t, a.Put(ctx, "services", `{"name":"Consulting"}`))
	assert.Zero(t, rem.count(), "debounce has not elapsed")

	require.NoError(t, a.Close(ctx))
	assert.Equal(t, 1, rem.count())
}

func TestApp_ConnectNeedsTerminalForSignIn(t *testing.T) {
	orig := isTerminal
	isTerminal = func() bool { return false }
	t.Cleanup(func() { isTerminal = orig })

	a, _ := newTestApp(t, newMemRemote(), "")
	a.creds = auth.NewManager(a.store.Metadata(), nil, 0, logging.Nop())

	require.ErrorContains(t, a.Connect(context.Background()), "interactive terminal")
}

func TestApp_ConnectWithStaticCredentials(t *testing.T) {
	ctx := context.Background()
	rem := newMemRemote()
	_, err := rem.Upload(ctx, "backup-2025-01-01T00-00-00-000Z.json", []byte(`{}`))
	require.NoError(t, err)

	a, out := newTestApp(t, rem, "")
	require.NoError(t, a.Disconnect(ctx))
	assert.False(t, a.isConnected())

	require.NoError(t, a.Connect(ctx))
	assert.True(t, a.isConnected())
	assert.Contains(t, out.String(), "Connected to InvoiceApp-dev")
	assert.Contains(t, out.String(), "run 'pull'")
}

func TestApp_StatusAndPrompt(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, nil, "")

	require.NoError(t, a.Status(ctx))
	assert.Contains(t, out.String(), "Backend:")
	assert.Contains(t, out.String(), "none")
	assert.Contains(t, out.String(), "Last backup:")
	assert.Equal(t, "(local)", a.getStatus())

	b, _ := newTestApp(t, newMemRemote(), "")
	assert.Equal(t, "(s3 autosave)", b.getStatus())
	require.NoError(t, b.Put(ctx, "clients", `{}`))
	assert.Equal(t, "(s3 autosave*)", b.getStatus())
}

func TestApp_ClientID(t *testing.T) {
	ctx := context.Background()
	a, out := newTestApp(t, nil, "")

	require.NoError(t, a.ClientID(ctx, false, ""))
	assert.Contains(t, out.String(), "No OAuth client id configured.")

	out.Reset()
	require.NoError(t, a.ClientID(ctx, true, "abc.apps.example.com"))
	assert.Contains(t, out.String(), "abc.apps.example.com (manual)")

	a.clientIDs = services.NewClientIDs(a.store, "built.apps.example.com")
	out.Reset()
	require.NoError(t, a.ClientID(ctx, true, "other"))
	assert.Contains(t, out.String(), "built.apps.example.com (environment)")
	assert.Contains(t, out.String(), "takes precedence")
}

// ------------ cobra commands ------------

func TestRun_LocalRecordLifecycle(t *testing.T) {
	db := tempDB(t)

	out, err := run(t, "", "--backend", "none", "--db", db, "records", "put", "clients", `{"id":"c1","name":"Acme"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Saved clients c1")

	out, err = run(t, "", "--backend", "none", "--db", db, "records", "list", "clients")
	require.NoError(t, err)
	assert.Contains(t, out, "Acme")

	out, err = run(t, "", "--backend", "none", "--db", db, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Autosave:")

	_, err = run(t, "", "--backend", "none", "--db", db, "records", "get", "clients", "missing")
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = run(t, "", "--backend", "none", "--db", db, "backup")
	require.ErrorIs(t, err, common.ErrNotConfigured)
}

func TestRun_ExportImport(t *testing.T) {
	src := tempDB(t)
	_, err := run(t, "", "--backend", "none", "--db", src, "records", "put", "invoices", `{"id":"i1","number":"2025-001"}`)
	require.NoError(t, err)

	file := filepath.Join(t.TempDir(), "export.json")
	_, err = run(t, "", "--backend", "none", "--db", src, "export", file)
	require.NoError(t, err)
	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(content), `"version": 2`)

	dst := tempDB(t)
	out, err := run(t, string(content), "--backend", "none", "--db", dst, "import", "--merge")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported: 1 added, 0 updated")

	out, err = run(t, "", "--backend", "none", "--db", dst, "records", "get", "invoices", "i1")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-001")
}

func TestRun_Errors(t *testing.T) {
	_, err := run(t, "", "--backend", "ftp", "--db", tempDB(t), "status")
	require.ErrorContains(t, err, "unknown backend")

	_, err = run(t, "", "--backend", "none", "--db", tempDB(t), "retention", "many")
	require.ErrorContains(t, err, "invalid count")

	_, err = run(t, "", "--backend", "none", "--db", tempDB(t), "records", "put", "clients")
	require.Error(t, err)
}

func TestRun_Version(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Build version:")
}
