package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/auth"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/models"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/store"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/dmitrijs2005/invoicekeeper/internal/logging"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// memRemote is an in-memory remote.Store.
type memRemote struct {
	mu        sync.Mutex
	files     map[string]remote.File
	content   map[string][]byte
	nextID    int
	clock     time.Time
	uploadErr error
	deleteErr map[string]error
	uploads   int
	// block, when set, holds Upload until it is closed.
	block   chan struct{}
	started chan struct{}
}

func newMemRemote() *memRemote {
	return &memRemote{
		files:     map[string]remote.File{},
		content:   map[string][]byte{},
		clock:     time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		deleteErr: map[string]error{},
	}
}

func (m *memRemote) FolderName() string { return "InvoiceApp-test" }

func (m *memRemote) put(name string, content []byte) string {
	m.nextID++
	id := fmt.Sprintf("f%d", m.nextID)
	m.clock = m.clock.Add(time.Second)
	m.files[id] = remote.File{ID: id, Name: name, ModifiedAt: m.clock, Size: int64(len(content))}
	m.content[id] = content
	return id
}

func (m *memRemote) List(context.Context) ([]remote.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]remote.File, 0, len(m.files))
	for _, f := range m.files {
		out = append(out, f)
	}
	remote.SortNewestFirst(out)
	return out, nil
}

func (m *memRemote) Upload(_ context.Context, name string, content []byte) (string, error) {
	m.mu.Lock()
	block, started := m.block, m.started
	m.mu.Unlock()
	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.block, m.started = nil, nil
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	for _, f := range m.files {
		if f.Name == name {
			return "", fmt.Errorf("%s already exists", name)
		}
	}
	m.uploads++
	return m.put(name, content), nil
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
	if err := m.deleteErr[id]; err != nil {
		return err
	}
	delete(m.files, id)
	delete(m.content, id)
	return nil
}

func (m *memRemote) uploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

func (m *memRemote) names() []string {
	files, _ := m.List(context.Background())
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.Name)
	}
	return out
}

type fakeCreds struct {
	mu           sync.Mutex
	authorized   bool
	authorizeErr error
	interactive  int
}

func (c *fakeCreds) IsAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

func (c *fakeCreds) Authorize(_ context.Context, interactive bool) (auth.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if interactive {
		c.interactive++
	}
	if c.authorizeErr != nil {
		return auth.Credential{}, c.authorizeErr
	}
	c.authorized = true
	return auth.Credential{AccessToken: "at"}, nil
}

func (c *fakeCreds) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorized = false
	return nil
}

var storeSeq atomic.Int64

func openStore(t *testing.T) *store.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, storeSeq.Add(1))
	st, err := store.Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

type fixture struct {
	store  *store.Store
	remote *memRemote
	creds  *fakeCreds
	svc    *BackupService
}

func newFixture(t *testing.T, debounce time.Duration) *fixture {
	t.Helper()
	st := openStore(t)
	rem := newMemRemote()
	creds := &fakeCreds{authorized: true}
	log := logging.Nop()

	svc := NewBackupService(Deps{
		Store:     st,
		Remote:    rem,
		Creds:     creds,
		Retention: NewRetention(rem, st, common.DefaultMaxBackups, log),
		ClientIDs: NewClientIDs(st, ""),
		Backend:   "drive",
		Log:       log,
	}, Options{Debounce: debounce})
	t.Cleanup(svc.Close)

	// distinct, increasing snapshot names even for back-to-back pushes
	var clockMu sync.Mutex
	clock := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return &fixture{store: st, remote: rem, creds: creds, svc: svc}
}

func mustRec(t *testing.T, raw string) models.Record {
	t.Helper()
	r, err := models.DecodeRecord("id", []byte(raw))
	require.NoError(t, err)
	return r
}
