// Package services contains the sync engine of the invoicekeeper client:
// the autosave scheduler that pushes snapshots after local writes, the merge
// engine that applies remote snapshots, and the retention manager.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/auth"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/models"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/snapshot"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/store"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/dmitrijs2005/invoicekeeper/internal/logging"
	"github.com/dmitrijs2005/invoicekeeper/internal/timex"
)

const (
	DefaultDebounce    = 2 * time.Second
	defaultPushTimeout = 2 * time.Minute
)

// Credentials is what the sync engine needs from the credential manager.
// Backends with static credentials (S3) run without one.
type Credentials interface {
	IsAuthorized() bool
	Authorize(ctx context.Context, interactive bool) (auth.Credential, error)
	Invalidate(ctx context.Context) error
}

// Options tunes the autosave scheduler.
type Options struct {
	Debounce    time.Duration
	PushTimeout time.Duration
}

// PushResult describes a snapshot that was uploaded.
type PushResult struct {
	Name   string
	ID     string
	Pruned int
}

// Status is a point-in-time view of the sync engine.
type Status struct {
	Backend        string
	Folder         string
	Configured     bool
	ClientIDSource auth.ClientIDSource
	Authorized     bool
	Autosave       bool
	Dirty          bool
	LastBackup     string
	RetentionCount int
}

// BackupService is the sync engine: it owns the dirty flag, the debounce
// timer and the autosave switch, and pushes snapshots to the remote store.
type BackupService struct {
	store     *store.Store
	remote    remote.Store
	creds     Credentials
	merger    *Merger
	retention *Retention
	clientIDs *ClientIDs
	backend   string
	opts      Options
	log       logging.Logger
	now       func() time.Time

	mu         sync.Mutex
	dirty      bool
	generation uint64
	timer      *time.Timer
	autosave   bool
	closed     bool
	onAuthLost func(error)

	// pushMu keeps at most one push in flight.
	pushMu sync.Mutex
}

// Deps wires a BackupService. Remote may be nil when no backend is
// configured; Creds is nil for backends that need no authorization.
type Deps struct {
	Store     *store.Store
	Remote    remote.Store
	Creds     Credentials
	Retention *Retention
	ClientIDs *ClientIDs
	Backend   string
	Log       logging.Logger
}

func NewBackupService(d Deps, opts Options) *BackupService {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = defaultPushTimeout
	}
	log := d.Log.With("component", "autosave")
	s := &BackupService{
		store:     d.Store,
		remote:    d.Remote,
		creds:     d.Creds,
		merger:    NewMerger(d.Store, d.Log),
		retention: d.Retention,
		clientIDs: d.ClientIDs,
		backend:   d.Backend,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
	s.autosave = s.remote != nil && (s.creds == nil || s.creds.IsAuthorized())
	d.Store.OnChange(func(models.Collection) { s.MarkDirty() })
	return s
}

// OnAuthLost registers the callback invoked when autosave is disabled by an
// authorization failure.
func (s *BackupService) OnAuthLost(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAuthLost = fn
}

// MarkDirty records a local write and (re)starts the debounce timer, so a
// burst of writes results in a single push.
func (s *BackupService) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dirty = true
	s.generation++
	if !s.autosave || s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.opts.Debounce, s.onTimerFire)
}

// IsDirty reports whether local writes have not been pushed yet.
func (s *BackupService) IsDirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// AutosaveEnabled reports whether local writes schedule pushes.
func (s *BackupService) AutosaveEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autosave
}

func (s *BackupService) onTimerFire() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PushTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(ctx, "autosave panicked", "panic", r)
		}
	}()

	s.mu.Lock()
	run := s.dirty && s.autosave && !s.closed
	s.mu.Unlock()
	if !run {
		return
	}

	res, err := s.push(ctx)
	if err != nil {
		s.handlePushError(ctx, err)
		return
	}
	s.log.Info(ctx, "autosave pushed", "name", res.Name, "pruned", res.Pruned)
}

// BackupNow pushes a snapshot regardless of the dirty flag.
func (s *BackupService) BackupNow(ctx context.Context) (PushResult, error) {
	res, err := s.push(ctx)
	if err != nil {
		s.handlePushError(ctx, err)
		return PushResult{}, err
	}
	return res, nil
}

// Flush cancels the pending timer and pushes if there are unpushed writes
// and autosave is on. It is called before the process exits.
func (s *BackupService) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	run := s.dirty && s.autosave
	s.mu.Unlock()
	if !run {
		return nil
	}

	if _, err := s.push(ctx); err != nil {
		s.handlePushError(ctx, err)
		return err
	}
	return nil
}

func (s *BackupService) push(ctx context.Context) (PushResult, error) {
	if s.remote == nil {
		return PushResult{}, common.ErrNotConfigured
	}

	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	collections, err := s.store.ReadAll(ctx)
	if err != nil {
		return PushResult{}, fmt.Errorf("read local data: %w", err)
	}
	now := s.now()
	content, err := snapshot.Serialize(snapshot.New(now, collections))
	if err != nil {
		return PushResult{}, err
	}

	name := snapshot.FileName(now)
	ctx = logging.ContextWith(ctx, "snapshot", name)
	id, err := s.remote.Upload(ctx, name, content)
	if err != nil {
		return PushResult{}, fmt.Errorf("push: %w", err)
	}

	s.mu.Lock()
	// writes that arrived during the upload keep the flag set
	if s.generation == gen {
		s.dirty = false
	}
	s.mu.Unlock()

	if err := metadata.SetString(ctx, s.store.Metadata(), common.MetaLastBackupTime, timex.FormatISO(now)); err != nil {
		s.log.Warn(ctx, "failed to record backup time", "err", err)
	}

	res := PushResult{Name: name, ID: id}
	res.Pruned = s.prune(ctx)
	return res, nil
}

// prune enforces retention after a successful push. Failures are logged only.
func (s *BackupService) prune(ctx context.Context) int {
	if s.retention == nil {
		return 0
	}
	n, err := s.retention.Count(ctx)
	if err != nil {
		s.log.Warn(ctx, "failed to read retention setting", "err", err)
	}
	deleted, err := s.retention.Prune(ctx, n)
	if err != nil {
		s.log.Warn(ctx, "retention failed", "err", err)
	}
	return deleted
}

func (s *BackupService) handlePushError(ctx context.Context, err error) {
	s.log.Error(ctx, "backup failed", "err", err)
	if !errors.Is(err, common.ErrAuthRequired) {
		return
	}

	s.mu.Lock()
	wasOn := s.autosave
	s.autosave = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	cb := s.onAuthLost
	s.mu.Unlock()

	if wasOn {
		s.log.Warn(ctx, "autosave disabled until the user signs in again")
	}
	if cb != nil {
		cb(fmt.Errorf("%w: %v", common.ErrAutosaveDisabled, err))
	}
}

// Connect authorizes interactively (when the backend needs it) and turns
// autosave on. Pending writes are scheduled right away.
func (s *BackupService) Connect(ctx context.Context) error {
	if s.remote == nil {
		return common.ErrNotConfigured
	}
	if s.creds != nil {
		if _, err := s.creds.Authorize(ctx, true); err != nil {
			return err
		}
	} else if _, err := s.remote.List(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	s.mu.Lock()
	s.autosave = true
	if s.dirty && !s.closed {
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timer = time.AfterFunc(s.opts.Debounce, s.onTimerFire)
	}
	s.mu.Unlock()

	s.log.Info(ctx, "connected", "folder", s.remote.FolderName())
	return nil
}

// Disconnect signs out and turns autosave off.
func (s *BackupService) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.autosave = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if s.creds != nil {
		return s.creds.Invalidate(ctx)
	}
	return nil
}

// Status reports configuration and sync state.
func (s *BackupService) Status(ctx context.Context) (Status, error) {
	st := Status{Backend: s.backend, Configured: s.remote != nil}
	if s.remote != nil {
		st.Folder = s.remote.FolderName()
	}
	if s.clientIDs != nil {
		_, src, err := s.clientIDs.Resolve(ctx)
		if err != nil {
			return Status{}, err
		}
		st.ClientIDSource = src
	}
	st.Authorized = s.remote != nil && (s.creds == nil || s.creds.IsAuthorized())

	s.mu.Lock()
	st.Autosave = s.autosave
	st.Dirty = s.dirty
	s.mu.Unlock()

	last, err := metadata.GetString(ctx, s.store.Metadata(), common.MetaLastBackupTime)
	if err != nil {
		return Status{}, err
	}
	st.LastBackup = last

	if s.retention != nil {
		n, err := s.retention.Count(ctx)
		if err != nil {
			return Status{}, err
		}
		st.RetentionCount = n
	}
	return st, nil
}

// Close stops the timer; pending writes are not pushed (see Flush).
func (s *BackupService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
