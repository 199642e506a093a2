package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/auth"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/config"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote/drive"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote/s3store"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/services"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/store"
	"github.com/dmitrijs2005/invoicekeeper/internal/filex"
	"github.com/dmitrijs2005/invoicekeeper/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/term"
)

const flushTimeout = 30 * time.Second

// isTerminal is a test seam for term.IsTerminal on stdin.
var isTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// App holds the wired client for the lifetime of one command.
type App struct {
	config    *config.Config
	log       logging.Logger
	closeLog  func() error
	store     *store.Store
	creds     *auth.Manager
	remote    remote.Store
	backup    *services.BackupService
	retention *services.Retention
	clientIDs *services.ClientIDs
	reader    *bufio.Reader
	out       io.Writer
}

// NewApp opens the local store and wires the backend selected by cfg.
func NewApp(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) (*App, error) {
	log, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	log = log.With("run", uuid.NewString())

	if err := filex.EnsureParentDir(cfg.DatabasePath); err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		log.Error(ctx, "error initializing database", "err", err)
		_ = closeLog()
		return nil, err
	}

	a := &App{
		config:    cfg,
		log:       log,
		closeLog:  closeLog,
		store:     st,
		clientIDs: services.NewClientIDs(st, cfg.BuildClientID()),
		reader:    bufio.NewReader(in),
		out:       out,
	}
	if err := a.wireBackend(ctx); err != nil {
		_ = st.Close()
		_ = closeLog()
		return nil, err
	}
	a.wireServices()
	return a, nil
}

func (a *App) wireBackend(ctx context.Context) error {
	cfg := a.config
	switch cfg.Backend {
	case config.BackendDrive:
		authz := auth.NewOAuth2Authorizer(a.clientIDs.ID, auth.OAuth2Options{
			AuthURL:       cfg.OAuth.AuthURL,
			TokenURL:      cfg.OAuth.TokenURL,
			DeviceAuthURL: cfg.OAuth.DeviceAuthURL,
			ClientSecret:  cfg.OAuth.ClientSecret,
			Scopes:        []string{drive.Scope},
			Prompt:        a.showDeviceCode,
		})
		a.creds = auth.NewManager(a.store.Metadata(), authz, cfg.Sync.RenewalLookahead, a.log)
		if err := a.creds.Load(ctx); err != nil {
			return err
		}
		dc := drive.New(a.creds, a.store.Metadata(), drive.Options{
			BaseURL:    cfg.Drive.BaseURL,
			UploadURL:  cfg.Drive.UploadURL,
			FolderName: drive.FolderNameFor(cfg.Environment),
			MaxRetries: cfg.Drive.MaxRetries,
			RetryBase:  cfg.Drive.RetryBase,
		}, a.log)
		a.creds.OnInvalidate(dc.ResetFolder)
		a.remote = dc

	case config.BackendS3:
		s, err := s3store.New(ctx, cfg.S3, a.store.Metadata(), a.log)
		if err != nil {
			return err
		}
		a.remote = s
	}
	return nil
}

func (a *App) wireServices() {
	a.retention = services.NewRetention(a.remote, a.store, a.config.Sync.RetentionCount, a.log)

	deps := services.Deps{
		Store:     a.store,
		Remote:    a.remote,
		Retention: a.retention,
		ClientIDs: a.clientIDs,
		Backend:   a.config.Backend,
		Log:       a.log,
	}
	// a nil *auth.Manager must not become a non-nil interface
	if a.creds != nil {
		deps.Creds = a.creds
	}
	a.backup = services.NewBackupService(deps, services.Options{Debounce: a.config.Sync.Debounce})
	a.backup.OnAuthLost(func(err error) {
		fmt.Fprintf(a.out, "%v\nRun 'invoicekeeper connect' to sign in again.\n", err)
	})
}

func (a *App) showDeviceCode(url, code string) {
	fmt.Fprintf(a.out, "To connect, open %s and enter the code %s\n", url, code)
}

// Close pushes pending writes and releases resources.
func (a *App) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	err := a.backup.Flush(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "Pending changes were not backed up: %v\n", err)
	}
	a.backup.Close()
	if cerr := a.store.Close(); cerr != nil {
		a.log.Error(ctx, "failed to close database", "err", cerr)
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
	return err
}
