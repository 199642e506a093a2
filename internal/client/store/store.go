// Package store is the local record store: a SQLite database holding one
// table per entity collection plus the local-only metadata table.
//
// Ordinary writes go through Put and Delete, which stamp updatedAt and notify
// change observers (the autosave scheduler). Merge and restore use Exclusive,
// which blocks ordinary writes and runs in a single transaction without
// notifying anyone.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/migrations"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/models"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/repositories/records"
	"github.com/dmitrijs2005/invoicekeeper/internal/dbx"
	"github.com/dmitrijs2005/invoicekeeper/internal/timex"
	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
)

// ChangeFunc is called after every successful local write.
type ChangeFunc func(c models.Collection)

type Store struct {
	db *sql.DB

	// mu is held shared by ordinary writes and exclusively by merge/restore.
	mu sync.RWMutex

	obsMu     sync.Mutex
	observers []ChangeFunc

	meta metadata.Repository

	now   func() time.Time
	newID func() string
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	p, err := goose.NewProvider(goose.DialectSQLite3, db, migrations.Migrations)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Open opens (creating if needed) the SQLite database at dsn and migrates it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes SQLite access and keeps in-memory
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an already migrated database.
func New(db *sql.DB) *Store {
	return &Store{
		db:    db,
		meta:  metadata.NewSQLiteRepository(db),
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Metadata gives access to local-only sync state.
func (s *Store) Metadata() metadata.Repository {
	return s.meta
}

// OnChange registers fn to be called after each Put or Delete.
func (s *Store) OnChange(fn ChangeFunc) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Store) notify(c models.Collection) {
	s.obsMu.Lock()
	obs := append([]ChangeFunc(nil), s.observers...)
	s.obsMu.Unlock()
	for _, fn := range obs {
		fn(c)
	}
}

func (s *Store) repo(db dbx.DBTX, c models.Collection) records.Repository {
	return records.NewSQLiteRepository(db, c)
}

// GetAll returns every record of collection c.
func (s *Store) GetAll(ctx context.Context, c models.Collection) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo(s.db, c).GetAll(ctx)
}

// Get returns a single record or common.ErrNotFound.
func (s *Store) Get(ctx context.Context, c models.Collection, id string) (models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo(s.db, c).GetByID(ctx, id)
}

// Put stores raw (a JSON object) in collection c. A missing id is generated
// for id-keyed collections and updatedAt is always set to the current time.
func (s *Store) Put(ctx context.Context, c models.Collection, raw []byte) (models.Record, error) {
	in, err := models.DecodeRecord(c.KeyField, raw)
	if err != nil {
		return models.Record{}, fmt.Errorf("put %s: %w", c.Name, err)
	}
	id := in.ID
	if id == "" {
		if c.KeyField != "id" {
			return models.Record{}, fmt.Errorf("put %s: missing %s", c.Name, c.KeyField)
		}
		id = s.newID()
	}

	rec, err := models.Stamp(c.KeyField, in.Raw, id, timex.FormatISO(s.now()))
	if err != nil {
		return models.Record{}, fmt.Errorf("put %s: %w", c.Name, err)
	}

	s.mu.RLock()
	err = s.repo(s.db, c).Upsert(ctx, rec)
	s.mu.RUnlock()
	if err != nil {
		return models.Record{}, err
	}

	s.notify(c)
	return rec, nil
}

// Delete removes a record; missing ids yield common.ErrNotFound.
func (s *Store) Delete(ctx context.Context, c models.Collection, id string) error {
	s.mu.RLock()
	err := s.repo(s.db, c).DeleteByID(ctx, id)
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	s.notify(c)
	return nil
}

// ReadAll returns every collection keyed by snapshot name, read inside one
// transaction so the result is a consistent point-in-time view.
func (s *Store) ReadAll(ctx context.Context) (map[string][]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]models.Record, len(models.Collections()))
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, c := range models.Collections() {
			recs, err := s.repo(tx, c).GetAll(ctx)
			if err != nil {
				return err
			}
			out[c.Name] = recs
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Tx exposes per-collection repositories bound to an exclusive transaction.
type Tx struct {
	tx dbx.DBTX
}

// Records returns the repository for c inside the transaction.
func (t *Tx) Records(c models.Collection) records.Repository {
	return records.NewSQLiteRepository(t.tx, c)
}

// Exclusive runs fn in one transaction while ordinary writes are blocked.
// Nothing written through tx notifies change observers.
func (s *Store) Exclusive(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &Tx{tx: tx})
	})
}
