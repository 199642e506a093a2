package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/snapshot"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/store"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/dmitrijs2005/invoicekeeper/internal/logging"
)

// Retention bounds the number of snapshots kept remotely.
type Retention struct {
	remote   remote.Store
	store    *store.Store
	fallback int
	log      logging.Logger
}

// NewRetention returns a manager whose cap comes from the maxBackups setting,
// or fallback when the setting is absent.
func NewRetention(r remote.Store, st *store.Store, fallback int, log logging.Logger) *Retention {
	return &Retention{remote: r, store: st, fallback: fallback, log: log.With("component", "retention")}
}

// Count returns the configured cap; 0 means unlimited.
func (r *Retention) Count(ctx context.Context) (int, error) {
	var n int
	ok, err := r.store.Setting(ctx, common.SettingMaxBackups, &n)
	if err != nil {
		return r.fallback, err
	}
	if !ok || n < 0 {
		return r.fallback, nil
	}
	return n, nil
}

// SetCount stores the cap in the user settings.
func (r *Retention) SetCount(ctx context.Context, n int) error {
	if n < 0 {
		return fmt.Errorf("retention must be >= 0, got %d", n)
	}
	return r.store.SetSetting(ctx, common.SettingMaxBackups, n)
}

// Prune deletes all but the newest maxKept snapshots, judged by name. Files
// not following the snapshot naming convention are ignored. maxKept 0 keeps
// everything. Individual delete failures do not stop the pass.
func (r *Retention) Prune(ctx context.Context, maxKept int) (int, error) {
	if maxKept <= 0 {
		return 0, nil
	}

	files, err := r.remote.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}

	var snaps []remote.File
	for _, f := range files {
		if snapshot.IsSnapshotName(f.Name) {
			snaps = append(snaps, f)
		}
	}
	if len(snaps) <= maxKept {
		return 0, nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name < snaps[j].Name })

	var (
		deleted int
		errs    []error
	)
	for _, f := range snaps[:len(snaps)-maxKept] {
		if err := r.remote.Delete(ctx, f.ID); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", f.Name, err))
			continue
		}
		deleted++
		r.log.Debug(ctx, "pruned snapshot", "name", f.Name)
	}
	return deleted, errors.Join(errs...)
}
