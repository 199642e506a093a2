package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/models"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/snapshot"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/store"
	"github.com/dmitrijs2005/invoicekeeper/internal/logging"
	"github.com/dmitrijs2005/invoicekeeper/internal/timex"
)

// MergeResult counts what a merge did to one collection.
type MergeResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	// Skipped counts remote records without an identity.
	Skipped int `json:"skipped,omitempty"`
}

// MergeSummary holds per-collection results keyed by collection name.
type MergeSummary map[string]MergeResult

// Total sums all collections.
func (s MergeSummary) Total() MergeResult {
	var t MergeResult
	for _, r := range s {
		t.Added += r.Added
		t.Updated += r.Updated
		t.Skipped += r.Skipped
	}
	return t
}

func (s MergeSummary) String() string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		r := s[n]
		parts = append(parts, fmt.Sprintf("%s: +%d ~%d", n, r.Added, r.Updated))
	}
	return strings.Join(parts, ", ")
}

// remoteWins implements last-writer-wins: the remote copy replaces the
// local one only when its updatedAt is strictly newer, or when the local
// copy has no usable timestamp. Ties keep the local copy.
func remoteWins(local, remote models.Record) bool {
	lt, lok := timex.ParseISO(local.UpdatedAt)
	if !lok {
		return true
	}
	rt, rok := timex.ParseISO(remote.UpdatedAt)
	if !rok {
		return false
	}
	return rt.After(lt)
}

// MergeCollection decides which remote records must be written locally.
// It never returns a deletion: records only present locally stay untouched.
func MergeCollection(local, remote []models.Record) ([]models.Record, MergeResult) {
	index := make(map[string]models.Record, len(local))
	for _, r := range local {
		index[r.ID] = r
	}

	var (
		writes []models.Record
		res    MergeResult
	)
	for _, r := range remote {
		if r.ID == "" {
			res.Skipped++
			continue
		}
		l, ok := index[r.ID]
		switch {
		case !ok:
			writes = append(writes, r)
			res.Added++
		case remoteWins(l, r):
			writes = append(writes, r)
			res.Updated++
		default:
			continue
		}
		// a later duplicate in the same snapshot compares against this one
		index[r.ID] = r
	}
	return writes, res
}

// Merger applies snapshots to the local store. Its writes go through an
// exclusive transaction and never mark the store dirty.
type Merger struct {
	store *store.Store
	log   logging.Logger
}

func NewMerger(st *store.Store, log logging.Logger) *Merger {
	return &Merger{store: st, log: log}
}

// MergeAll merges every collection of s into the local store.
func (m *Merger) MergeAll(ctx context.Context, s snapshot.Snapshot) (MergeSummary, error) {
	summary := MergeSummary{}
	err := m.store.Exclusive(ctx, func(ctx context.Context, tx *store.Tx) error {
		for _, c := range models.Collections() {
			repo := tx.Records(c)
			local, err := repo.GetAll(ctx)
			if err != nil {
				return err
			}
			writes, res := MergeCollection(local, s.Records(c))
			for _, r := range writes {
				if err := repo.Upsert(ctx, r); err != nil {
					return err
				}
			}
			summary[c.Name] = res
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("merge: %w", err)
	}
	m.log.Info(ctx, "merge applied", "summary", summary.String())
	return summary, nil
}

// RestoreFull replaces every local collection with the snapshot contents.
func (m *Merger) RestoreFull(ctx context.Context, s snapshot.Snapshot) (MergeSummary, error) {
	summary := MergeSummary{}
	err := m.store.Exclusive(ctx, func(ctx context.Context, tx *store.Tx) error {
		for _, c := range models.Collections() {
			repo := tx.Records(c)
			if err := repo.Clear(ctx); err != nil {
				return err
			}
			var res MergeResult
			for _, r := range s.Records(c) {
				if r.ID == "" {
					res.Skipped++
					continue
				}
				if err := repo.Upsert(ctx, r); err != nil {
					return err
				}
				res.Added++
			}
			summary[c.Name] = res
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	m.log.Info(ctx, "restore applied", "records", summary.Total().Added)
	return summary, nil
}
