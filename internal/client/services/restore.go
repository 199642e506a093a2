package services

import (
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/remote"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/snapshot"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
)

// Backups lists remote snapshots (files following the naming convention),
// newest first.
func (s *BackupService) Backups(ctx context.Context) ([]remote.File, error) {
	if s.remote == nil {
		return nil, common.ErrNotConfigured
	}
	files, err := s.remote.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]remote.File, 0, len(files))
	for _, f := range files {
		if snapshot.IsSnapshotName(f.Name) {
			out = append(out, f)
		}
	}
	return out, nil
}

// HasBackups reports whether at least one remote snapshot exists.
func (s *BackupService) HasBackups(ctx context.Context) (bool, error) {
	files, err := s.Backups(ctx)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

func (s *BackupService) latest(ctx context.Context) (remote.File, error) {
	files, err := s.Backups(ctx)
	if err != nil {
		return remote.File{}, err
	}
	if len(files) == 0 {
		return remote.File{}, fmt.Errorf("no backups: %w", common.ErrNotFound)
	}
	// names order chronologically, independent of provider timestamps
	newest := files[0]
	for _, f := range files[1:] {
		if f.Name > newest.Name {
			newest = f
		}
	}
	return newest, nil
}

func (s *BackupService) fetch(ctx context.Context, id string) (snapshot.Snapshot, error) {
	content, err := s.remote.Download(ctx, id)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	snap, err := snapshot.Parse(content)
	if err != nil {
		return snapshot.Snapshot{}, err
	}
	return snap, nil
}

// MergeLatest merges the newest remote snapshot into the local store.
func (s *BackupService) MergeLatest(ctx context.Context) (MergeSummary, error) {
	f, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	return s.Restore(ctx, f.ID, true)
}

// RestoreLatest replaces local data with the newest remote snapshot.
func (s *BackupService) RestoreLatest(ctx context.Context) (MergeSummary, error) {
	f, err := s.latest(ctx)
	if err != nil {
		return nil, err
	}
	return s.Restore(ctx, f.ID, false)
}

// Restore applies the remote snapshot id, merging or replacing local data.
// Malformed snapshots are rejected before anything is written.
func (s *BackupService) Restore(ctx context.Context, id string, merge bool) (MergeSummary, error) {
	if s.remote == nil {
		return nil, common.ErrNotConfigured
	}
	snap, err := s.fetch(ctx, id)
	if err != nil {
		s.log.Error(ctx, "restore failed", "id", id, "err", err)
		return nil, err
	}
	return s.apply(ctx, snap, merge)
}

func (s *BackupService) apply(ctx context.Context, snap snapshot.Snapshot, merge bool) (MergeSummary, error) {
	if merge {
		return s.merger.MergeAll(ctx, snap)
	}
	return s.merger.RestoreFull(ctx, snap)
}

// Import reads a snapshot document from r and merges or restores it.
func (s *BackupService) Import(ctx context.Context, r io.Reader, merge bool) (MergeSummary, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	snap, err := snapshot.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	return s.apply(ctx, snap, merge)
}

// Export writes a snapshot of the local store to w.
func (s *BackupService) Export(ctx context.Context, w io.Writer) error {
	collections, err := s.store.ReadAll(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	content, err := snapshot.Serialize(snapshot.New(s.now(), collections))
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
