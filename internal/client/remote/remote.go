// Package remote defines the backup store abstraction shared by the Google
// Drive and S3 backends.
package remote

import (
	"context"
	"sort"
	"time"
)

// File is a snapshot stored remotely.
type File struct {
	ID         string
	Name       string
	ModifiedAt time.Time
	Size       int64
}

// Store is an application-scoped folder of snapshot files. The folder is
// resolved lazily on first use.
type Store interface {
	// List returns every file in the folder, newest first by modification time.
	List(ctx context.Context) ([]File, error)
	// Upload creates a new file and returns its id. Existing files are never
	// overwritten.
	Upload(ctx context.Context, name string, content []byte) (string, error)
	Download(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	// FolderName is the human readable folder (or bucket/prefix) name.
	FolderName() string
}

// SortNewestFirst orders files by modification time, newest first, falling
// back to name order for equal times.
func SortNewestFirst(files []File) {
	sort.SliceStable(files, func(i, j int) bool {
		if !files[i].ModifiedAt.Equal(files[j].ModifiedAt) {
			return files[i].ModifiedAt.After(files[j].ModifiedAt)
		}
		return files[i].Name > files[j].Name
	})
}
