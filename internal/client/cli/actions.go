package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/invoicekeeper/internal/client/auth"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/config"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/models"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/services"
	"github.com/dmitrijs2005/invoicekeeper/internal/common"
	"github.com/dmitrijs2005/invoicekeeper/internal/filex"
)

func (a *App) isConnected() bool {
	return a.backup.AutosaveEnabled()
}

func (a *App) getStatus() string {
	if a.remote == nil {
		return "(local)"
	}
	state := "offline"
	if a.isConnected() {
		state = "autosave"
	}
	if a.backup.IsDirty() {
		state += "*"
	}
	return fmt.Sprintf("(%s %s)", a.config.Backend, state)
}

func (a *App) Status(ctx context.Context) error {
	st, err := a.backup.Status(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Backend:\t%s\n", st.Backend)
	if st.Configured {
		fmt.Fprintf(w, "Folder:\t%s\n", st.Folder)
	}
	if st.Backend == config.BackendDrive {
		src := string(st.ClientIDSource)
		if src == "" {
			src = "not set"
		}
		fmt.Fprintf(w, "Client ID:\t%s\n", src)
	}
	fmt.Fprintf(w, "Authorized:\t%t\n", st.Authorized)
	fmt.Fprintf(w, "Autosave:\t%t\n", st.Autosave)
	fmt.Fprintf(w, "Unsaved changes:\t%t\n", st.Dirty)
	last := st.LastBackup
	if last == "" {
		last = "never"
	}
	fmt.Fprintf(w, "Last backup:\t%s\n", last)
	keep := fmt.Sprint(st.RetentionCount)
	if st.RetentionCount == 0 {
		keep = "unlimited"
	}
	fmt.Fprintf(w, "Backups kept:\t%s\n", keep)
	return w.Flush()
}

func (a *App) Connect(ctx context.Context) error {
	if a.creds != nil && !isTerminal() {
		return errors.New("signing in needs an interactive terminal")
	}
	if err := a.backup.Connect(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Connected to %s\n", a.remote.FolderName())

	has, err := a.backup.HasBackups(ctx)
	if err != nil {
		return err
	}
	if has {
		fmt.Fprintln(a.out, "Remote backups exist; run 'pull' to merge the latest one.")
	}
	return nil
}

func (a *App) Disconnect(ctx context.Context) error {
	if err := a.backup.Disconnect(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Disconnected; autosave is off.")
	return nil
}

func (a *App) Backup(ctx context.Context) error {
	res, err := a.backup.BackupNow(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Backed up as %s", res.Name)
	if res.Pruned > 0 {
		fmt.Fprintf(a.out, " (%d old backups removed)", res.Pruned)
	}
	fmt.Fprintln(a.out)
	return nil
}

func (a *App) Backups(ctx context.Context) error {
	files, err := a.backup.Backups(ctx)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(a.out, "No backups.")
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%d\n", f.ID, f.Name, f.Size)
	}
	return w.Flush()
}

func (a *App) Pull(ctx context.Context) error {
	summary, err := a.backup.MergeLatest(ctx)
	if err != nil {
		return err
	}
	t := summary.Total()
	fmt.Fprintf(a.out, "Merged: %d added, %d updated (%s)\n", t.Added, t.Updated, summary)
	return nil
}

// Restore replaces local data with backup id, or the latest when id is empty.
func (a *App) Restore(ctx context.Context, id string) error {
	var (
		summary services.MergeSummary
		err     error
	)
	if id == "" {
		summary, err = a.backup.RestoreLatest(ctx)
	} else {
		summary, err = a.backup.Restore(ctx, id, false)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Restored %d records\n", summary.Total().Added)
	return nil
}

func (a *App) Export(ctx context.Context, path string) error {
	if path == "" || path == "-" {
		return a.backup.Export(ctx, a.out)
	}
	return filex.WriteFileAtomic(path, func(w io.Writer) error {
		return a.backup.Export(ctx, w)
	})
}

func (a *App) Import(ctx context.Context, path string, merge bool) error {
	var r io.Reader = a.reader
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	summary, err := a.backup.Import(ctx, r, merge)
	if err != nil {
		return err
	}
	t := summary.Total()
	fmt.Fprintf(a.out, "Imported: %d added, %d updated\n", t.Added, t.Updated)
	return nil
}

// ClientID shows the effective OAuth client id, or stores a manual one.
func (a *App) ClientID(ctx context.Context, set bool, id string) error {
	if set {
		if err := a.clientIDs.SetManual(ctx, id); err != nil {
			return err
		}
	}
	cur, src, err := a.clientIDs.Resolve(ctx)
	if err != nil {
		return err
	}
	if cur == "" {
		fmt.Fprintln(a.out, "No OAuth client id configured.")
		return nil
	}
	fmt.Fprintf(a.out, "%s (%s)\n", cur, src)
	if set && src == auth.SourceEnvironment {
		fmt.Fprintln(a.out, "Note: the build-time client id takes precedence over the stored one.")
	}
	return nil
}

// Retention shows the cap, or sets it and prunes right away.
func (a *App) Retention(ctx context.Context, set bool, n int) error {
	if set {
		if err := a.retention.SetCount(ctx, n); err != nil {
			return err
		}
	}
	cur, err := a.retention.Count(ctx)
	if err != nil {
		return err
	}
	if cur == 0 {
		fmt.Fprintln(a.out, "Keeping all backups.")
	} else {
		fmt.Fprintf(a.out, "Keeping the newest %d backups.\n", cur)
	}
	if set && a.remote != nil && a.isConnected() {
		deleted, err := a.retention.Prune(ctx, cur)
		if deleted > 0 {
			fmt.Fprintf(a.out, "Removed %d old backups.\n", deleted)
		}
		return err
	}
	return nil
}

func collection(name string) (models.Collection, error) {
	c, ok := models.CollectionByName(name)
	if !ok {
		names := make([]string, 0, len(models.Collections()))
		for _, c := range models.Collections() {
			names = append(names, c.Name)
		}
		return models.Collection{}, fmt.Errorf("unknown collection %q (want one of %s)", name, strings.Join(names, ", "))
	}
	return c, nil
}

func (a *App) List(ctx context.Context, name string) error {
	c, err := collection(name)
	if err != nil {
		return err
	}
	recs, err := a.store.GetAll(ctx, c)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintf(a.out, "No %s.\n", c.Name)
		return nil
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\tUPDATED\tDATA\n", strings.ToUpper(c.KeyField))
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.UpdatedAt, r.Raw)
	}
	return w.Flush()
}

func (a *App) Get(ctx context.Context, name, id string) error {
	c, err := collection(name)
	if err != nil {
		return err
	}
	r, err := a.store.Get(ctx, c, id)
	if err != nil {
		return err
	}
	return printJSON(a.out, r.Raw)
}

func (a *App) Put(ctx context.Context, name, raw string) error {
	c, err := collection(name)
	if err != nil {
		return err
	}
	r, err := a.store.Put(ctx, c, []byte(raw))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s %s\n", c.Name, r.ID)
	return nil
}

func (a *App) Delete(ctx context.Context, name, id string) error {
	c, err := collection(name)
	if err != nil {
		return err
	}
	if err := a.store.Delete(ctx, c, id); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("%s %s not found", c.Name, id)
		}
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s %s\n", c.Name, id)
	return nil
}

func printJSON(w io.Writer, raw []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
