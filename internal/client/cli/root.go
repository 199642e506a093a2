package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/dmitrijs2005/invoicekeeper/internal/buildinfo"
	"github.com/dmitrijs2005/invoicekeeper/internal/client/config"
	"github.com/spf13/cobra"
)

// newApp is a test seam for NewApp.
var newApp = NewApp

type appKey struct{}

func appFrom(cmd *cobra.Command) *App {
	return cmd.Context().Value(appKey{}).(*App)
}

// NewRootCommand builds the invoicekeeper command tree. The App created for
// the executed command is stored in *app so the caller can close it.
func NewRootCommand(app **App) *cobra.Command {
	root := &cobra.Command{
		Use:           "invoicekeeper",
		Short:         "Local invoicing records with cloud backup",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			*app = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		versionCmd(),
		simpleCmd("status", "Show backend, authorization and autosave state", (*App).Status),
		simpleCmd("connect", "Sign in to the remote backend and enable autosave", (*App).Connect),
		simpleCmd("disconnect", "Sign out and disable autosave", (*App).Disconnect),
		simpleCmd("backup", "Push a snapshot now", (*App).Backup),
		simpleCmd("backups", "List remote snapshots, newest first", (*App).Backups),
		simpleCmd("pull", "Merge the latest remote snapshot into local data", (*App).Pull),
		restoreCmd(),
		exportCmd(),
		importCmd(),
		clientIDCmd(),
		retentionCmd(),
		recordsCmd(),
		shellCmd(),
	)
	return root
}

// Run executes args and closes the App afterwards, also when the command
// failed, so pending writes are flushed before the process exits.
func Run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	var app *App
	root := NewRootCommand(&app)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	err := root.ExecuteContext(ctx)
	if app != nil {
		// a failed flush is reported by Close and does not fail the command
		_ = app.Close(context.WithoutCancel(ctx))
	}
	return err
}

func simpleCmd(use, short string, fn func(*App, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fn(appFrom(cmd), cmd.Context())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		// no App needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			buildinfo.PrintBuildData(cmd.OutOrStdout())
		},
	}
}

func restoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore [backup-id]",
		Short: "Replace local data with a remote snapshot (the latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return appFrom(cmd).Restore(cmd.Context(), id)
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write a snapshot of local data to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return appFrom(cmd).Export(cmd.Context(), path)
		},
	}
}

func importCmd() *cobra.Command {
	var merge bool
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Load a snapshot from a file or stdin, replacing local data",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return appFrom(cmd).Import(cmd.Context(), path, merge)
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", false, "merge by last-writer-wins instead of replacing")
	return cmd
}

func clientIDCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "client-id [id]",
		Short: "Show or set the OAuth client id used to sign in",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			switch {
			case clear:
				return a.ClientID(cmd.Context(), true, "")
			case len(args) == 1:
				return a.ClientID(cmd.Context(), true, args[0])
			default:
				return a.ClientID(cmd.Context(), false, "")
			}
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "remove the stored client id")
	return cmd
}

func retentionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retention [count]",
		Short: "Show or set how many remote backups are kept (0 = all)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if len(args) == 0 {
				return a.Retention(cmd.Context(), false, 0)
			}
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid count %q", args[0])
			}
			return a.Retention(cmd.Context(), true, n)
		},
	}
}

func recordsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "records",
		Aliases: []string{"r"},
		Short:   "Read and write local records",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <collection>",
			Short: "List the records of a collection",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return appFrom(cmd).List(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "get <collection> <id>",
			Short: "Print one record",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return appFrom(cmd).Get(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "put <collection> <json>",
			Short: "Create or replace a record; a missing id is generated",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return appFrom(cmd).Put(cmd.Context(), args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "delete <collection> <id>",
			Short: "Delete a record",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return appFrom(cmd).Delete(cmd.Context(), args[0], args[1])
			},
		},
	)
	return cmd
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session; autosave runs between commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			printlnFn("invoicekeeper shell (type 'help' for commands)")
			runREPL(cmd.Context(), a, a.getStatus, bufio.NewScanner(a.reader))
			return nil
		},
	}
}
