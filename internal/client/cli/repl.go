package cli

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isConnected() bool
	Status(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Backup(ctx context.Context) error
	Backups(ctx context.Context) error
	Pull(ctx context.Context) error
	Restore(ctx context.Context, id string) error
	Retention(ctx context.Context, set bool, n int) error
	List(ctx context.Context, collection string) error
	Get(ctx context.Context, collection, id string) error
	Put(ctx context.Context, collection, raw string) error
	Delete(ctx context.Context, collection, id string) error
}

// runREPL reads commands line by line and dispatches them to a until EOF or
// "exit"/"quit". Command errors are printed and the loop continues, so the
// process stays alive and debounced autosave keeps running between commands.
//
//	status | connect | disconnect
//	backup | backups | pull | restore [id] | retention [n]
//	list <collection> | get <collection> <id>
//	put <collection> <json> | delete <collection> <id>
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("ik %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			if a.isConnected() {
				printlnFn("Available commands: status, backup, backups, pull, restore, retention, disconnect, list, get, put, delete, exit")
			} else {
				printlnFn("Available commands: status, connect, list, get, put, delete, exit")
			}

		case "status":
			err = a.Status(ctx)

		case "connect":
			err = a.Connect(ctx)

		case "disconnect":
			err = a.Disconnect(ctx)

		case "backup":
			err = a.Backup(ctx)

		case "backups":
			err = a.Backups(ctx)

		case "pull":
			err = a.Pull(ctx)

		case "restore":
			id := ""
			if len(args) > 0 {
				id = args[0]
			}
			err = a.Restore(ctx, id)

		case "retention":
			if len(args) == 0 {
				err = a.Retention(ctx, false, 0)
				break
			}
			n, perr := strconv.Atoi(args[0])
			if perr != nil {
				printlnFn("Usage: retention [count]")
				continue
			}
			err = a.Retention(ctx, true, n)

		case "l", "list":
			if len(args) != 1 {
				printlnFn("Usage: list <collection>")
				continue
			}
			err = a.List(ctx, args[0])

		case "get":
			if len(args) != 2 {
				printlnFn("Usage: get <collection> <id>")
				continue
			}
			err = a.Get(ctx, args[0], args[1])

		case "put":
			if len(args) < 2 {
				printlnFn("Usage: put <collection> <json>")
				continue
			}
			// the JSON document may contain spaces
			raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line[len(cmd):]), args[0]))
			err = a.Put(ctx, args[0], raw)

		case "delete":
			if len(args) != 2 {
				printlnFn("Usage: delete <collection> <id>")
				continue
			}
			err = a.Delete(ctx, args[0], args[1])

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err)
		}
	}
}
