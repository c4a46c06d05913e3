// doodlegrid edits two-layer image alignment documents from the command line,
// over MCP, or through a read-only HTTP API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"doodlegrid/internal/app"
	"doodlegrid/internal/config"
	"doodlegrid/internal/domain"
	"doodlegrid/internal/logging"
	mcpserver "doodlegrid/internal/mcp"
)

var configPath = flag.String("config", "", "path to config file (default: $XDG_CONFIG_HOME/doodlegrid/config.toml)")

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "help" || cmd == "-h" {
		usage()
		return
	}
	run, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(2)
	}
	if err := run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type command func(ctx context.Context, args []string) error

var commands = map[string]command{
	"list":          cmdList,
	"new":           cmdNew,
	"show":          cmdShow,
	"upload":        cmdUpload,
	"alpha":         cmdAlpha,
	"undo":          cmdUndo,
	"redo":          cmdRedo,
	"export":        cmdExport,
	"import-legacy": cmdImportLegacy,
	"assets":        cmdAssets,
	"audit":         cmdAudit,
	"mcp":           cmdMCP,
	"serve":         cmdServe,
}

func usage() {
	fmt.Fprintln(os.Stderr, `doodlegrid - align a reference drawing over a background image

Usage: doodlegrid [options] <command> [args]

Commands:
  list                         List documents, newest first
  new                          Create an empty document
  show <id>                    Print a document's history as JSON
  upload <id> <slot> <file>    Place an image in the background or reference slot
  alpha <id> <slot> <value>    Set a layer's opacity (0..1)
  undo <id>                    Step back one state
  redo <id>                    Step forward one state
  export <id> <out.jpg>        Render the current state at full resolution
  import-legacy <file.json>    Import a legacy layout export as a new document
  assets                       List stored images
  audit [-repair]              Check asset refcounts, optionally delete orphans
  mcp [-yes]                   Serve MCP on stdin/stdout
  serve [-addr a] [-mcp]       Serve the HTTP API, optionally with MCP on stdio
  help                         Show this help message

Options:`)
	flag.PrintDefaults()
}

// open loads the configuration and builds the app. stdio commands must keep
// stdout free for the protocol, so their logs always go to stderr.
func open(ctx context.Context, stdio bool) (*app.App, *config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logCfg := cfg.LoggerConfig()
	if stdio {
		logCfg.Output = "stderr"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, err
	}
	logging.SetDefault(logger)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return a, cfg, nil
}

// withApp runs fn against a freshly opened app and flushes everything on the
// way out.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, _, err := open(ctx, false)
	if err != nil {
		return err
	}
	err = fn(a)
	return errors.Join(err, a.Shutdown(context.WithoutCancel(ctx)))
}

func needArgs(args []string, n int, use string) error {
	if len(args) < n {
		return fmt.Errorf("usage: doodlegrid %s", use)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func cmdList(ctx context.Context, _ []string) error {
	return withApp(ctx, func(a *app.App) error {
		docs, err := a.Documents.List(ctx)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tVERSIONS\tMODIFIED\tCREATED")
		for _, d := range docs {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", d.ID, d.Versions, humanize.Time(d.ModifiedAt), d.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return w.Flush()
	})
}

func cmdNew(ctx context.Context, _ []string) error {
	return withApp(ctx, func(a *app.App) error {
		doc, err := a.Documents.Create(ctx)
		if err != nil {
			return err
		}
		fmt.Println(doc.ID)
		return nil
	})
}

func cmdShow(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "show <id>"); err != nil {
		return err
	}
	return withApp(ctx, func(a *app.App) error {
		doc, err := a.Documents.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(struct {
			domain.DocumentInfo
			Cursor  int               `json:"cursor"`
			Current domain.DocState   `json:"current"`
			History []domain.DocState `json:"history"`
		}{doc.Info(), doc.Cursor, doc.Current(), doc.History})
	})
}

func cmdUpload(ctx context.Context, args []string) error {
	if err := needArgs(args, 3, "upload <id> <slot> <file>"); err != nil {
		return err
	}
	slot, err := domain.ParseSlot(args[1])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[2])
	if err != nil {
		return err
	}
	return withApp(ctx, func(a *app.App) error {
		sess, err := a.Documents.Open(ctx, args[0])
		if err != nil {
			return err
		}
		id, err := sess.UploadAsset(ctx, data, slot)
		if err != nil {
			return err
		}
		fmt.Printf("Stored %s as asset %d in %s (%s read)\n", args[2], id, slot, humanize.Bytes(uint64(len(data))))
		return nil
	})
}

func cmdAlpha(ctx context.Context, args []string) error {
	if err := needArgs(args, 3, "alpha <id> <slot> <value>"); err != nil {
		return err
	}
	slot, err := domain.ParseSlot(args[1])
	if err != nil {
		return err
	}
	alpha, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("alpha: %w", err)
	}
	return withApp(ctx, func(a *app.App) error {
		sess, err := a.Documents.Open(ctx, args[0])
		if err != nil {
			return err
		}
		changed, err := sess.PushAlpha(alpha, slot)
		if err != nil {
			return err
		}
		if !changed {
			fmt.Println("Unchanged")
		}
		return nil
	})
}

func cmdUndo(ctx context.Context, args []string) error {
	return step(ctx, args, "undo")
}

func cmdRedo(ctx context.Context, args []string) error {
	return step(ctx, args, "redo")
}

func step(ctx context.Context, args []string, dir string) error {
	if err := needArgs(args, 1, dir+" <id>"); err != nil {
		return err
	}
	return withApp(ctx, func(a *app.App) error {
		sess, err := a.Documents.Open(ctx, args[0])
		if err != nil {
			return err
		}
		var moved bool
		if dir == "undo" {
			moved, err = sess.Undo()
		} else {
			moved, err = sess.Redo()
		}
		if err != nil {
			return err
		}
		snap := sess.Snapshot()
		if !moved {
			fmt.Printf("Nothing to %s\n", dir)
			return nil
		}
		fmt.Printf("At version %d of %d\n", snap.Cursor+1, snap.Versions)
		return nil
	})
}

func cmdExport(ctx context.Context, args []string) error {
	if err := needArgs(args, 2, "export <id> <out.jpg>"); err != nil {
		return err
	}
	return withApp(ctx, func(a *app.App) error {
		data, err := a.Documents.Export(ctx, args[0])
		if err != nil {
			return err
		}
		if err := os.WriteFile(args[1], data, 0644); err != nil {
			return err
		}
		fmt.Printf("Wrote %s (%s)\n", args[1], humanize.Bytes(uint64(len(data))))
		return nil
	})
}

func cmdImportLegacy(ctx context.Context, args []string) error {
	if err := needArgs(args, 1, "import-legacy <file.json>"); err != nil {
		return err
	}
	payload, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	return withApp(ctx, func(a *app.App) error {
		doc, err := a.Documents.ImportLegacy(ctx, payload)
		if err != nil {
			return err
		}
		fmt.Println(doc.ID)
		return nil
	})
}

func cmdAssets(ctx context.Context, _ []string) error {
	return withApp(ctx, func(a *app.App) error {
		assets, err := a.Assets.List(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tREFS\tTYPE\tSIZE\tDIMENSIONS\tADDED")
		for _, as := range assets {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%dx%d\t%s\n",
				as.ID, as.Refcount, as.MediaType, humanize.Bytes(uint64(as.Size)),
				as.Width, as.Height, humanize.Time(as.CreatedAt))
		}
		return w.Flush()
	})
}

func cmdAudit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	repair := fs.Bool("repair", false, "delete orphaned assets")
	fs.Parse(args)

	return withApp(ctx, func(a *app.App) error {
		report, err := a.Maintenance.Audit(ctx)
		if err != nil {
			return err
		}
		if err := printJSON(report); err != nil {
			return err
		}
		if !*repair || len(report.Orphans) == 0 {
			return nil
		}
		deleted, err := a.Maintenance.Repair(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Deleted %d orphaned assets\n", len(deleted))
		return nil
	})
}

func cmdMCP(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	yes := fs.Bool("yes", false, "approve destructive tools without asking")
	fs.Parse(args)

	mode := mcpserver.ApprovalDeny
	if *yes {
		mode = mcpserver.ApprovalAuto
	}

	a, _, err := open(ctx, true)
	if err != nil {
		return err
	}
	if err := a.Startup(ctx); err != nil {
		a.Shutdown(context.WithoutCancel(ctx))
		return err
	}
	err = a.ServeMCP(ctx, mode)
	return errors.Join(err, a.Shutdown(context.WithoutCancel(ctx)))
}

func cmdServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", "", "listen address (default from config)")
	withMCP := fs.Bool("mcp", false, "also serve MCP on stdin/stdout; destructive tools wait for approval over HTTP")
	fs.Parse(args)

	a, cfg, err := open(ctx, *withMCP)
	if err != nil {
		return err
	}
	defer a.Shutdown(context.WithoutCancel(ctx))

	if *addr == "" {
		*addr = cfg.HTTP.Addr
	}
	if err := a.Startup(ctx); err != nil {
		return err
	}

	loader := config.NewLoader(*configPath)
	if _, err := loader.Load(); err == nil {
		if err := a.WatchConfig(ctx, loader); err != nil {
			fmt.Fprintf(os.Stderr, "Config hot reload disabled: %v\n", err)
		}
		defer loader.Close()
	}

	if !*withMCP {
		return a.ServeHTTP(ctx, *addr, nil)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv := a.NewMCPServer(ctx, mcpserver.ApprovalAsk)
	go func() {
		// Client disconnect ends the process.
		if err := srv.ServeStdio(); err != nil {
			fmt.Fprintf(os.Stderr, "MCP: %v\n", err)
		}
		cancel()
	}()
	return a.ServeHTTP(ctx, *addr, srv)
}
