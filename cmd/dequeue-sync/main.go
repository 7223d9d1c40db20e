// Command dequeue-sync is a thin CLI around the sync engine: it assembles
// the local store, projector, and transport the way a host app would, and
// exposes init/push/pull/status/serve for scripting and debugging. It does
// not implement any task-management UI — that is out of scope here.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/DequeueApp/dequeue-sync-core/internal/clientconfig"
	"github.com/DequeueApp/dequeue-sync-core/internal/clock"
	"github.com/DequeueApp/dequeue-sync-core/internal/projector"
	"github.com/DequeueApp/dequeue-sync-core/internal/store"
	"github.com/DequeueApp/dequeue-sync-core/internal/syncclient"
)

var (
	dbPath    string
	serverURL string
	verbosity int
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dequeue-sync",
		Short: "Local-first sync engine CLI",
	}
	flags := root.PersistentFlags()
	flags.StringVar(&dbPath, "db", defaultDBPath(), "path to the local SQLite replica")
	flags.StringVar(&serverURL, "server", "http://localhost:8080", "sync collaborator base URL")
	flags.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v, -vv)")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) { applyVerbosity(flags) }

	root.AddCommand(initCmd(), loginCmd(), pushCmd(), pullCmd(), statusCmd(), serveCmd())
	return root
}

func applyVerbosity(flags *pflag.FlagSet) {
	n, _ := flags.GetCount("verbose")
	level := slog.LevelWarn
	switch {
	case n >= 2:
		level = slog.LevelDebug
	case n == 1:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "dequeue-sync.db"
	}
	return home + "/.local/share/dequeue-sync/store.db"
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the local store if it doesn't already exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			fmt.Printf("initialized store at %s\n", dbPath)
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <token>",
		Short: "Save a bearer token for this device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientconfig.SaveToken(args[0]); err != nil {
				return err
			}
			fmt.Println("token saved")
			return nil
		},
	}
}

func buildEngine() (*store.DB, *syncclient.Engine, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}
	clk := clock.System{}
	proj := projector.New(db, clk)
	client := syncclient.New(serverURL, clientconfig.FileToken{})
	engine := syncclient.NewEngine(db, clk, client, nil, clientconfig.FileDeviceID{}, proj)

	sock, err := syncclient.NewSocket(serverURL, clientconfig.FileToken{},
		func(ctx context.Context, evt syncclient.WireEvent) { engine.HandleSocketEvent(ctx, evt) },
		func(ctx context.Context) {
			if err := engine.PullAll(ctx); err != nil {
				slog.Warn("post-reconnect pull failed", "error", err)
			}
		})
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("build socket: %w", err)
	}
	engine.AttachSocket(sock)
	return db, engine, nil
}

func pushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push every pending local event",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, engine, err := buildEngine()
			if err != nil {
				return err
			}
			defer db.Close()
			return engine.PushPending(cmd.Context())
		},
	}
}

func pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Pull and project every event since the last checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, engine, err := buildEngine()
			if err != nil {
				return err
			}
			defer db.Close()
			return engine.PullAll(cmd.Context())
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print initial-sync progress counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, engine, err := buildEngine()
			if err != nil {
				return err
			}
			defer db.Close()
			p := engine.Progress()
			fmt.Printf("inProgress=%v processed=%d total=%d\n", p.InProgress, p.Processed, p.Total)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the long-lived sync session: periodic push/pull plus the persistent socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, engine, err := buildEngine()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			slog.Info("sync session starting", "server", serverURL, "db", dbPath)
			return engine.Serve(ctx)
		},
	}
}
