package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"planline/internal/app"
	"planline/internal/apperr"
	"planline/internal/domain"
	"planline/internal/logging"
	"planline/internal/mcpserver"
	"planline/internal/migrate"
	"planline/internal/server"
	"planline/internal/telemetry"
	"planline/internal/tools"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "pl",
	Short: "Planline CLI",
	Long: `Planline keeps the plan of a software project consistent while several agents edit it.
- Project: owns epics, stories and planning docs (prd, architecture, epics, ux).
- Story: fields plus an ordered tree of root tasks with subtasks. Progress counts root tasks.
- Version token: every story and planning doc carries updated_at. Pass it back with
  --expected and a write that lost a race fails with a conflict instead of overwriting.
- Reservation: a time-limited lease on one root task so two agents don't work on it at once.
- Versions: named snapshots of an epic, story or planning doc that can be switched back to.
- Event log: every change, view with 'pl log tail'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func initConfig() {
	viper.SetEnvPrefix("PLANLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.String("config", "", "config file (default <workspace>/planline.yml)")
	pf.Bool("json", false, "output JSON")
	pf.String("actor", "operator", "agent or operator recorded on writes")
	pf.String("project", "", "project id (defaults to the only registered project)")
	pf.String("log-level", "", "log level override: debug, info, warn, error")
	for _, name := range []string{"workspace", "config", "json", "actor", "project", "log-level"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(mcpCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(storyCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(toolCmd())
	rootCmd.AddCommand(logCmd())
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				current, err := migrate.Current(ctx, rt.DB)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"schema_version": current})
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var sweepEvery time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := startTelemetry(ctx, rt); err != nil {
					return err
				}
				defer telemetry.Shutdown(context.Background())
				if addr == "" {
					addr = rt.Config.Server.Addr
				}
				if basePath == "" {
					basePath = rt.Config.Server.BasePath
				}
				reg := tools.New(rt.Engine, tools.WithLogger(rt.Log))
				handler, err := server.New(server.Config{Engine: rt.Engine, Tools: reg, BasePath: basePath, Logger: rt.Log})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					rt.Log.Info("serving planline API", "addr", addr, "base_path", basePath, "openapi", basePath+"/openapi.json", "docs", "/docs")
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				if sweepEvery > 0 {
					g.Go(func() error { return sweepLeases(gctx, rt, sweepEvery) })
				}
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().DurationVar(&sweepEvery, "sweep-interval", time.Minute, "how often expired reservations are removed; 0 disables")
	return cmd
}

// sweepLeases removes expired reservations until ctx is done. Failures are
// logged and retried on the next tick.
func sweepLeases(ctx context.Context, rt *app.Runtime, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := rt.Engine.SweepLeases(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				rt.Log.Warn("lease sweep failed", "err", err)
				continue
			}
			if n > 0 {
				rt.Log.Debug("swept expired reservations", "count", n)
			}
		}
	}
}

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool set over MCP on stdin/stdout",
		Long:  "Speaks the Model Context Protocol on stdio. Logs and telemetry go to stderr; --actor names the agent for every call.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := startTelemetry(ctx, rt); err != nil {
					return err
				}
				defer telemetry.Shutdown(context.Background())
				reg := tools.New(rt.Engine, tools.WithLogger(rt.Log))
				mcpserver.Version = version
				s := mcpserver.New(reg, viper.GetString("actor"), rt.Log)
				return mcpserver.Serve(ctx, s, os.Stdin, os.Stdout)
			})
		},
	}
}

// --- helpers ---

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	// Logs always go to stderr so stdout stays usable for JSON output and MCP.
	log := logging.New(os.Stderr, logging.Options{Level: "warn"})
	rt, err := app.Open(ctx, viper.GetString("workspace"), viper.GetString("config"), log)
	if err != nil {
		return err
	}
	defer rt.Close()
	level := rt.Config.Log.Level
	if override := viper.GetString("log-level"); override != "" {
		level = override
	}
	rt.Log = logging.New(os.Stderr, logging.Options{Level: level, Format: rt.Config.Log.Format})
	slog.SetDefault(rt.Log)
	return fn(ctx, rt)
}

func startTelemetry(ctx context.Context, rt *app.Runtime) error {
	return telemetry.Init(ctx, telemetry.Options{
		Enabled:     rt.Config.Telemetry.Enabled,
		Stdout:      rt.Config.Telemetry.Stdout,
		ServiceName: "planline",
		Version:     version,
		Writer:      os.Stderr,
	})
}

func activeProject(ctx context.Context, rt *app.Runtime) (string, error) {
	return app.ResolveProject(ctx, rt.Engine.Repo, viper.GetString("project"))
}

func actor() string {
	return viper.GetString("actor")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

// ago renders a stored timestamp relative to now, such as "3 minutes ago".
func ago(ts string) string {
	t, err := domain.ParseTime(ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}

// exitCode separates lost races from other failures so scripts can retry.
func exitCode(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindConflict, apperr.KindNotOwner:
		return 3
	case apperr.KindNotFound:
		return 4
	case apperr.KindInvalidArgument, apperr.KindInvalidState:
		return 2
	case apperr.KindBusy:
		return 75
	default:
		return 1
	}
}
