// fightcore is the bout scoring service: it ingests judge and CV event
// streams, maintains the canonical timeline and produces round verdicts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/fightjudgeai/emergent-backend-sub001/internal/application"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/audit"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/config"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/httpapi"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/ingest"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/metrics"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/model"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/persistence"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/router"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/scoring"
	"github.com/fightjudgeai/emergent-backend-sub001/internal/stats"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:     "fightcore",
		Short:   "Combat event fusion and round scoring service",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	root.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	root.AddCommand(newServeCmd())
	root.AddCommand(newScoreCmd())
	root.AddCommand(newAuditCmd())
	root.AddCommand(newWorkersCmd())
	return root
}

// setupLogging picks a console writer on a TTY, structured JSON otherwise.
func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

func newServeCmd() *cobra.Command {
	var (
		addr       string
		configPath string
		poolPath   string
		dsn        string
		cameras    []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scoring engine and ops HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}

			store, err := openStore(dsn)
			if err != nil {
				return err
			}
			defer store.Close()

			reg := metrics.NewRegistry()
			agg := stats.New(cfg.Stats, store, reg, nil)
			engine := application.New(cfg, scoring.DefaultConfig(), store, agg, reg)
			defer engine.Stop()

			rt := router.New(cfg.Worker, reg)
			if poolPath != "" {
				pool, err := config.LoadWorkerPool(poolPath)
				if err != nil {
					return err
				}
				for _, w := range pool.Workers {
					rt.Register(w)
				}
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			go rt.RunHealthChecks(ctx)

			feeds := ingest.NewManager(cfg.Ingest)
			defer feeds.Stop()
			dispatcher := application.NewDispatcher(engine, rt, feeds,
				time.Duration(cfg.Worker.CallTimeoutMS)*time.Millisecond)
			defer dispatcher.Close()
			for _, camSpec := range cameras {
				id, url, ok := strings.Cut(camSpec, "=")
				if !ok {
					return fmt.Errorf("invalid --camera %q, want id=url", camSpec)
				}
				if err := feeds.AddStream(ctx, id, url); err != nil {
					return err
				}
			}

			api := httpapi.New(store, agg, engine.Auditor(), rt, reg, version)
			srv := &http.Server{Addr: addr, Handler: api.Handler()}
			go func() {
				<-ctx.Done()
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info().Str("addr", addr).Str("version", version).Msg("fightcore serving")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			log.Info().Msg("fightcore stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "ops HTTP listen address")
	cmd.Flags().StringVar(&configPath, "config", "", "pipeline config file (yaml)")
	cmd.Flags().StringVar(&poolPath, "workers", "", "worker pool registration file (yaml)")
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres DSN (in-memory store when empty)")
	cmd.Flags().StringArrayVar(&cameras, "camera", nil, "camera feed as id=ws-url (repeatable)")
	return cmd
}

// openStore picks postgres when a DSN is given, in-memory otherwise, and
// wraps either with the redis mirror when REDIS_ADDR is set.
func openStore(dsn string) (persistence.Store, error) {
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	var store persistence.Store
	if dsn != "" {
		pg, err := persistence.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("postgres document store connected")
		store = pg
	} else {
		store = persistence.NewMemory()
	}
	return persistence.NewAuto(store), nil
}

func newScoreCmd() *cobra.Command {
	var (
		eventsPath string
		boutID     string
		round      int
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a round offline from an events JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(eventsPath)
			if err != nil {
				return fmt.Errorf("failed to read events file: %w", err)
			}
			var events []model.CombatEvent
			if err := json.Unmarshal(data, &events); err != nil {
				return fmt.Errorf("failed to parse events file: %w", err)
			}

			engine := scoring.NewEngine(scoring.DefaultConfig())
			verdict, err := engine.ScoreRound(boutID, round, events)
			if err != nil {
				return err
			}
			return printJSON(cmd, verdict)
		},
	}

	cmd.Flags().StringVar(&eventsPath, "events", "", "path to a JSON array of canonical events")
	cmd.Flags().StringVar(&boutID, "bout", "offline", "bout id for the verdict")
	cmd.Flags().IntVar(&round, "round", 1, "round number")
	_ = cmd.MarkFlagRequired("events")
	return cmd
}

func newAuditCmd() *cobra.Command {
	var chainPath string

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Verify a bout's exported audit chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(chainPath)
			if err != nil {
				return fmt.Errorf("failed to read chain file: %w", err)
			}
			var records []audit.Record
			if err := json.Unmarshal(data, &records); err != nil {
				return fmt.Errorf("failed to parse chain file: %w", err)
			}

			result := audit.VerifyRecords(records)
			if err := printJSON(cmd, result); err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("chain invalid at seq %d", result.BadSeq)
			}
			return nil
		},
	}
	verify.Flags().StringVar(&chainPath, "file", "", "path to a JSON array of audit records")
	_ = verify.MarkFlagRequired("file")

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit chain tooling",
	}
	cmd.AddCommand(verify)
	return cmd
}

func newWorkersCmd() *cobra.Command {
	var poolPath string

	cmd := &cobra.Command{
		Use:   "workers",
		Short: "Show the registered worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := config.LoadWorkerPool(poolPath)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%-16s %-32s %-12s %s\n", "ID", "ENDPOINT", "MODEL", "MAX QUEUE")
			for _, entry := range pool.Workers {
				fmt.Fprintf(w, "%-16s %-32s %-12s %d\n", entry.ID, entry.Endpoint, entry.ModelVersion, entry.MaxQueue)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&poolPath, "pool", "workers.yaml", "worker pool registration file")
	return cmd
}

func printJSON(cmd *cobra.Command, doc interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
