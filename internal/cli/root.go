// Package cli is the shf command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tutu-network/shf/internal/app/rewards"
	"github.com/tutu-network/shf/internal/daemon"
	"github.com/tutu-network/shf/internal/domain"
	"github.com/tutu-network/shf/internal/infra/catalog"
	"github.com/tutu-network/shf/internal/infra/memory"
	"github.com/tutu-network/shf/internal/infra/observability"
	"github.com/tutu-network/shf/internal/infra/postgres"
	"github.com/tutu-network/shf/internal/infra/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "shf",
	Short: "Rewards and reputation ledger",
	Long: `shf records reward-earning actions in an append-only ledger, enforces
per-action caps over rolling weekly, monthly and quarterly windows, converts
earned tokens into SHF and tracks a reputation score with named tiers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default $SHF_HOME/config.toml)")
	rootCmd.PersistentFlags().StringP("subject", "s", "", "Ledger subject (default [ledger].subject)")
	rootCmd.PersistentFlags().Bool("json", false, "Print JSON instead of text")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ─── Runtime ────────────────────────────────────────────────────────────────

// runtime is everything a command needs, built from configuration.
type runtime struct {
	cfg     daemon.Config
	log     *logrus.Logger
	engine  *rewards.Engine
	subject string
	json    bool
	out     io.Writer
	closers []func()
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// openRuntime loads config and wires the store, catalog and engine.
func openRuntime(cmd *cobra.Command) (*runtime, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := daemon.Load(path)
	if err != nil {
		return nil, err
	}

	log, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	log.SetOutput(cmd.ErrOrStderr())

	rt := &runtime{cfg: cfg, log: log, out: cmd.OutOrStdout()}
	rt.subject, _ = cmd.Flags().GetString("subject")
	if rt.subject == "" {
		rt.subject = cfg.Ledger.Subject
	}
	rt.json, _ = cmd.Flags().GetBool("json")

	rates, err := cfg.RateTable()
	if err != nil {
		return nil, err
	}

	store, err := openStore(cmd.Context(), rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var source domain.CatalogSource
	if cfg.Catalog.Path != "" {
		fs, err := catalog.NewFileSource(cfg.Catalog.Path, rates.KnownTokens(), log)
		if err != nil {
			rt.Close()
			return nil, err
		}
		source = fs
	} else {
		cat, err := catalog.Default(rates.KnownTokens())
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("built-in catalog: %w", err)
		}
		source = domain.StaticCatalog{Catalog: cat}
	}

	engCfg := rewards.DefaultConfig()
	engCfg.Scale = cfg.Score
	if cfg.Ledger.MaxAppendRetries > 0 {
		engCfg.MaxAppendRetries = cfg.Ledger.MaxAppendRetries
	}
	rt.engine, err = rewards.New(engCfg, domain.Persistence{LedgerStore: store, CatalogSource: source}, rates,
		rewards.WithLogger(log),
		rewards.WithTracer(observability.NewTracer(observability.DefaultTracerConfig())),
	)
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func openStore(ctx context.Context, rt *runtime) (domain.LedgerStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	switch rt.cfg.Ledger.Store {
	case daemon.StoreMemory:
		return memory.NewLedgerStore(), nil
	case daemon.StorePostgres:
		pool, err := postgres.NewPool(ctx, rt.cfg.Ledger.DSN)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)
		if err := pool.Migrate(ctx); err != nil {
			return nil, err
		}
		return postgres.NewLedgerStore(pool), nil
	default:
		db, err := sqlite.Open(rt.cfg.Ledger.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		rt.closers = append(rt.closers, func() { db.Close() })
		return db, nil
	}
}

// ─── Output ─────────────────────────────────────────────────────────────────

// emit prints v as JSON when --json is set, otherwise calls text.
func (rt *runtime) emit(v interface{}, text func(w io.Writer)) error {
	if rt.json {
		enc := json.NewEncoder(rt.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(rt.out)
	return nil
}

// withRuntime adapts a runtime-aware handler to cobra's RunE.
func withRuntime(fn func(rt *runtime, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd)
		if err != nil {
			return err
		}
		defer rt.Close()
		return fn(rt, cmd, args)
	}
}
