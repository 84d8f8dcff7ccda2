package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/meridianhq/tradecore/internal/aggregate"
	"github.com/meridianhq/tradecore/internal/audit"
	auditpg "github.com/meridianhq/tradecore/internal/audit/postgres"
	"github.com/meridianhq/tradecore/internal/config"
	"github.com/meridianhq/tradecore/internal/creds"
	"github.com/meridianhq/tradecore/internal/domain"
	"github.com/meridianhq/tradecore/internal/engine"
	"github.com/meridianhq/tradecore/internal/exchange"
	"github.com/meridianhq/tradecore/internal/executor"
	"github.com/meridianhq/tradecore/internal/health"
	"github.com/meridianhq/tradecore/internal/learning"
	"github.com/meridianhq/tradecore/internal/lifecycle"
	"github.com/meridianhq/tradecore/internal/marketdata"
	"github.com/meridianhq/tradecore/internal/marketdata/ws"
	"github.com/meridianhq/tradecore/internal/metrics"
	"github.com/meridianhq/tradecore/internal/ops"
	"github.com/meridianhq/tradecore/internal/risk"
	"github.com/meridianhq/tradecore/internal/state"
	"github.com/meridianhq/tradecore/internal/weight"
	"github.com/meridianhq/tradecore/internal/witness"
)

func runLoop(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")

	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		log.Warn().Str("path", configPath).Msg("config file missing, running on defaults")
		cfg = config.Default()
	}
	if logLevel == "" {
		logLevel = cfg.Log.Level
	}
	applyLogLevel(logLevel)

	if cfg.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	m := metrics.NewRegistry(promReg)

	store, err := buildAuditStore(ctx, cfg.Postgres)
	if err != nil {
		return err
	}

	healthMgr := health.NewManager(0)
	weights := weight.NewManager(healthMgr, store)
	machine := state.NewMachine(store, m)
	account := engine.NewAccountState(cfg.Account.InitialEquity)
	riskEng := risk.NewEngine(cfg.Risk, store, m)
	recovery := risk.NewRecoveryManager(cfg.Risk, store)
	exec := executor.NewExecutor(cfg.Executor, cfg.Risk, store, m)
	shadow := lifecycle.NewRunner(0)
	strategies := lifecycle.NewManager(store)

	panel, err := buildPanel(cfg, m, strategies)
	if err != nil {
		return err
	}

	userIDs, err := addUsers(exec, cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, id := range userIDs {
			exec.RemoveUser(id)
		}
	}()

	feed := ws.NewFeed(cfg.Feed)
	if err := feed.Subscribe(cfg.Loop.Symbol, cfg.Loop.Interval); err != nil {
		return err
	}
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("market data feed stopped")
		}
	}()

	var source marketdata.Source = feed
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer rdb.Close()
		ttl := 2 * domain.IntervalDuration(cfg.Loop.Interval)
		if ttl <= 0 {
			ttl = 2 * time.Minute
		}
		source = marketdata.NewCachedSource(feed, marketdata.NewBarCache(rdb, ttl), m)
	}

	coordinator := engine.NewCoordinator(cfg.Loop, engine.Deps{
		Source:   source,
		Panel:    panel,
		Weights:  weights,
		Resolver: aggregate.NewResolver(cfg.Aggregate),
		Risk:     riskEng,
		Recovery: recovery,
		Machine:  machine,
		Executor: exec,
		Shadow:   shadow,
		Health:   healthMgr,
		Account:  account,
		Metrics:  m,
		Store:    store,
	})

	optimizer := learning.NewOptimizer(healthMgr, weights)
	go optimizer.Run(ctx, func() []string {
		return append(panel.ListByTier(domain.Tier1), panel.ListByTier(domain.Tier2)...)
	})

	server := ops.NewServer(cfg.Ops.ListenAddr, ops.Deps{
		Gatherer:    promReg,
		Machine:     machine,
		Coordinator: coordinator,
		Panel:       panel,
	})
	go func() {
		if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("ops server stopped")
		}
	}()

	log.Info().
		Str("symbol", cfg.Loop.Symbol).
		Str("interval", cfg.Loop.Interval).
		Int("users", len(userIDs)).
		Msg("decision loop starting")

	if err := coordinator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

// buildAuditStore prefers PostgreSQL and falls back to memory when no DSN
// is configured.
func buildAuditStore(ctx context.Context, pg config.Postgres) (audit.Store, error) {
	if pg.DSN == "" {
		log.Warn().Msg("no audit DSN configured, audit trail is in-memory only")
		return audit.NewMemoryStore(), nil
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", pg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit db connect: %w", err)
	}
	if _, err := db.ExecContext(ctx, auditpg.Schema); err != nil {
		return nil, fmt.Errorf("audit schema: %w", err)
	}
	return auditpg.NewStore(db), nil
}

// buildPanel registers the built-in witnesses plus the configured event
// definitions. Event witnesses also enter the strategy lifecycle at TESTING.
func buildPanel(cfg config.Config, m *metrics.Registry, strategies *lifecycle.Manager) (*witness.Panel, error) {
	panel := witness.NewPanel(0, m)
	builtins := []witness.Witness{
		witness.RangeBreak{},
		witness.LiquiditySweep{},
		witness.VolatilityRelease{},
		witness.TimeStructure{},
		witness.Microstructure{},
		witness.RiskSentinel{},
		witness.NewMacroSentinel(nil),
	}
	for _, w := range builtins {
		if err := panel.Register(w); err != nil {
			return nil, err
		}
	}
	for _, def := range cfg.Witnesses {
		w, err := witness.NewEventWitness(def)
		if err != nil {
			return nil, err
		}
		if err := panel.Register(w); err != nil {
			return nil, err
		}
		if err := strategies.Register(def.Name, def.Tier); err != nil {
			return nil, err
		}
	}
	return panel, nil
}

// addUsers builds one guarded paper context per configured user and returns
// the activated ids. Plaintext key material never leaves the context; it is
// zeroed when the context is removed.
func addUsers(exec *executor.Executor, cfg config.Config) ([]string, error) {
	var cipher *creds.Cipher
	ids := make([]string, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		credentials := creds.Credentials{APIKey: []byte("paper"), APISecret: []byte("paper"), Valid: true}
		if u.APIKeyEnc != "" && u.APISecretEnc != "" {
			if cipher == nil {
				var err error
				if cipher, err = creds.NewCipherFromEnv(); err != nil {
					return nil, fmt.Errorf("user %s has encrypted credentials: %w", u.UserID, err)
				}
			}
			key, err := cipher.Decrypt(u.APIKeyEnc)
			if err != nil {
				return nil, fmt.Errorf("user %s: decrypt api key: %w", u.UserID, err)
			}
			secret, err := cipher.Decrypt(u.APISecretEnc)
			if err != nil {
				return nil, fmt.Errorf("user %s: decrypt api secret: %w", u.UserID, err)
			}
			credentials = creds.Credentials{APIKey: key, APISecret: secret, Valid: true}
		}

		client := exchange.NewGuardedClient(u.UserID,
			exchange.NewPaperClient(u.Equity, 0), cfg.Guard)
		exec.AddUser(executor.NewContext(executor.Profile{
			UserID:   u.UserID,
			Status:   executor.UserActive,
			Tier:     executor.SubscriptionTier(u.Tier),
			Leverage: u.Leverage,
		}, credentials, client))
		ids = append(ids, u.UserID)
	}
	return ids, nil
}
