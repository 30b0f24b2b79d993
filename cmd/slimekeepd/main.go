// Command slimekeepd is the persistence-core server process: it wires
// every component (config, ledger, kvstore, profile cache, liveworld
// registry, template tables, serializer, inventory service, growth
// engine, faction totals, sale pipeline, stage manager, pre-exit sync)
// into one running process and drives the background loops that keep
// them alive. Grounded on the teacher's cmd/l1jgo/main.go: a single
// staged run() function, colorized banner/section/stat console output,
// and a signal-driven shutdown that flushes state before exiting.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/slimeforge/slimekeep/internal/config"
	"github.com/slimeforge/slimekeep/internal/events"
	"github.com/slimeforge/slimekeep/internal/faction"
	"github.com/slimeforge/slimekeep/internal/growth"
	"github.com/slimeforge/slimekeep/internal/inventory"
	"github.com/slimeforge/slimekeep/internal/kvstore"
	"github.com/slimeforge/slimekeep/internal/ledger"
	"github.com/slimeforge/slimekeep/internal/liveworld"
	"github.com/slimeforge/slimekeep/internal/presync"
	"github.com/slimeforge/slimekeep/internal/profile"
	"github.com/slimeforge/slimekeep/internal/sale"
	"github.com/slimeforge/slimekeep/internal/serializer"
	"github.com/slimeforge/slimekeep/internal/stage"
	"github.com/slimeforge/slimekeep/internal/template"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

func printBanner(shardID string) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m            slimekeepd  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m      Slime persistence core · Go           \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mshard:\033[0m %s\n\n", shardID)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, count int) {
	numStr := fmt.Sprintf("%d", count)
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ──────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("SLIMEKEEP_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	log, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	printBanner(cfg.Server.ShardID)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 3. Connect to the economic ledger (Postgres) and run migrations
	printSection("ledger")

	ledgerDB, err := ledger.NewDB(ctx, cfg.Ledger, log)
	if err != nil {
		return fmt.Errorf("ledger db: %w", err)
	}
	defer ledgerDB.Close()
	printOK("postgres connected")

	if err := ledger.RunMigrations(ctx, ledgerDB.Pool); err != nil {
		return fmt.Errorf("ledger migrations: %w", err)
	}
	printOK("ledger migrations applied")
	walRepo := ledger.NewWALRepo(ledgerDB)

	unprocessed, err := walRepo.ListUnprocessed(ctx)
	if err != nil {
		return fmt.Errorf("list unprocessed wal: %w", err)
	}
	if len(unprocessed) > 0 {
		log.Warn("unprocessed ledger entries found at boot", zap.Int("count", len(unprocessed)))
	}
	fmt.Println()

	// 4. Connect to the remote KV store (Redis) backing the profile cache
	printSection("store")

	redisClient, err := kvstore.NewClient(ctx, kvstore.RedisOptions{
		Addr:     cfg.Store.Addr,
		Password: cfg.Store.Password,
		DB:       cfg.Store.DB,
	})
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer redisClient.Close()
	printOK("redis connected")

	retry := kvstore.RetryPolicy{MaxAttempts: cfg.Store.UpdateRetries, BaseDelay: cfg.Store.RetryBaseDelay}
	store := kvstore.NewRedisStore(redisClient, retry, log)
	fmt.Println()

	// 5. Load static template tables
	printSection("templates")

	slimeTable, err := template.LoadSlimeTable("data/slimes.yaml")
	if err != nil {
		return fmt.Errorf("load slime templates: %w", err)
	}
	printStat("slime templates", slimeTable.Count())

	eggTable, err := template.LoadEggTable("data/eggs.yaml")
	if err != nil {
		return fmt.Errorf("load egg templates: %w", err)
	}
	printStat("egg templates", eggTable.Count())

	toolTable, err := template.LoadToolTable("data/tools.yaml")
	if err != nil {
		return fmt.Errorf("load tool templates: %w", err)
	}
	printStat("tool templates", toolTable.Count())
	fmt.Println()

	// 6. Build the core component graph
	factions := []string{"merchants", "wardens", "nomads"}
	now := func() int64 { return time.Now().Unix() }

	cache := profile.NewCache(store, factions, cfg.Store.SaveWaitTimeout, log)

	registry := liveworld.NewRegistry()
	factory := liveworld.NewTemplateFactory(registry, slimeTable, eggTable, toolTable)
	tables := serializer.Tables{Slimes: slimeTable, Eggs: eggTable, Tools: toolTable}
	ser := serializer.New(registry, factory, tables, liveworld.HatchPreserveOriginal, now, log)

	bus := events.NewBus()

	var mutationHook *growth.MutationHook
	if cfg.Growth.ScriptsDir != "" {
		mutationHook, err = growth.NewMutationHook(cfg.Growth.ScriptsDir, log)
		if err != nil {
			log.Warn("growth mutation hook scripts unavailable, continuing without", zap.Error(err))
			mutationHook = nil
		} else {
			defer mutationHook.Close()
			printOK("growth lua hooks loaded")
		}
	}

	invService := inventory.NewService(cache, ser, nil, cfg.Store.SaveWaitTimeout, log)
	growthEngine := growth.NewEngine(registry, invService, bus, mutationHook, cfg.Growth, now, log)
	invService.SetGrowth(growthEngine)

	presyncMgr := presync.NewManager(registry, cache, ser, invService, growthEngine, now, log)

	totals := faction.NewTotals(redisClient, store, cache, nil, cfg.Faction, now, log)
	totals.SetLedger(walRepo)

	// No color-preference palette is configured yet (ops tooling to
	// populate one from live trade data is out of scope); an empty
	// palette makes colorMultiplier neutral for every sale.
	salePipeline := sale.NewPipeline(cache, walRepo, registry, nil, cfg.Sale, cfg.Store.SaveWaitTimeout, log)

	reparenter := liveworld.NewTagReparenter(registry)
	stageMgr := stage.NewManager(registry, reparenter, cfg.Stage, now, log)

	services := &Services{
		Cache:    cache,
		Registry: registry,
		Presync:  presyncMgr,
		Sale:     salePipeline,
		Stage:    stageMgr,
		Totals:   totals,
	}
	printOK(fmt.Sprintf("component graph ready (%d components)", services.Count()))

	// 7. Start background loops
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go services.Totals.ListenRemote(bgCtx)
	go services.Totals.RunPeriodicFlush(bgCtx)
	go services.Stage.RunSweeper(bgCtx, 30*time.Second)
	go runGrowthTicker(bgCtx, growthEngine, 2*time.Second)

	events.Emit(bus, events.GameServicesReady{})

	// 8. Wait for shutdown signal
	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	printSection("ready")
	printReady(fmt.Sprintf("shard %s services running", cfg.Server.ShardID))
	fmt.Println()

	sig := <-shutdownCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	bgCancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	services.Cache.Shutdown(shutdownCtx, cfg.Store.SaveWaitTimeout)

	log.Info("slimekeepd stopped")
	return nil
}

// Services bundles the component graph a game-server RPC layer would
// call into (sale, stage, pre-exit sync, faction totals) — the
// persistence core builds and runs these end to end, but the RPC
// surface itself is out of scope here (spec.md's "no network/ECS
// game-loop wiring" Non-goal), the same boundary teacher's handler.Deps
// draws between transport and game logic.
type Services struct {
	Cache    *profile.Cache
	Registry *liveworld.Registry
	Presync  *presync.Manager
	Sale     *sale.Pipeline
	Stage    *stage.Manager
	Totals   *faction.Totals
}

func (s *Services) Count() int {
	n := 0
	for _, ready := range []bool{s.Cache != nil, s.Registry != nil, s.Presync != nil, s.Sale != nil, s.Stage != nil, s.Totals != nil} {
		if ready {
			n++
		}
	}
	return n
}

func runGrowthTicker(ctx context.Context, engine *growth.Engine, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			engine.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		zapCfg.EncoderConfig.ConsoleSeparator = "  "
		zapCfg.DisableCaller = true
		zapCfg.DisableStacktrace = true
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
