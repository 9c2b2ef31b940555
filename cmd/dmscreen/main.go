// Package main provides the combat tracker binary: a terminal DM screen
// with an initiative table, a combat log and pluggable resolvers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rivo/tview"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dmscreen/internal/bridge"
	"github.com/cory-johannsen/dmscreen/internal/config"
	"github.com/cory-johannsen/dmscreen/internal/game/combat"
	"github.com/cory-johannsen/dmscreen/internal/game/dice"
	"github.com/cory-johannsen/dmscreen/internal/observability"
	"github.com/cory-johannsen/dmscreen/internal/resolver/auto"
	"github.com/cory-johannsen/dmscreen/internal/resolver/claude"
	"github.com/cory-johannsen/dmscreen/internal/resolver/script"
	"github.com/cory-johannsen/dmscreen/internal/server"
	"github.com/cory-johannsen/dmscreen/internal/settings"
	"github.com/cory-johannsen/dmscreen/internal/tracker"
	"github.com/cory-johannsen/dmscreen/internal/tui"
	"github.com/cory-johannsen/dmscreen/internal/ui"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file; empty = defaults and environment only")
	seedPath := flag.String("seed", "", "optional encounter seed YAML added on startup")
	headless := flag.Bool("headless", false, "resolve the seeded encounter once, print the combat log and exit")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal("setting up tracing", zap.Error(err))
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("flushing traces", zap.Error(err))
		}
	}()

	store, err := settings.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("opening settings", zap.Error(err))
	}
	defer store.Close()

	var src dice.Source
	if cfg.Resolver.Seed != 0 {
		src = dice.NewSeededSource(cfg.Resolver.Seed)
	} else {
		src = dice.NewCryptoSource()
	}
	roller := dice.NewRoller(src, logger)

	res, err := newResolver(cfg.Resolver, logger)
	if err != nil {
		logger.Fatal("creating resolver", zap.Error(err))
	}

	bridgeCfg := bridge.Config{
		SoftTimeout: cfg.Resolver.SoftTimeout,
		HardTimeout: cfg.Resolver.HardTimeout,
		ApplyBudget: cfg.Resolver.ApplyBudget,
	}

	logger.Info("starting combat tracker",
		zap.String("resolver", cfg.Resolver.Kind),
		zap.String("settings", cfg.Settings.Backend),
		zap.Bool("headless", *headless),
		zap.Duration("startup", time.Since(start)),
	)

	loop := ui.NewLoop(logger)
	deps := tracker.Deps{
		Encounter:     combat.NewEncounter(combat.NewStore(logger)),
		Settings:      store,
		StateKey:      cfg.Settings.Key,
		Poster:        loop,
		Resolver:      res,
		Roller:        roller,
		Logger:        logger,
		Bridge:        bridgeCfg,
		BridgeOptions: []bridge.Option{bridge.WithTracer(otel.Tracer("dmscreen/bridge"))},
	}

	if *headless {
		deps.View = tracker.NopView{}
		tr := tracker.New(deps)
		if err := runHeadless(ctx, tr, loop, *seedPath); err != nil {
			logger.Error("headless resolution failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "resolution failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	screen := tui.New(tview.NewApplication(), logger)
	deps.View = screen
	tr := tracker.New(deps)
	screen.Bind(ctx, tr)

	if found, err := tr.Load(ctx); err != nil {
		logger.Warn("restoring saved encounter", zap.Error(err))
	} else if found {
		logger.Info("restored saved encounter", zap.Int("combatants", tr.Encounter().Store().Len()))
	}
	if *seedPath != "" {
		if err := addSeed(tr, *seedPath, logger); err != nil {
			logger.Fatal("loading seed", zap.Error(err))
		}
	}

	lc := server.NewLifecycle(logger)
	lc.Add("ui-loop", server.NewContextService(func(ctx context.Context) error {
		return loop.Run(ctx, screen.Forward)
	}))
	lc.Add("screen", &server.FuncService{
		StartFn: screen.Run,
		StopFn:  screen.Stop,
	})

	if err := lc.Run(ctx); err != nil {
		logger.Error("tracker exited with error", zap.Error(err))
	}
	loop.Close()
}

// newResolver builds the resolver selected by cfg.Kind.
func newResolver(cfg config.ResolverConfig, logger *zap.Logger) (bridge.Resolver, error) {
	switch cfg.Kind {
	case "", "auto":
		return auto.New(logger, cfg.MaxRounds), nil
	case "script":
		return script.New(cfg.Script, cfg.MaxRounds, cfg.InstructionLimit, logger)
	case "claude":
		return claude.New(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown resolver kind %q", cfg.Kind)
	}
}

func addSeed(tr *tracker.Tracker, path string, logger *zap.Logger) error {
	seed, err := tracker.LoadSeedFile(path)
	if err != nil {
		return err
	}
	n, err := tr.AddSeed(seed)
	if err != nil {
		return fmt.Errorf("adding seed combatants: %w", err)
	}
	logger.Info("seeded encounter", zap.String("path", path), zap.Int("combatants", n))
	return nil
}

// runHeadless resolves the seeded encounter once on the calling goroutine,
// draining bridge messages until the run finishes, and prints the log.
func runHeadless(ctx context.Context, tr *tracker.Tracker, loop *ui.Loop, seedPath string) error {
	if seedPath == "" {
		return errors.New("headless mode requires -seed")
	}
	if err := addSeed(tr, seedPath, zap.NewNop()); err != nil {
		return err
	}
	if err := tr.Resolve(ctx); err != nil {
		return err
	}

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		loop.Drain(tr.Handle)
		if !tr.Running() {
			break
		}
		select {
		case <-ctx.Done():
			tr.CancelResolve()
			return ctx.Err()
		case <-tick.C:
		}
	}
	loop.Drain(tr.Handle)

	for _, e := range tr.Log().Entries() {
		fmt.Println(e.String())
	}
	enc := tr.Encounter()
	fmt.Printf("%s after round %d: %d combatant(s) remain\n", enc.Phase(), enc.Cursor().Round, enc.Store().Len())
	return nil
}
