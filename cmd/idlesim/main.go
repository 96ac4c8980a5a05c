package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/idlesim/server/internal/config"
	"github.com/idlesim/server/internal/core/clock"
	"github.com/idlesim/server/internal/core/event"
	"github.com/idlesim/server/internal/core/host"
	"github.com/idlesim/server/internal/core/sim"
	coresys "github.com/idlesim/server/internal/core/system"
	"github.com/idlesim/server/internal/core/tick"
	"github.com/idlesim/server/internal/data"
	"github.com/idlesim/server/internal/game"
	"github.com/idlesim/server/internal/persist"
	"github.com/idlesim/server/internal/scripting"
	"github.com/idlesim/server/internal/statsfeed"
	"github.com/idlesim/server/internal/system"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// ── Startup display helpers ────────────────────────────────────────

var printer = message.NewPrinter(language.English)

func printBanner(serverName string, runID uuid.UUID) {
	fmt.Println()
	fmt.Println("\033[36;1m  ┌───────────────────────────────────────────┐\033[0m")
	fmt.Println("\033[36;1m  │\033[0m              idlesim  v0.1.0              \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  │\033[0m     fixed-timestep idle game simulation   \033[36;1m│\033[0m")
	fmt.Println("\033[36;1m  └───────────────────────────────────────────┘\033[0m")
	fmt.Println()
	fmt.Printf("  \033[1mserver:\033[0m %s \033[90m(run %s)\033[0m\n\n", serverName, runID)
}

func printSection(title string) {
	lineLen := 46 - len(title) - 1
	if lineLen < 3 {
		lineLen = 3
	}
	fmt.Printf("  \033[33m── %s %s\033[0m\n", title, strings.Repeat("─", lineLen))
}

func printStat(label string, value any) {
	var numStr string
	switch v := value.(type) {
	case float64:
		numStr = printer.Sprintf("%.1f", v)
	default:
		numStr = printer.Sprintf("%d", v)
	}
	dotsLen := 42 - len(label) - len(numStr)
	if dotsLen < 3 {
		dotsLen = 3
	}
	fmt.Printf("  %s \033[90m%s\033[0m \033[32m%s\033[0m\n", label, strings.Repeat("·", dotsLen), numStr)
}

func printOK(msg string) {
	fmt.Printf("  \033[32m✓\033[0m %s\n", msg)
}

func printSkip(msg string) {
	fmt.Printf("  \033[90m- %s\033[0m\n", msg)
}

func printReady(msg string) {
	fmt.Printf("  \033[32m▶\033[0m %s\n", msg)
}

// ── Main server logic ─────────────────────────────────────────────

func run() error {
	// 1. Load config
	cfgPath := "config/server.toml"
	if p := os.Getenv("IDLESIM_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// 2. Init logger
	baseLog, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer baseLog.Sync()

	runID := uuid.New()
	log := baseLog.With(zap.String("run_id", runID.String()))
	printBanner(cfg.Server.Name, runID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. Connect to PostgreSQL and run migrations
	printSection("database")
	var saves *persist.SaveRepo
	if cfg.Database.Enabled {
		dbCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		db, err := persist.Open(dbCtx, cfg.Database, log.Named("db"))
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		defer db.Close()
		printOK("PostgreSQL connected")

		if err := db.Migrate(dbCtx); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		printOK("migrations applied")
		saves = persist.NewSaveRepo(db)
	} else {
		printSkip("disabled, progress will not be saved")
	}
	fmt.Println()

	// 4. Load data tables
	printSection("data")
	resources, err := data.LoadResourceTable(filepath.Join(cfg.Game.DataDir, "resources.yaml"))
	if err != nil {
		return fmt.Errorf("load resources: %w", err)
	}
	printStat("resources", resources.Count())

	milestones, err := data.LoadMilestoneTable(filepath.Join(cfg.Game.DataDir, "milestones.yaml"), resources)
	if err != nil {
		return fmt.Errorf("load milestones: %w", err)
	}
	printStat("milestones", milestones.Count())

	lua, err := scripting.NewEngine(cfg.Game.ScriptsDir, log.Named("lua"))
	if err != nil {
		return fmt.Errorf("lua engine: %w", err)
	}
	defer lua.Close()
	printOK("lua scripts loaded")
	fmt.Println()

	// 5. Create host, clock and dispatcher
	loop := host.NewLoopHost(cfg.Host.FrameRate, log.Named("host"))
	rt := sim.New(loop, log, sim.Options{
		Clock: clock.Config{
			TimeScale:     cfg.Clock.TimeScale,
			MaxFrameTime:  cfg.Clock.MaxFrameTime.Seconds(),
			PauseOnHidden: cfg.Clock.PauseOnHidden,
			Debug:         cfg.Clock.Debug,
		},
		Dispatcher: tick.Config{
			TickRate:           cfg.Dispatcher.TickRate,
			MaxUpdatesPerFrame: cfg.Dispatcher.MaxUpdatesPerFrame,
			EndCheckInterval:   cfg.Dispatcher.EndCheckInterval,
			SecondsPerDay:      cfg.Game.SecondsPerDay,
			Debug:              cfg.Dispatcher.Debug,
		},
	})
	defer rt.Shutdown()
	clk := rt.Clock()
	disp := rt.Dispatcher()

	// 6. Build game state, restoring the save slot if there is one
	printSection("game")
	state := game.NewState(resources.Defs())
	if saves != nil {
		restored, err := system.RestoreSlot(ctx, saves, cfg.Game.SaveSlot, state, clk, log)
		if err != nil {
			return fmt.Errorf("restore slot %d: %w", cfg.Game.SaveSlot, err)
		}
		if restored {
			printOK(fmt.Sprintf("slot %d restored", cfg.Game.SaveSlot))
			printStat("game seconds", clk.TotalGameTime())
			printStat("milestones reached", state.MilestoneCount())
		} else {
			printOK("new game")
		}
	} else {
		printOK("new game")
	}
	if state.Ended() {
		printReady(fmt.Sprintf("game already over (%s)", state.Outcome()))
		return nil
	}
	fmt.Println()

	// 7. Create systems and register with runner
	bus := event.NewBus()
	events := system.NewEventSystem(bus, log.Named("event"), lua)
	runner := coresys.NewRunner()
	runner.Register(events)
	runner.Register(system.NewResourceSystem(state, bus))
	runner.Register(system.NewProgressionSystem(state, bus, clk, milestones.All(), cfg.Game.SecondsPerDay, log.Named("progression")))

	var autosave *system.AutosaveSystem
	if saves != nil {
		autosave = system.NewAutosaveSystem(state, clk, saves, log.Named("autosave"), cfg.Game.SaveSlot, runID, cfg.Game.AutosaveInterval)
		autosave.Start(ctx)
		runner.Register(autosave)
	}
	disp.RegisterCallback("systems", runner)
	printStat("systems", runner.Len())

	ctx, endGame := context.WithCancel(ctx)
	defer endGame()
	endCheck := system.NewEndCheck(state, lua)
	disp.SetEndCondition(tick.EndConditionFunc(func(ec tick.EndContext) (bool, error) {
		over, err := endCheck.GameOver(ec)
		if over {
			endGame()
		}
		return over, err
	}))

	// 8. Start the stats feed
	printSection("server ready")
	if cfg.Feed.Enabled {
		feed := statsfeed.New(statsfeed.Config{
			Interval:  cfg.Feed.Interval,
			WriteWait: cfg.Feed.WriteTimeout,
		}, func(ctx context.Context) (tick.Stats, error) {
			var st tick.Stats
			err := loop.Call(ctx, func() { st = disp.Stats() })
			return st, err
		}, log.Named("feed"))
		events.AddHook(feed)
		if cfg.Host.HideWithoutViewers {
			loop.SetVisible(false)
			feed.OnViewers(func(n int) { loop.SetVisible(n > 0) })
		}

		mux := http.NewServeMux()
		mux.Handle("/feed", feed)
		srv := &http.Server{Addr: cfg.Feed.BindAddress, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go feed.Run(ctx)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("feed server failed", zap.Error(err))
			}
		}()
		defer srv.Close()
		printReady(fmt.Sprintf("stats feed ws://%s/feed", cfg.Feed.BindAddress))
	}

	// 9. Start game loop
	loop.Post(disp.Start)
	printReady(printer.Sprintf("simulation loop (%.0f fps, %.0f ticks/s, x%.2f)",
		cfg.Host.FrameRate, disp.TickRate(), cfg.Clock.TimeScale))
	fmt.Println()

	loop.Run(ctx)

	// The loop goroutine has exited; the simulation is ours now.
	stats := disp.Stats()
	rt.Shutdown()
	if n := system.DrainEvents(runner, bus); n > 0 {
		log.Info("delivered final tick events", zap.Int("events", n))
	}
	if state.Ended() {
		log.Info("game over", zap.String("outcome", state.Outcome()))
	} else {
		log.Info("shutting down")
	}
	if autosave != nil {
		autosave.Close()
		if err := autosave.SaveNow(context.Background()); err != nil {
			log.Error("final save failed", zap.Error(err))
		}
	}

	fmt.Println()
	printSection("summary")
	printStat("ticks", stats.TickCount)
	printStat("frames", stats.FrameCount)
	printStat("game seconds", stats.TotalGameTime)
	printStat("day", stats.CurrentDay)
	printStat("milestones reached", state.MilestoneCount())
	if stats.DroppedFrames > 0 {
		printStat("frames over tick cap", stats.DroppedFrames)
	}
	log.Info("server stopped")
	return nil
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
