// Command marketsim runs the market exchange simulation.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/talgya/marketsim/internal/api"
	"github.com/talgya/marketsim/internal/engine"
	"github.com/talgya/marketsim/internal/entropy"
	"github.com/talgya/marketsim/internal/persistence"
	"github.com/talgya/marketsim/internal/scenario"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("MARKETSIM_LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("marketsim failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	scenarioPath := os.Getenv("MARKETSIM_SCENARIO")
	dbPath := envOr("MARKETSIM_DB", "data/marketsim.db")
	journalDir := envOr("MARKETSIM_JOURNAL_DIR", "data/journal")
	apiPort, err := envInt("MARKETSIM_PORT", 8080)
	if err != nil {
		return err
	}

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return err
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	slog.Info("database opened", "path", dbPath)

	// ── Scenario (always rebuilt; saved state is overlaid below) ─────
	var file *scenario.File
	if scenarioPath != "" {
		file, err = scenario.Load(scenarioPath)
		if err != nil {
			return err
		}
		slog.Info("scenario loaded", "path", scenarioPath, "name", file.Name)
	} else {
		cfg := scenario.DefaultGenConfig()
		if cfg.Seed, err = generationSeed(db); err != nil {
			return err
		}
		file = scenario.Generate(cfg)
		if err := db.SaveMeta("seed", strconv.FormatInt(file.Seed, 10)); err != nil {
			return err
		}
		slog.Info("scenario generated", "seed", cfg.Seed, "markets", len(file.Markets), "groups", len(file.Groups))
	}
	sim, err := scenario.Build(file)
	if err != nil {
		return err
	}

	resumed, err := db.LoadState(sim)
	if err != nil {
		return err
	}
	if resumed {
		slog.Info("saved state restored",
			"run_id", sim.RunID,
			"day", sim.Day,
			"date", engine.SimDate(sim.Day),
			"groups", sim.Stats.Groups,
			"population", sim.Stats.Population,
		)
	} else {
		slog.Info("no saved state found, starting new run", "run_id", sim.RunID)
	}
	if err := db.StartRun(sim.RunID.String(), file.Name, file.Seed); err != nil {
		return err
	}

	journal := persistence.NewJournal(journalDir, uint64(file.Tuning.JournalDaysPerFile))
	defer journal.Close()

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine()
	eng.Day = sim.Day
	if ms := file.Tuning.DayIntervalMs; ms > 0 {
		eng.Interval = time.Duration(ms) * time.Millisecond
	}
	if file.Tuning.Speed > 0 {
		if err := eng.SetSpeed(file.Tuning.Speed); err != nil {
			return err
		}
	}
	maxDays, err := envInt("MARKETSIM_MAX_DAYS", file.Tuning.MaxDays)
	if err != nil {
		return err
	}
	eng.MaxDays = uint64(max(maxDays, 0))
	snapshotEvery := uint64(file.Tuning.SnapshotEveryDays)
	if snapshotEvery == 0 {
		snapshotEvery = 30
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	adminKey := os.Getenv("MARKETSIM_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("MARKETSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
	}
	historyRate, err := envInt("MARKETSIM_HISTORY_RATE", 0)
	if err != nil {
		return err
	}
	apiServer := api.NewServer(eng, sim.Catalog, db, apiPort, adminKey)
	apiServer.HistoryRate = historyRate
	apiServer.SetRunID(sim.RunID.String())
	apiServer.Start()

	eng.OnDay = func(day uint64) error {
		report, err := sim.RunDay()
		if err != nil {
			return err
		}
		if err := db.SaveDay(report); err != nil {
			slog.Error("save day failed", "day", day, "error", err)
		}
		if err := journal.Write(report); err != nil {
			slog.Error("journal write failed", "day", day, "error", err)
		}
		apiServer.Publish(report)
		if day%snapshotEvery == 0 {
			if err := db.SaveState(sim); err != nil {
				slog.Error("snapshot failed", "day", day, "error", err)
			}
		}
		return nil
	}

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		eng.Stop()
	}()

	fmt.Printf("\n%s is trading: %d groups, %d people across %d markets.\n",
		file.Name, sim.Stats.Groups, sim.Stats.Population, len(sim.Markets))
	fmt.Printf("API: http://localhost:%d/api/v1/status\n", apiPort)
	if resumed {
		fmt.Printf("Resuming after day %d (%s)\n", sim.Day, engine.SimDate(sim.Day))
	}
	fmt.Println("Starting simulation... (Ctrl+C to stop)")

	runErr := eng.Run()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		slog.Warn("API shutdown", "error", err)
	}

	// Final save on shutdown.
	slog.Info("final save...")
	if err := db.SaveState(sim); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	if runErr != nil {
		return runErr
	}
	fmt.Println("Simulation stopped. State saved.")
	return nil
}

// generationSeed picks the seed for a generated scenario. MARKETSIM_SEED=random draws
// one from random.org (RANDOM_ORG_API_KEY) or crypto/rand, and a resumed run reuses
// the seed it was generated with.
func generationSeed(db *persistence.DB) (int64, error) {
	v := os.Getenv("MARKETSIM_SEED")
	if v == "" {
		return 42, nil
	}
	if v != "random" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("MARKETSIM_SEED=%q: %w", v, err)
		}
		return n, nil
	}
	saved, err := db.GetMeta("seed")
	if err == nil {
		if n, err := strconv.ParseInt(saved, 10, 64); err == nil {
			return n, nil
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	return entropy.Seed(entropy.NewClient(os.Getenv("RANDOM_ORG_API_KEY"))), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", key, v, err)
	}
	return n, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
