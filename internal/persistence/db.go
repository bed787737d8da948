// Package persistence provides SQLite-based storage for runs, day reports and the
// simulation state needed to resume.
package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/talgya/marketsim/internal/economy"
	"github.com/talgya/marketsim/internal/engine"
	"github.com/talgya/marketsim/internal/population"
)

// DB wraps a SQLite connection for simulation persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		scenario TEXT NOT NULL,
		seed INTEGER NOT NULL,
		started_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS day_summaries (
		run_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		date TEXT NOT NULL,
		group_count INTEGER NOT NULL,
		population INTEGER NOT NULL,
		life TEXT NOT NULL,
		daily TEXT NOT NULL,
		luxury TEXT NOT NULL,
		traded TEXT NOT NULL,
		idle INTEGER NOT NULL,
		starved INTEGER NOT NULL,
		removed INTEGER NOT NULL,
		PRIMARY KEY (run_id, day)
	);

	CREATE TABLE IF NOT EXISTS group_days (
		run_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		group_id INTEGER NOT NULL,
		count INTEGER NOT NULL,
		production_sat TEXT NOT NULL,
		produced_json TEXT NOT NULL,
		bought_json TEXT NOT NULL,
		sold_json TEXT NOT NULL,
		consumed_json TEXT NOT NULL,
		lost_json TEXT NOT NULL,
		satisfaction_json TEXT NOT NULL,
		PRIMARY KEY (run_id, day, group_id)
	);

	CREATE TABLE IF NOT EXISTS market_days (
		run_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		market_id INTEGER NOT NULL,
		sellers INTEGER NOT NULL,
		for_sale_json TEXT NOT NULL,
		sold_json TEXT NOT NULL,
		prices_json TEXT NOT NULL,
		PRIMARY KEY (run_id, day, market_id)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		day INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS group_state (
		id INTEGER PRIMARY KEY,
		count INTEGER NOT NULL,
		storage_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS market_state (
		id INTEGER PRIMARY KEY,
		prices_json TEXT NOT NULL,
		stockpile_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sim_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_day ON events(run_id, day);
	CREATE INDEX IF NOT EXISTS idx_group_days_group ON group_days(group_id, day);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// StartRun records a new run.
func (db *DB) StartRun(runID, scenario string, seed int64) error {
	_, err := db.conn.Exec(
		"INSERT OR IGNORE INTO runs (id, scenario, seed, started_at) VALUES (?, ?, ?, ?)",
		runID, scenario, seed, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	return nil
}

func ledgerJSON(l economy.Ledger) string {
	if l == nil {
		return "{}"
	}
	b, _ := json.Marshal(l)
	return string(b)
}

// SaveDay appends one day report: summary, group rows, market rows and events.
func (db *DB) SaveDay(r *engine.DayReport) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	s := r.Summary
	_, err = tx.Exec(`INSERT OR REPLACE INTO day_summaries
		(run_id, day, date, group_count, population, life, daily, luxury, traded, idle, starved, removed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Day, r.Date, s.Groups, s.Population,
		s.Satisfaction[population.TierLife].String(),
		s.Satisfaction[population.TierDaily].String(),
		s.Satisfaction[population.TierLuxury].String(),
		s.Traded.String(), s.Idle, s.Starved, s.Removed,
	)
	if err != nil {
		return fmt.Errorf("insert day summary %d: %w", r.Day, err)
	}

	stmt, err := tx.Preparex(`INSERT OR REPLACE INTO group_days
		(run_id, day, group_id, count, production_sat, produced_json, bought_json,
		 sold_json, consumed_json, lost_json, satisfaction_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, g := range r.Groups {
		satJSON, _ := json.Marshal(g.Satisfaction)
		_, err := stmt.Exec(
			r.RunID, r.Day, g.ID, g.Count, g.ProductionSatisfaction.String(),
			ledgerJSON(g.Produced), ledgerJSON(g.Bought), ledgerJSON(g.Sold),
			ledgerJSON(g.Consumed), ledgerJSON(g.Lost), string(satJSON),
		)
		if err != nil {
			return fmt.Errorf("insert group day %d: %w", g.ID, err)
		}
	}

	for _, m := range r.Markets {
		_, err := tx.Exec(`INSERT OR REPLACE INTO market_days
			(run_id, day, market_id, sellers, for_sale_json, sold_json, prices_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.Day, m.ID, m.Sellers,
			ledgerJSON(m.ForSale), ledgerJSON(m.Sold), ledgerJSON(m.Prices),
		)
		if err != nil {
			return fmt.Errorf("insert market day %d: %w", m.ID, err)
		}
	}

	for _, e := range r.Events {
		_, err := tx.Exec(
			"INSERT INTO events (run_id, day, description, category) VALUES (?, ?, ?, ?)",
			r.RunID, e.Day, e.Description, e.Category,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveState replaces the resumable state with the simulation's current one.
func (db *DB) SaveState(sim *engine.Simulation) error {
	slog.Info("saving simulation state", "day", sim.Day, "groups", len(sim.Groups), "markets", len(sim.Markets))

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM group_state"); err != nil {
		return err
	}
	for _, g := range sim.Groups {
		_, err := tx.Exec("INSERT INTO group_state (id, count, storage_json) VALUES (?, ?, ?)",
			g.ID, g.Count, ledgerJSON(g.Storage))
		if err != nil {
			return fmt.Errorf("insert group state %d: %w", g.ID, err)
		}
	}

	if _, err := tx.Exec("DELETE FROM market_state"); err != nil {
		return err
	}
	for _, m := range sim.Markets {
		_, err := tx.Exec("INSERT INTO market_state (id, prices_json, stockpile_json) VALUES (?, ?, ?)",
			m.ID, ledgerJSON(m.Prices), ledgerJSON(m.Stockpile))
		if err != nil {
			return fmt.Errorf("insert market state %d: %w", m.ID, err)
		}
	}

	for key, value := range map[string]string{
		"last_day": strconv.FormatUint(sim.Day, 10),
		"run_id":   sim.RunID.String(),
	} {
		if _, err := tx.Exec("INSERT OR REPLACE INTO sim_meta (key, value) VALUES (?, ?)", key, value); err != nil {
			return fmt.Errorf("save meta %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("simulation state saved")
	return nil
}

type groupStateRow struct {
	ID      uint64 `db:"id"`
	Count   int64  `db:"count"`
	Storage string `db:"storage_json"`
}

type marketStateRow struct {
	ID        uint64 `db:"id"`
	Prices    string `db:"prices_json"`
	Stockpile string `db:"stockpile_json"`
}

// LoadState overlays saved state onto a freshly built simulation: the day counter,
// group counts and storage, and market prices and stockpiles. Saved groups or markets
// the simulation does not have are ignored; groups with no saved row are dropped, since
// they had been removed. Reports false when nothing was saved.
func (db *DB) LoadState(sim *engine.Simulation) (bool, error) {
	last, err := db.GetMeta("last_day")
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load last day: %w", err)
	}
	day, err := strconv.ParseUint(last, 10, 64)
	if err != nil {
		return false, fmt.Errorf("parse last day %q: %w", last, err)
	}

	var groups []groupStateRow
	if err := db.conn.Select(&groups, "SELECT id, count, storage_json FROM group_state ORDER BY id"); err != nil {
		return false, fmt.Errorf("load group state: %w", err)
	}
	saved := make(map[population.GroupID]bool, len(groups))
	for _, row := range groups {
		g, ok := sim.GroupIndex[population.GroupID(row.ID)]
		if !ok {
			continue
		}
		storage := economy.NewLedger()
		if err := json.Unmarshal([]byte(row.Storage), &storage); err != nil {
			return false, fmt.Errorf("decode storage of group %d: %w", row.ID, err)
		}
		if err := g.SetCount(row.Count); err != nil {
			return false, err
		}
		g.Storage = storage
		saved[g.ID] = true
	}
	var gone []population.GroupID
	for _, g := range sim.Groups {
		if !saved[g.ID] {
			gone = append(gone, g.ID)
		}
	}
	for _, id := range gone {
		sim.RemoveGroup(id)
	}

	var markets []marketStateRow
	if err := db.conn.Select(&markets, "SELECT id, prices_json, stockpile_json FROM market_state ORDER BY id"); err != nil {
		return false, fmt.Errorf("load market state: %w", err)
	}
	for _, row := range markets {
		m, ok := sim.MarketIndex[economy.MarketID(row.ID)]
		if !ok {
			continue
		}
		prices, stockpile := economy.NewLedger(), economy.NewLedger()
		if err := json.Unmarshal([]byte(row.Prices), &prices); err != nil {
			return false, fmt.Errorf("decode prices of market %d: %w", row.ID, err)
		}
		if err := json.Unmarshal([]byte(row.Stockpile), &stockpile); err != nil {
			return false, fmt.Errorf("decode stockpile of market %d: %w", row.ID, err)
		}
		m.Prices = prices
		m.Stockpile = stockpile
	}

	if id, err := db.GetMeta("run_id"); err == nil {
		if runID, err := uuid.Parse(id); err == nil {
			sim.RunID = runID
		}
	}
	sim.Day = day
	sim.RefreshStats()
	slog.Info("simulation state loaded", "day", day, "groups", len(groups), "dropped", len(gone), "markets", len(markets))
	return true, nil
}

// SaveMeta stores a key-value pair in simulation metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO sim_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value. Missing keys return sql.ErrNoRows.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM sim_meta WHERE key = ?", key)
	return value, err
}

type summaryRow struct {
	Day        uint64 `db:"day"`
	Groups     int    `db:"group_count"`
	Population int64  `db:"population"`
	Life       string `db:"life"`
	Daily      string `db:"daily"`
	Luxury     string `db:"luxury"`
	Traded     string `db:"traded"`
	Idle       int    `db:"idle"`
	Starved    int    `db:"starved"`
	Removed    int    `db:"removed"`
}

// RecentSummaries returns the latest day summaries of a run, newest first.
func (db *DB) RecentSummaries(runID string, limit int) ([]engine.Summary, error) {
	var rows []summaryRow
	err := db.conn.Select(&rows,
		`SELECT day, group_count, population, life, daily, luxury, traded, idle, starved, removed
		 FROM day_summaries WHERE run_id = ? ORDER BY day DESC LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, err
	}

	out := make([]engine.Summary, 0, len(rows))
	for _, row := range rows {
		s := engine.Summary{
			Day:        row.Day,
			Groups:     row.Groups,
			Population: row.Population,
			Idle:       row.Idle,
			Starved:    row.Starved,
			Removed:    row.Removed,
		}
		for i, v := range []string{row.Life, row.Daily, row.Luxury} {
			if s.Satisfaction[i], err = decimal.NewFromString(v); err != nil {
				return nil, fmt.Errorf("summary day %d: %w", row.Day, err)
			}
		}
		if s.Traded, err = decimal.NewFromString(row.Traded); err != nil {
			return nil, fmt.Errorf("summary day %d: %w", row.Day, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// RecentEvents returns the most recent events of a run.
func (db *DB) RecentEvents(runID string, limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT day, description, category FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?",
		runID, limit,
	)
	return events, err
}
