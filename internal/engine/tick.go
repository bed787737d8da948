// Package engine provides the daily simulation loop and the day cycle it drives.
package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Calendar.
const (
	DaysPerSeason = 90
	DaysPerYear   = 4 * DaysPerSeason
)

// Engine drives the simulation forward one day per tick.
type Engine struct {
	Day      uint64        // Last completed day; set before Run to resume
	Interval time.Duration // Base day interval at speed 1; zero runs flat out
	MaxDays  uint64        // Stop after this many days in this Run; zero runs until Stop

	// OnDay runs each day. An error stops the loop and is returned from Run.
	OnDay func(day uint64) error

	mu      sync.Mutex
	speed   float64 // Multiplier: 1.0 = real-time, 0 = paused
	running atomic.Bool
}

// NewEngine creates an engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval: time.Second,
		speed:    1.0,
	}
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero pauses.
func (e *Engine) SetSpeed(v float64) error {
	if v < 0 {
		return fmt.Errorf("speed %v must not be negative", v)
	}
	e.mu.Lock()
	e.speed = v
	e.mu.Unlock()
	return nil
}

// Running reports whether Run is looping.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// Run starts the simulation loop. Blocks until Stop is called, MaxDays is reached, or
// OnDay fails.
func (e *Engine) Run() error {
	e.running.Store(true)
	defer e.running.Store(false)
	slog.Info("simulation engine started", "day", e.Day, "speed", e.Speed())

	start := e.Day
	for e.running.Load() {
		speed := e.Speed()
		if speed <= 0 {
			// Paused: sleep briefly and check again.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		began := time.Now()
		if err := e.step(); err != nil {
			slog.Error("simulation engine halted", "day", e.Day, "error", err)
			return err
		}
		if e.MaxDays > 0 && e.Day-start >= e.MaxDays {
			break
		}

		// Sleep for the remainder of the day interval, adjusted for speed.
		elapsed := time.Since(began)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			time.Sleep(target - elapsed)
		}
	}

	slog.Info("simulation engine stopped", "day", e.Day)
	return nil
}

// Stop halts the simulation loop after the current day.
func (e *Engine) Stop() {
	e.running.Store(false)
}

// step advances the simulation by one day.
func (e *Engine) step() error {
	next := e.Day + 1
	if e.OnDay != nil {
		if err := e.OnDay(next); err != nil {
			return fmt.Errorf("day %d: %w", next, err)
		}
	}
	e.Day = next
	return nil
}

// SimDate returns a human-readable date for a day number, day 1 being the first.
func SimDate(day uint64) string {
	if day == 0 {
		return "before Spring Day 1, Year 1"
	}
	d := day - 1
	return fmt.Sprintf("%s Day %d, Year %d", SeasonOf(day), d%DaysPerSeason+1, d/DaysPerYear+1)
}
