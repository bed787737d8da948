// Package api provides the HTTP API for observing the market simulation.
// GET endpoints are public (read-only observation).
// POST endpoints require a bearer token (admin control plane).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/talgya/marketsim/internal/economy"
	"github.com/talgya/marketsim/internal/engine"
	"github.com/talgya/marketsim/internal/population"
)

const (
	defaultHistory = 30
	maxHistory     = 1000
	maxSpeed       = 1000
)

// History answers queries over persisted days.
type History interface {
	RecentSummaries(runID string, limit int) ([]engine.Summary, error)
	RecentEvents(runID string, limit int) ([]engine.Event, error)
}

// Server serves the latest published day over HTTP. It never touches live
// simulation state; the day loop hands it finished reports through Publish.
type Server struct {
	Eng      *engine.Engine
	Catalog  *economy.Catalog
	History  History // Optional; history endpoints answer 503 without it
	Metrics  *Metrics
	Port     int
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.

	// HistoryRate caps history requests per client per minute; zero uses the default.
	HistoryRate int

	hub *Hub

	mu     sync.RWMutex
	latest *engine.DayReport
	runID  string

	httpServer *http.Server
}

// NewServer creates a server with a stream hub and a metrics registry.
func NewServer(eng *engine.Engine, catalog *economy.Catalog, history History, port int, adminKey string) *Server {
	return &Server{
		Eng:      eng,
		Catalog:  catalog,
		History:  history,
		Metrics:  NewMetrics(catalog),
		Port:     port,
		AdminKey: adminKey,
		hub:      NewHub(maxStreamConns),
	}
}

// SetRunID records the run served before the first day is published.
func (s *Server) SetRunID(id string) {
	s.mu.Lock()
	s.runID = id
	s.mu.Unlock()
}

// Publish makes a finished day visible to readers and streams it to subscribers.
func (s *Server) Publish(r *engine.DayReport) {
	s.mu.Lock()
	s.latest = r
	s.runID = r.RunID
	s.mu.Unlock()

	if s.Metrics != nil {
		s.Metrics.Observe(r)
	}
	msg, err := json.Marshal(streamMessage{Type: "day", Day: r.Day, Date: r.Date, Summary: r.Summary, Events: r.Events})
	if err != nil {
		slog.Error("encode stream message", "day", r.Day, "error", err)
		return
	}
	s.hub.Broadcast(msg)
}

func (s *Server) snapshot() (*engine.DayReport, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest, s.runID
}

// Handler builds the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	rate := s.HistoryRate
	if rate <= 0 {
		rate = defaultHistoryRate
	}
	history := NewRateLimiter(rate, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints (GET, read-only).
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/goods", s.handleGoods)
	mux.HandleFunc("/api/v1/markets", s.handleMarkets)
	mux.HandleFunc("/api/v1/market/", s.handleMarketDetail)
	mux.HandleFunc("/api/v1/groups", s.handleGroups)
	mux.HandleFunc("/api/v1/group/", s.handleGroupDetail)
	mux.HandleFunc("/api/v1/events", history.Limit(s.handleEvents))
	mux.HandleFunc("/api/v1/days", history.Limit(s.handleDays))

	// Live day stream over websocket.
	mux.Handle("/api/v1/stream", s.hub)

	if s.Metrics != nil {
		mux.Handle("/metrics", s.Metrics.Handler())
	}

	// Admin endpoints (POST, require bearer token).
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))

	return corsMiddleware(mux)
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	addr := fmt.Sprintf(":%d", s.Port)
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

// Shutdown stops the listener and closes stream subscribers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Set CORS_ORIGINS env var to a comma-separated list of allowed origins.
// Localhost dev servers are always allowed.
func corsMiddleware(next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	if env := os.Getenv("CORS_ORIGINS"); env != "" {
		for _, origin := range strings.Split(env, ",") {
			origin = strings.TrimSpace(origin)
			if origin != "" {
				allowedOrigins[origin] = true
			}
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth on POST requests.
// GET requests pass through (for endpoints that support both GET and POST).
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no MARKETSIM_ADMIN_KEY set)", http.StatusForbidden)
				return
			}

			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	latest, runID := s.snapshot()
	status := map[string]any{
		"name":    "marketsim",
		"run_id":  runID,
		"speed":   s.Eng.Speed(),
		"running": s.Eng.Running(),
		"day":     uint64(0),
	}
	if latest != nil {
		status["day"] = latest.Day
		status["date"] = latest.Date
		status["summary"] = latest.Summary
	}
	writeJSON(w, status)
}

func (s *Server) handleGoods(w http.ResponseWriter, r *http.Request) {
	type goodSummary struct {
		ID         economy.GoodID `json:"id"`
		Key        string         `json:"key"`
		Kind       string         `json:"kind"`
		Fractional bool           `json:"fractional,omitempty"`
	}
	var out []goodSummary
	for _, g := range s.Catalog.All() {
		out = append(out, goodSummary{ID: g.ID, Key: g.Key(), Kind: g.Kind.String(), Fractional: g.Fractional})
	}
	writeJSON(w, out)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	latest, _ := s.snapshot()
	if latest == nil {
		writeJSON(w, []any{})
		return
	}
	out := make([]map[string]any, 0, len(latest.Markets))
	for _, m := range latest.Markets {
		out = append(out, s.marketView(m))
	}
	writeJSON(w, out)
}

func (s *Server) handleMarketDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, "/api/v1/market/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid market id", http.StatusBadRequest)
		return
	}
	latest, _ := s.snapshot()
	if latest != nil {
		for _, m := range latest.Markets {
			if m.ID != economy.MarketID(id) {
				continue
			}
			view := s.marketView(m)
			var members []map[string]any
			for _, g := range latest.Groups {
				if g.MarketID == m.ID {
					members = append(members, map[string]any{"id": g.ID, "name": g.Name, "count": g.Count, "job": g.Job})
				}
			}
			view["groups"] = members
			writeJSON(w, view)
			return
		}
	}
	http.Error(w, "market not found", http.StatusNotFound)
}

func (s *Server) marketView(m engine.MarketDay) map[string]any {
	return map[string]any{
		"id":             m.ID,
		"name":           m.Name,
		"sellers":        m.Sellers,
		"for_sale":       s.named(m.ForSale),
		"sold":           s.named(m.Sold),
		"stockpile_sold": s.named(m.StockpileSold),
		"stockpile":      s.named(m.Stockpile),
		"prices":         s.named(m.Prices),
	}
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	type groupSummary struct {
		ID         population.GroupID `json:"id"`
		Name       string             `json:"name"`
		MarketID   economy.MarketID   `json:"market_id"`
		Count      int64              `json:"count"`
		Job        string             `json:"job,omitempty"`
		Production string             `json:"production_satisfaction"`
		Life       string             `json:"life"`
		Daily      string             `json:"daily"`
		Luxury     string             `json:"luxury"`
	}

	latest, _ := s.snapshot()
	out := []groupSummary{}
	if latest == nil {
		writeJSON(w, out)
		return
	}
	market := r.URL.Query().Get("market")
	for _, g := range latest.Groups {
		if market != "" && strconv.FormatUint(uint64(g.MarketID), 10) != market {
			continue
		}
		out = append(out, groupSummary{
			ID:         g.ID,
			Name:       g.Name,
			MarketID:   g.MarketID,
			Count:      g.Count,
			Job:        g.Job,
			Production: g.ProductionSatisfaction.StringFixed(3),
			Life:       tierAverage(g.Satisfaction[population.TierLife]),
			Daily:      tierAverage(g.Satisfaction[population.TierDaily]),
			Luxury:     tierAverage(g.Satisfaction[population.TierLuxury]),
		})
	}
	writeJSON(w, out)
}

func tierAverage(l economy.Ledger) string {
	if len(l) == 0 {
		return "1.000"
	}
	return l.Total().Div(decimal.NewFromInt(int64(len(l)))).StringFixed(3)
}

func (s *Server) handleGroupDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(strings.TrimPrefix(r.URL.Path, "/api/v1/group/"), 10, 64)
	if err != nil {
		http.Error(w, "invalid group id", http.StatusBadRequest)
		return
	}
	latest, _ := s.snapshot()
	if latest == nil {
		http.Error(w, "group not found", http.StatusNotFound)
		return
	}
	g, ok := latest.Group(population.GroupID(id))
	if !ok {
		http.Error(w, "group not found", http.StatusNotFound)
		return
	}

	satisfaction := make(map[string]map[string]string, population.NumTiers)
	for _, t := range population.Tiers() {
		satisfaction[t.String()] = s.named(g.Satisfaction[t])
	}
	writeJSON(w, map[string]any{
		"id":                      g.ID,
		"name":                    g.Name,
		"market_id":               g.MarketID,
		"count":                   g.Count,
		"job":                     g.Job,
		"production_satisfaction": g.ProductionSatisfaction.StringFixed(3),
		"surplus_labor":           g.SurplusLabor.String(),
		"produced":                s.named(g.Produced),
		"offered":                 s.named(g.Offered),
		"bought":                  s.named(g.Bought),
		"sold":                    s.named(g.Sold),
		"consumed":                s.named(g.Consumed),
		"lost":                    s.named(g.Lost),
		"storage":                 s.named(g.Storage),
		"satisfaction":            satisfaction,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	latest, runID := s.snapshot()
	if s.History == nil {
		events := []engine.Event{}
		if latest != nil {
			events = append(events, latest.Events...)
		}
		if len(events) > limit {
			events = events[len(events)-limit:]
		}
		writeJSON(w, events)
		return
	}
	events, err := s.History.RecentEvents(runID, limit)
	if err != nil {
		slog.Error("query events", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []engine.Event{}
	}
	writeJSON(w, events)
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	if s.History == nil {
		http.Error(w, "history not configured", http.StatusServiceUnavailable)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_, runID := s.snapshot()
	days, err := s.History.RecentSummaries(runID, limit)
	if err != nil {
		slog.Error("query day summaries", "error", err)
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	if days == nil {
		days = []engine.Summary{}
	}
	writeJSON(w, days)
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed float64 `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Speed < 0 || req.Speed > maxSpeed {
			http.Error(w, fmt.Sprintf("speed must be 0-%d", maxSpeed), http.StatusBadRequest)
			return
		}
		if err := s.Eng.SetSpeed(req.Speed); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Info("speed changed", "speed", req.Speed)
	}

	writeJSON(w, map[string]float64{"speed": s.Eng.Speed()})
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultHistory, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return min(n, maxHistory), nil
}

// named re-keys a ledger by good key for display.
func (s *Server) named(l economy.Ledger) map[string]string {
	out := make(map[string]string, len(l))
	for _, g := range l.Goods() {
		out[s.Catalog.Name(g)] = l.Get(g).String()
	}
	return out
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
