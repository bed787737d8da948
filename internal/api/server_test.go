package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/talgya/marketsim/internal/economy"
	"github.com/talgya/marketsim/internal/engine"
	"github.com/talgya/marketsim/internal/population"
)

type fakeHistory struct {
	runID string
	limit int
}

func (f *fakeHistory) RecentSummaries(runID string, limit int) ([]engine.Summary, error) {
	f.runID, f.limit = runID, limit
	return []engine.Summary{{Day: 2}, {Day: 1}}, nil
}

func (f *fakeHistory) RecentEvents(runID string, limit int) ([]engine.Event, error) {
	f.runID, f.limit = runID, limit
	return []engine.Event{{Day: 1, Category: "idle", Description: "x"}}, nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestServer(t *testing.T, history History) (*Server, *engine.Simulation) {
	t.Helper()
	cat := economy.NewCatalog()
	grain, err := cat.AddProduct(economy.ProductDef{Name: "Grain", Fractional: true})
	if err != nil {
		t.Fatalf("AddProduct: %v", err)
	}
	m, err := economy.NewMarket(1, "Harbor", cat,
		economy.Ledger{grain: d("2")}, economy.Ledger{grain: d("30")})
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	g, err := population.NewGroup(population.GroupConfig{
		ID: 1, Name: "Farmers", MarketID: 1, Count: 10, Catalog: cat,
		Needs: population.NewNeedBasket(economy.Ledger{grain: d("1")}, nil, nil),
	})
	if err != nil {
		t.Fatalf("NewGroup: %v", err)
	}
	sim, err := engine.NewSimulation(cat, []*economy.Market{m}, []*population.Group{g}, economy.NoGood, nil)
	if err != nil {
		t.Fatalf("NewSimulation: %v", err)
	}
	return NewServer(engine.NewEngine(), cat, history, 0, "secret"), sim
}

func get(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v\n%s", path, err, rec.Body.String())
		}
	}
	return rec.Code
}

func TestStatusBeforeAndAfterPublish(t *testing.T) {
	s, sim := newTestServer(t, nil)
	h := s.Handler()

	var status map[string]any
	if code := get(t, h, "/api/v1/status", &status); code != http.StatusOK {
		t.Fatalf("status code %d", code)
	}
	if status["day"].(float64) != 0 {
		t.Fatalf("day before publish: %v", status["day"])
	}

	r, err := sim.RunDay()
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	s.Publish(r)

	get(t, h, "/api/v1/status", &status)
	if status["day"].(float64) != 1 || status["run_id"] != sim.RunID.String() {
		t.Fatalf("status after publish: %v", status)
	}
}

func TestMarketAndGroupViews(t *testing.T) {
	s, sim := newTestServer(t, nil)
	r, err := sim.RunDay()
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	s.Publish(r)
	h := s.Handler()

	var markets []map[string]any
	get(t, h, "/api/v1/markets", &markets)
	if len(markets) != 1 || markets[0]["name"] != "Harbor" {
		t.Fatalf("markets: %v", markets)
	}
	sold := markets[0]["stockpile_sold"].(map[string]any)
	if sold["Grain"] != "10" {
		t.Fatalf("stockpile sold: %v", sold)
	}

	var market map[string]any
	if code := get(t, h, "/api/v1/market/1", &market); code != http.StatusOK {
		t.Fatalf("market detail code %d", code)
	}
	if len(market["groups"].([]any)) != 1 {
		t.Fatalf("market groups: %v", market["groups"])
	}
	if code := get(t, h, "/api/v1/market/9", nil); code != http.StatusNotFound {
		t.Fatalf("missing market code %d", code)
	}
	if code := get(t, h, "/api/v1/market/abc", nil); code != http.StatusBadRequest {
		t.Fatalf("bad market id code %d", code)
	}

	var groups []map[string]any
	get(t, h, "/api/v1/groups?market=1", &groups)
	if len(groups) != 1 || groups[0]["life"] != "1.000" {
		t.Fatalf("groups: %v", groups)
	}
	get(t, h, "/api/v1/groups?market=2", &groups)
	if len(groups) != 0 {
		t.Fatalf("filtered groups: %v", groups)
	}

	var group map[string]any
	get(t, h, "/api/v1/group/1", &group)
	bought := group["bought"].(map[string]any)
	if bought["Grain"] != "10" {
		t.Fatalf("group bought: %v", bought)
	}
	if code := get(t, h, "/api/v1/group/7", nil); code != http.StatusNotFound {
		t.Fatalf("missing group code %d", code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	hist := &fakeHistory{}
	s, _ := newTestServer(t, hist)
	s.SetRunID("run-1")
	h := s.Handler()

	var days []engine.Summary
	if code := get(t, h, "/api/v1/days?limit=5", &days); code != http.StatusOK {
		t.Fatalf("days code %d", code)
	}
	if len(days) != 2 || hist.runID != "run-1" || hist.limit != 5 {
		t.Fatalf("days=%v run=%q limit=%d", days, hist.runID, hist.limit)
	}
	if code := get(t, h, "/api/v1/days?limit=0", nil); code != http.StatusBadRequest {
		t.Fatalf("bad limit code %d", code)
	}
	get(t, h, "/api/v1/days?limit=99999", nil)
	if hist.limit != maxHistory {
		t.Fatalf("limit not capped: %d", hist.limit)
	}

	var events []engine.Event
	get(t, h, "/api/v1/events", &events)
	if len(events) != 1 || hist.limit != defaultHistory {
		t.Fatalf("events=%v limit=%d", events, hist.limit)
	}
}

func TestDaysWithoutHistory(t *testing.T) {
	s, _ := newTestServer(t, nil)
	if code := get(t, s.Handler(), "/api/v1/days", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("code %d", code)
	}
}

func TestSpeedRequiresAdmin(t *testing.T) {
	s, _ := newTestServer(t, nil)
	h := s.Handler()

	post := func(auth, body string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/speed", strings.NewReader(body))
		if auth != "" {
			req.Header.Set("Authorization", "Bearer "+auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := post("", `{"speed": 5}`); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	if code := post("wrong", `{"speed": 5}`); code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", code)
	}
	if code := post("secret", `{"speed": -1}`); code != http.StatusBadRequest {
		t.Fatalf("negative speed: %d", code)
	}
	if code := post("secret", `{"speed": 5}`); code != http.StatusOK {
		t.Fatalf("valid: %d", code)
	}
	if s.Eng.Speed() != 5 {
		t.Fatalf("speed %v", s.Eng.Speed())
	}

	s.AdminKey = ""
	if code := post("secret", `{"speed": 2}`); code != http.StatusForbidden {
		t.Fatalf("disabled admin: %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, sim := newTestServer(t, nil)
	r, err := sim.RunDay()
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	s.Publish(r)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"marketsim_day 1", "marketsim_population 10", `marketsim_price{good="Grain",market="1"} 2`} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestStreamReceivesPublishedDay(t *testing.T) {
	s, sim := newTestServer(t, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	r, err := sim.RunDay()
	if err != nil {
		t.Fatalf("RunDay: %v", err)
	}
	s.Publish(r)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got streamMessage
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != "day" || got.Day != 1 || got.Summary.Population != 10 {
		t.Fatalf("message %+v", got)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("a"); !ok {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	now = now.Add(15 * time.Second)
	ok, wait := rl.Allow("a")
	if ok || wait != 45*time.Second {
		t.Fatalf("third request should wait 45s, got %v %v", ok, wait)
	}
	if ok, _ := rl.Allow("b"); !ok {
		t.Fatalf("other client should pass")
	}
	now = now.Add(45 * time.Second)
	if ok, _ := rl.Allow("a"); !ok {
		t.Fatalf("new window should allow")
	}
	if _, tracked := rl.clients["b"]; tracked {
		t.Fatalf("closed windows should be swept")
	}
}

func TestHistoryRateLimit(t *testing.T) {
	s, _ := newTestServer(t, &fakeHistory{})
	s.HistoryRate = 1
	h := s.Handler()

	if code := get(t, h, "/api/v1/days", nil); code != http.StatusOK {
		t.Fatalf("first history request: %d", code)
	}
	// Days and events share one budget.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/events", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second history request should be limited, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("Retry-After %q", got)
	}
	if code := get(t, h, "/api/v1/status", nil); code != http.StatusOK {
		t.Fatalf("status is not limited, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := clientIP(req); got != "10.0.0.1" {
		t.Fatalf("remote addr: %q", got)
	}
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	if got := clientIP(req); got != "1.2.3.4" {
		t.Fatalf("forwarded: %q", got)
	}
}
