package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	mem "progresskit/adapters/memory"
	"progresskit/core"
	"progresskit/engine"
	"progresskit/leaderboard"
	"progresskit/realtime"
)

func newTestHandler(t *testing.T, opts Options) http.Handler {
	t.Helper()
	store := mem.New()
	svc := engine.NewService(store, engine.NewEventBus(engine.DispatchSync), core.DefaultCatalog())
	t.Cleanup(svc.Close)
	return NewMux(svc, leaderboard.NewRanker(store), realtime.NewHub(), opts)
}

func postAward(t *testing.T, srv *httptest.Server, user, action string) *http.Response {
	t.Helper()
	body, _ := json.Marshal(map[string]any{"action": action})
	resp, err := http.Post(srv.URL+"/users/"+user+"/awards", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post award: %v", err)
	}
	return resp
}

func TestAwardAndGetUser(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, Options{}))
	defer srv.Close()

	resp := postAward(t, srv, "alice", "quiz-pass")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("award status = %d", resp.StatusCode)
	}
	var res engine.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode award: %v", err)
	}
	if res.XPEarned != 50 || res.TotalXP != 50 {
		t.Fatalf("unexpected result: %+v", res)
	}

	getResp, err := http.Get(srv.URL + "/users/alice")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	defer getResp.Body.Close()
	var prog core.Progression
	if err := json.NewDecoder(getResp.Body).Decode(&prog); err != nil {
		t.Fatalf("decode progression: %v", err)
	}
	if prog.XP != 50 || prog.Level != 1 {
		t.Fatalf("unexpected progression: %+v", prog)
	}
}

func TestAwardMissingAction(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, Options{}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/users/alice/awards", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryRoute(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, Options{}))
	defer srv.Close()

	postAward(t, srv, "alice", "lesson-complete").Body.Close()
	postAward(t, srv, "alice", "quiz-pass").Body.Close()

	resp, err := http.Get(srv.URL + "/users/alice/history?page=1&limit=10")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	defer resp.Body.Close()
	var events []core.XPEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(events) != 2 || events[0].Action != core.ActionQuizPass {
		t.Fatalf("unexpected history: %+v", events)
	}
}

func TestRankAndLeaderboard(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, Options{}))
	defer srv.Close()

	postAward(t, srv, "alice", "quiz-pass").Body.Close()
	postAward(t, srv, "bob", "lesson-complete").Body.Close()

	resp, err := http.Get(srv.URL + "/users/bob/rank")
	if err != nil {
		t.Fatalf("get rank: %v", err)
	}
	defer resp.Body.Close()
	var rank struct {
		Rank int64 `json:"rank"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rank); err != nil {
		t.Fatalf("decode rank: %v", err)
	}
	if rank.Rank != 2 {
		t.Fatalf("rank = %d, want 2", rank.Rank)
	}

	lbResp, err := http.Get(srv.URL + "/leaderboard?limit=1")
	if err != nil {
		t.Fatalf("get leaderboard: %v", err)
	}
	defer lbResp.Body.Close()
	var entries []leaderboard.Entry
	if err := json.NewDecoder(lbResp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode leaderboard: %v", err)
	}
	if len(entries) != 1 || entries[0].UserID != "alice" || entries[0].Rank != 1 {
		t.Fatalf("unexpected leaderboard: %+v", entries)
	}
}

func TestRankUnknownUser(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, Options{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/users/ghost/rank")
	if err != nil {
		t.Fatalf("get rank: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestBadgeCatalogRoute(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, Options{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/badges")
	if err != nil {
		t.Fatalf("get badges: %v", err)
	}
	defer resp.Body.Close()
	var defs []core.BadgeDef
	if err := json.NewDecoder(resp.Body).Decode(&defs); err != nil {
		t.Fatalf("decode badges: %v", err)
	}
	if len(defs) == 0 || defs[0].ID != "welcome" {
		t.Fatalf("unexpected catalog: %+v", defs)
	}
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, Options{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "healthy" || body.Checks["storage"] != "ok" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, Options{APIKeys: []string{"k1"}}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without key = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	req.Header.Set("X-API-Key", "k1")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get with key: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status with key = %d, want 200", resp2.StatusCode)
	}
}

func TestRateLimit(t *testing.T) {
	srv := httptest.NewServer(newTestHandler(t, Options{
		RateLimitEnabled: true,
		RateLimitRPM:     1,
		RateLimitBurst:   2,
	}))
	defer srv.Close()

	var last int
	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/healthz")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		resp.Body.Close()
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("third request status = %d, want 429", last)
	}
}
