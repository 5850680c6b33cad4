package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adarena/engine/internal/engine"
	"github.com/adarena/engine/internal/flagcrypt"
	"github.com/adarena/engine/internal/model"
	"github.com/adarena/engine/internal/ratelimit"
	"github.com/adarena/engine/internal/sandbox"
	"github.com/adarena/engine/internal/service"
	"github.com/adarena/engine/internal/state"
)

const testSecret = "api-test-engine-secret"

type stubRuntime struct{}

func (stubRuntime) CreateNetwork(ctx context.Context, matchID string) (sandbox.NetworkRef, error) {
	return sandbox.NetworkRef{ID: "net", Name: sandbox.NetworkName(matchID), Subnet: "172.20.1.0/24"}, nil
}

func (stubRuntime) ProvisionTeamServices(ctx context.Context, matchID, teamID, networkName string, templates []model.ServiceTemplate) ([]model.Container, error) {
	out := make([]model.Container, 0, len(templates))
	for _, tpl := range templates {
		out = append(out, model.Container{
			ID: "ctr-" + teamID + "-" + tpl.ID, TeamID: teamID, TemplateID: tpl.ID,
			ServiceID: teamID + "_" + tpl.ID, Port: tpl.Port, FlagPath: tpl.FlagPath,
		})
	}
	return out, nil
}

func (stubRuntime) InjectFlag(ctx context.Context, containerID, path, value string) error { return nil }
func (stubRuntime) StopAndRemoveContainer(ctx context.Context, containerID string) error { return nil }
func (stubRuntime) RemoveNetwork(ctx context.Context, matchID string) error              { return nil }
func (stubRuntime) ListMatchContainers(ctx context.Context) ([]sandbox.RuntimeContainer, error) {
	return nil, nil
}
func (stubRuntime) ListMatchNetworks(ctx context.Context) ([]sandbox.RuntimeNetwork, error) {
	return nil, nil
}
func (stubRuntime) RemoveNetworkByID(ctx context.Context, n sandbox.RuntimeNetwork) error {
	return nil
}

type stubBackend struct{}

func (stubBackend) FetchCollection(ctx context.Context, difficulty string) ([]model.ServiceTemplate, error) {
	return []model.ServiceTemplate{
		{ID: "tpl1", Type: model.ServiceWeb, DockerImage: "img", Port: 80, FlagPath: "/flag.txt"},
	}, nil
}

func (stubBackend) PushInfrastructure(ctx context.Context, matchID string, inf *model.Infrastructure) {
}

type serverOpts struct {
	maxMatches int
	rateMax    int
	maxBody    int64
	allowedIPs []string
}

func newTestServer(t *testing.T, opts serverOpts) (*Server, *engine.Engine) {
	t.Helper()
	if opts.maxMatches == 0 {
		opts.maxMatches = 10
	}
	if opts.rateMax == 0 {
		opts.rateMax = 100
	}
	if opts.maxBody == 0 {
		opts.maxBody = 50 << 10
	}
	flags, err := flagcrypt.NewManager("api-test-flag-secret-0123", 16)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	prober := func(ctx context.Context, c model.Container) bool { return true }
	eng := engine.New(state.NewStore(opts.maxMatches), stubRuntime{}, stubBackend{}, flags, prober,
		engine.Config{TickInterval: time.Hour})
	svc := service.NewEngineService(eng, ratelimit.New(opts.rateMax))
	return NewServer(0, testSecret, opts.allowedIPs, opts.maxBody, svc), eng
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

func startMatch(t *testing.T, h http.Handler, matchID string) {
	t.Helper()
	body := fmt.Sprintf(`{"matchId":%q,"difficulty":"easy","teamSize":1,"teamA":["p1"],"teamB":["p2"]}`, matchID)
	rec := doJSON(t, h, http.MethodPost, "/engine/match/start", testSecret, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("start returned %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthNoAuth(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["status"] != "ok" || body["service"] != "match-engine" {
		t.Fatalf("health body = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})
	h := srv.Handler()

	if rec := doJSON(t, h, http.MethodGet, "/engine/match/m1/status", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/engine/match/m1/status", "wrong-secret", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: %d", rec.Code)
	}
}

func TestAuthHMAC(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})
	h := srv.Handler()
	startMatch(t, h, "m1")

	sign := func(ts int64, method, path string) string {
		mac := hmac.New(sha256.New, []byte(testSecret))
		fmt.Fprintf(mac, "%d:%s:%s", ts, method, path)
		return fmt.Sprintf("HMAC %d:%s", ts, hex.EncodeToString(mac.Sum(nil)))
	}

	req := httptest.NewRequest(http.MethodGet, "/engine/match/m1/status", nil)
	req.Header.Set("Authorization", sign(time.Now().Unix(), http.MethodGet, "/engine/match/m1/status"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("signed request rejected: %d %s", rec.Code, rec.Body.String())
	}

	// Stale timestamps are rejected.
	req = httptest.NewRequest(http.MethodGet, "/engine/match/m1/status", nil)
	req.Header.Set("Authorization", sign(time.Now().Add(-10*time.Minute).Unix(), http.MethodGet, "/engine/match/m1/status"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("stale signature accepted: %d", rec.Code)
	}

	// A signature over another path does not transfer.
	req = httptest.NewRequest(http.MethodGet, "/engine/match/m1/status", nil)
	req.Header.Set("Authorization", sign(time.Now().Unix(), http.MethodGet, "/engine/match/other/status"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("cross-path signature accepted: %d", rec.Code)
	}
}

func TestIPAllowlist(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{allowedIPs: []string{"10.1.2.3"}})
	h := srv.Handler()

	// httptest requests arrive from 192.0.2.1, which is not allowlisted.
	rec := doJSON(t, h, http.MethodGet, "/engine/match/m1/status", testSecret, "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unlisted peer got %d, want 403", rec.Code)
	}

	srv2, _ := newTestServer(t, serverOpts{allowedIPs: []string{"192.0.2.1"}})
	rec = doJSON(t, srv2.Handler(), http.MethodGet, "/engine/match/m1/status", testSecret, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("allowlisted peer got %d, want 404 for unknown match", rec.Code)
	}
}

func TestStartStatusStopResultFlow(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})
	h := srv.Handler()
	startMatch(t, h, "m1")

	rec := doJSON(t, h, http.MethodGet, "/engine/match/m1/status", testSecret, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status returned %d", rec.Code)
	}
	status := decode[map[string]string](t, rec)
	if status["state"] != string(model.StateRunning) || status["matchId"] != "m1" {
		t.Fatalf("status body = %v", status)
	}

	// Result before the match ends conflicts.
	if rec := doJSON(t, h, http.MethodGet, "/engine/match/m1/result", testSecret, ""); rec.Code != http.StatusConflict {
		t.Fatalf("early result returned %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/engine/match/m1/stop", testSecret, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop returned %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec); got["status"] != "stopped" {
		t.Fatalf("stop body = %v", got)
	}

	rec = doJSON(t, h, http.MethodGet, "/engine/match/m1/result", testSecret, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("result returned %d: %s", rec.Code, rec.Body.String())
	}
	result := decode[model.FinalResult](t, rec)
	if result.MatchID != "m1" || result.Winner != model.WinnerDraw {
		t.Fatalf("result = %+v", result)
	}

	// Stop is idempotent at the RPC surface.
	if rec := doJSON(t, h, http.MethodPost, "/engine/match/m1/stop", testSecret, ""); rec.Code != http.StatusOK {
		t.Fatalf("second stop returned %d", rec.Code)
	}
}

func TestProvisionAndInfrastructure(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})
	h := srv.Handler()

	body := `{"matchId":"m1","difficulty":"easy","teamA":{"teamId":"red","players":["p1"]},"teamB":{"teamId":"blue","players":["p2"]}}`
	rec := doJSON(t, h, http.MethodPost, "/engine/match/provision", testSecret, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("provision returned %d: %s", rec.Code, rec.Body.String())
	}
	type provisionResponse struct {
		Success        bool                  `json:"success"`
		Infrastructure *model.Infrastructure `json:"infrastructure"`
	}
	resp := decode[provisionResponse](t, rec)
	if !resp.Success || resp.Infrastructure == nil || len(resp.Infrastructure.TeamA) != 1 {
		t.Fatalf("provision body = %+v", resp)
	}

	rec = doJSON(t, h, http.MethodGet, "/engine/match/m1/infrastructure", testSecret, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("infrastructure returned %d", rec.Code)
	}

	// Repeat provision conflicts.
	if rec := doJSON(t, h, http.MethodPost, "/engine/match/provision", testSecret, body); rec.Code != http.StatusConflict {
		t.Fatalf("repeat provision returned %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/engine/match/m1/cleanup", testSecret, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup returned %d", rec.Code)
	}
	if rec := doJSON(t, h, http.MethodGet, "/engine/match/m1/infrastructure", testSecret, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("infrastructure after cleanup returned %d", rec.Code)
	}
}

func TestCapacityExhausted(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{maxMatches: 1})
	h := srv.Handler()
	startMatch(t, h, "m1")

	body := `{"matchId":"m2","difficulty":"easy","teamSize":1,"teamA":["p1"],"teamB":["p2"]}`
	rec := doJSON(t, h, http.MethodPost, "/engine/match/start", testSecret, body)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("over-capacity start returned %d", rec.Code)
	}
	errBody := decode[ErrorResponse](t, rec)
	if errBody.Error.Code != service.CodeResourceExhausted {
		t.Fatalf("error code = %q", errBody.Error.Code)
	}
}

func TestSubmitFlagFlow(t *testing.T) {
	srv, eng := newTestServer(t, serverOpts{})
	h := srv.Handler()
	startMatch(t, h, "m1")

	flag := eng.Flags().Generate("m1", "teamB_m1", 0)
	body := fmt.Sprintf(`{"matchId":"m1","teamId":"teamA","flag":%q}`, flag)
	rec := doJSON(t, h, http.MethodPost, "/engine/flag/submit", testSecret, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit returned %d: %s", rec.Code, rec.Body.String())
	}
	if got := decode[map[string]string](t, rec); got["status"] != "accepted" {
		t.Fatalf("submit body = %v", got)
	}

	// The same flag again is rejected with a reason, still HTTP 200.
	rec = doJSON(t, h, http.MethodPost, "/engine/flag/submit", testSecret, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate submit returned %d", rec.Code)
	}
	got := decode[map[string]string](t, rec)
	if got["status"] != "rejected" || got["reason"] == "" {
		t.Fatalf("duplicate submit body = %v", got)
	}
}

func TestSubmitFlagRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{rateMax: 1})
	h := srv.Handler()
	startMatch(t, h, "m1")

	body := `{"matchId":"m1","teamId":"teamA","flag":"FLAG{bm90IHJlYWwgYXQgYWxs}"}`
	if rec := doJSON(t, h, http.MethodPost, "/engine/flag/submit", testSecret, body); rec.Code != http.StatusOK {
		t.Fatalf("first submit returned %d", rec.Code)
	}
	rec := doJSON(t, h, http.MethodPost, "/engine/flag/submit", testSecret, body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("throttled submit returned %d", rec.Code)
	}
	// The throttle answers in the submit-response shape, not the error envelope.
	got := decode[map[string]string](t, rec)
	if got["status"] != "rejected" || got["reason"] == "" {
		t.Fatalf("throttled submit body = %v", got)
	}
}

func TestBodyLimit(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{maxBody: 64})
	h := srv.Handler()

	big := fmt.Sprintf(`{"matchId":"m1","difficulty":%q,"teamSize":1}`, strings.Repeat("x", 200))
	rec := doJSON(t, h, http.MethodPost, "/engine/match/start", testSecret, big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversize body returned %d", rec.Code)
	}
}

func TestRejectsUnknownFields(t *testing.T) {
	srv, _ := newTestServer(t, serverOpts{})
	h := srv.Handler()

	body := `{"matchId":"m1","teamSize":1,"bogus":true}`
	rec := doJSON(t, h, http.MethodPost, "/engine/match/start", testSecret, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field returned %d", rec.Code)
	}
}
