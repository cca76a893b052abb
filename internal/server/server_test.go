package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/alanyoungcy/chainbandit/internal/bandit"
	"github.com/alanyoungcy/chainbandit/internal/domain"
	"github.com/alanyoungcy/chainbandit/internal/metrics"
	"github.com/alanyoungcy/chainbandit/internal/server/handler"
	"github.com/alanyoungcy/chainbandit/internal/server/ws"
	"github.com/alanyoungcy/chainbandit/internal/store/memory"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

type APISuite struct {
	suite.Suite
	store  *memory.ArmStore
	engine *bandit.Thompson
	hub    *ws.Hub
	srv    *httptest.Server
	cancel context.CancelFunc
}

func (s *APISuite) SetupTest() {
	s.store = memory.NewArmStore()
	reg := prometheus.NewRegistry()
	s.hub = ws.NewHub(nil, "", ws.Config{Mode: "server", Strategy: "thompson"}, quiet)

	engine, err := bandit.NewThompson([]string{"ethereum", "polygon", "arbitrum"}, s.store,
		bandit.WithSource(rand.NewPCG(3, 4)),
		bandit.WithSink(bandit.MultiSink{metrics.NewSink(reg), s.hub}),
	)
	s.Require().NoError(err)
	s.engine = engine

	h := Handlers{
		Health: handler.NewHealthHandler(map[string]handler.Check{
			"store": func(context.Context) error { return nil },
		}, quiet),
		Bandit:  handler.NewBanditHandler(engine, quiet),
		WS:      s.hub,
		Metrics: reg,
	}
	s.srv = httptest.NewServer(NewHandler(Config{APIKey: "secret"}, h, nil, quiet))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.hub.Run(ctx)
}

func (s *APISuite) TearDownTest() {
	s.cancel()
	s.srv.Close()
}

func (s *APISuite) do(method, path, body string, auth bool) *http.Response {
	req, err := http.NewRequest(method, s.srv.URL+path, strings.NewReader(body))
	s.Require().NoError(err)
	if auth {
		req.Header.Set("Authorization", "Bearer secret")
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	s.T().Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *APISuite) decode(resp *http.Response, v any) {
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
}

func (s *APISuite) TestHealthIsPublic() {
	resp := s.do(http.MethodGet, "/api/health", "", false)
	s.Equal(http.StatusOK, resp.StatusCode)
	var body map[string]any
	s.decode(resp, &body)
	s.Equal("ok", body["status"])
}

func (s *APISuite) TestAuthRequired() {
	resp := s.do(http.MethodGet, "/api/bandit/state", "", false)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *APISuite) TestStateReflectsUpdates() {
	resp := s.do(http.MethodPost, "/api/bandit/update", `{"chain":"polygon","success":true,"reward":2}`, true)
	s.Require().Equal(http.StatusNoContent, resp.StatusCode)

	resp = s.do(http.MethodGet, "/api/bandit/state", "", true)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	var body struct {
		Strategy string            `json:"strategy"`
		Chains   []domain.ArmState `json:"chains"`
	}
	s.decode(resp, &body)
	s.Equal("thompson", body.Strategy)
	s.Require().Len(body.Chains, 3)
	s.InDelta(3.2, body.Chains[1].Alpha, 1e-12)

	resp = s.do(http.MethodGet, "/api/bandit/best", "", true)
	var best map[string]string
	s.decode(resp, &best)
	s.Equal("polygon", best["chain"])
}

func (s *APISuite) TestUpdateValidation() {
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/bandit/update", `{"success":true}`, true).StatusCode)
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/bandit/update", `{"chain":"x","bogus":1}`, true).StatusCode)
	// Unknown chains are accepted and ignored.
	s.Equal(http.StatusNoContent, s.do(http.MethodPost, "/api/bandit/update", `{"chain":"solana","success":true}`, true).StatusCode)
}

func (s *APISuite) TestChooseAndDecisions() {
	for i := 0; i < 3; i++ {
		resp := s.do(http.MethodPost, "/api/bandit/choose", "", true)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
	}
	resp := s.do(http.MethodGet, "/api/bandit/decisions?limit=2", "", true)
	var body struct {
		Decisions []domain.Decision `json:"decisions"`
	}
	s.decode(resp, &body)
	s.Len(body.Decisions, 2)
}

func (s *APISuite) TestResetAndDecay() {
	ctx := context.Background()
	s.Require().NoError(s.store.Upsert(ctx, domain.Arm{Chain: "ethereum", Alpha: 10, Beta: 4}, time.Now()))

	s.Equal(http.StatusNoContent, s.do(http.MethodPost, "/api/bandit/decay", `{"factor":0.5}`, true).StatusCode)
	states, err := s.engine.State(ctx)
	s.Require().NoError(err)
	s.InDelta(6.0, states[0].Alpha, 1e-12)

	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/bandit/decay", `{"factor":1.5}`, true).StatusCode)
	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/bandit/reset", `{"chain":"solana"}`, true).StatusCode)
	s.Equal(http.StatusNoContent, s.do(http.MethodPost, "/api/bandit/reset", ``, true).StatusCode)

	states, err = s.engine.State(ctx)
	s.Require().NoError(err)
	s.Equal(2.0, states[0].Alpha)
}

func (s *APISuite) TestMetricsExposed() {
	s.do(http.MethodPost, "/api/bandit/choose", "", true)
	resp := s.do(http.MethodGet, "/metrics", "", false)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Contains(string(body), "chainbandit_decisions_total")
}

func (s *APISuite) TestWebSocketStreamsEvents() {
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	header := http.Header{"X-Api-Key": []string{"secret"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	s.Require().NoError(err)
	defer conn.Close()

	var hello struct {
		Type string `json:"type"`
	}
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	s.Require().NoError(conn.ReadJSON(&hello))
	s.Equal("hello", hello.Type)

	s.Require().Eventually(func() bool { return s.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	s.do(http.MethodPost, "/api/bandit/update", `{"chain":"arbitrum","success":false}`, true)

	var frame struct {
		Type    string       `json:"type"`
		Payload domain.Event `json:"payload"`
	}
	s.Require().NoError(conn.ReadJSON(&frame))
	s.Equal("bandit_event", frame.Type)
	s.Equal(domain.EventUpdate, frame.Payload.Kind)
	s.Equal("arbitrum", frame.Payload.Chain)
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func TestHealthDegraded(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Check{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}, quiet)
	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestRateLimitAppliesToWritesOnly(t *testing.T) {
	engine, err := bandit.NewUCB1([]string{"base"}, bandit.WithSink(bandit.MultiSink{}))
	require.NoError(t, err)
	h := Handlers{
		Health: handler.NewHealthHandler(nil, quiet),
		Bandit: handler.NewBanditHandler(engine, quiet),
	}
	srv := httptest.NewServer(NewHandler(Config{RateLimit: 1}, h, denyAll{}, quiet))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/bandit/state")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/bandit/choose", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	engine, err := bandit.NewUCB1([]string{"base"}, bandit.WithSink(bandit.MultiSink{}))
	require.NoError(t, err)
	h := Handlers{Health: handler.NewHealthHandler(nil, quiet), Bandit: handler.NewBanditHandler(engine, quiet)}
	hnd := NewHandler(Config{CORSOrigins: []string{"https://dash.example"}, APIKey: "k"}, h, nil, quiet)

	req := httptest.NewRequest(http.MethodOptions, "/api/bandit/state", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	hnd.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
