package serve

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everydev1618/pmc/agent"
	"github.com/everydev1618/pmc/bot"
	"github.com/everydev1618/pmc/llm"
	"github.com/everydev1618/pmc/parking"
	"github.com/everydev1618/pmc/store"
	"github.com/everydev1618/pmc/whatsapp"
)

const (
	testAdminToken  = "admin-secret"
	testVerifyToken = "verify-me"
	testAppSecret   = "app-secret"
)

type outbox struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (o *outbox) Send(_ context.Context, userID, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sent == nil {
		o.sent = make(map[string][]string)
	}
	o.sent[userID] = append(o.sent[userID], text)
	return nil
}

func (o *outbox) to(userID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sent[userID]...)
}

type cannedLLM struct{}

func (cannedLLM) Generate(context.Context, []llm.Message, []llm.ToolSchema) (*llm.LLMResponse, error) {
	return &llm.LLMResponse{Content: "listo"}, nil
}

type testServer struct {
	srv     *Server
	svc     *parking.Service
	store   store.Store
	outbox  *outbox
	broker  *EventBroker
	handler http.Handler
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pmc.db"))
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { st.Close() })

	ts := &testServer{store: st, outbox: &outbox{}, broker: NewEventBroker()}
	ts.svc = parking.NewService(st, ts.outbox, parking.WithPublisher(ts.broker))
	engine := bot.NewEngine(ts.svc, agent.NewRunner(cannedLLM{}, nil), ts.outbox,
		bot.Config{Retry: &agent.RetryPolicy{MaxAttempts: 1}}, nil)

	if cfg.AdminToken == "" {
		cfg.AdminToken = testAdminToken
	}
	if cfg.VerifyToken == "" {
		cfg.VerifyToken = testVerifyToken
	}
	ts.srv, err = New(cfg, Deps{Service: ts.svc, Engine: engine, Broker: ts.broker})
	require.NoError(t, err)
	ts.handler = ts.srv.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func textPayload(from, id, body string) []byte {
	return []byte(fmt.Sprintf(`{
  "object": "whatsapp_business_account",
  "entry": [{"changes": [{"field": "messages", "value": {
    "messaging_product": "whatsapp",
    "contacts": [{"wa_id": %[1]q, "profile": {"name": "Ana"}}],
    "messages": [{"from": %[1]q, "id": %[2]q, "timestamp": "1710428400", "type": "text", "text": {"body": %[3]q}}]
  }}]}]
}`, from, id, body))
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, Config{})
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
}

func TestWebhookVerify(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12345", rec.Body.String())

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookHandlesMessages(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook",
		bytes.NewReader(textPayload("573001112233", "wamid.1", "Hola"))))
	require.Equal(t, http.StatusOK, rec.Code)

	msgs := ts.outbox.to("573001112233")
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Bienvenido")

	u, err := ts.store.GetUser(context.Background(), "573001112233")
	require.NoError(t, err)
	assert.Equal(t, store.RoleDriver, u.Role)

	// A redelivery of the same message is acknowledged but not handled again.
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook",
		bytes.NewReader(textPayload("573001112233", "wamid.1", "Hola"))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, ts.outbox.to("573001112233"), 1)
}

func TestWebhookFullQueueAsksForRedelivery(t *testing.T) {
	ts := newTestServer(t, Config{})
	d := bot.NewDispatcher(ts.srv.engine.Handle, bot.DispatcherConfig{Workers: 1, QueueSize: 1}, nil)
	ts.srv.dispatcher = d

	post := func(from, id string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook",
			bytes.NewReader(textPayload(from, id, "Hola"))))
		return rec
	}

	require.Equal(t, http.StatusOK, post("573001112233", "wamid.1").Code)
	rec := post("573009998877", "wamid.2")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		return len(ts.outbox.to("573001112233")) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The redelivery is handled once the queue has room.
	require.Equal(t, http.StatusOK, post("573009998877", "wamid.2").Code)
	require.Eventually(t, func() bool {
		return len(ts.outbox.to("573009998877")) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWebhookRejectsBadInput(t *testing.T) {
	ts := newTestServer(t, Config{AppSecret: testAppSecret})
	body := textPayload("573001112233", "wamid.1", "Hola")

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign(body, "other-secret"))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, ts.outbox.to("573001112233"))

	bad := []byte("{not json")
	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(bad))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign(bad, testAppSecret))
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set(whatsapp.SignatureHeader, whatsapp.Sign(body, testAppSecret))
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, ts.outbox.to("573001112233"), 1)
}

func TestWebhookRateLimit(t *testing.T) {
	ts := newTestServer(t, Config{WebhookRatePerMinute: 1, WebhookBurst: 1})
	path := "/webhook?hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=1"

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Other clients have their own budget.
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "198.51.100.7:4000"
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRateLimitIgnoresForwardedFor(t *testing.T) {
	ts := newTestServer(t, Config{WebhookRatePerMinute: 1, WebhookBurst: 1})
	path := "/webhook?hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=1"

	accepted := 0
	for i := range 20 {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusOK {
			accepted++
		} else {
			assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, ts.srv.limiter.limiters, 1)
}

func TestWebhookRateLimitBehindTrustedProxy(t *testing.T) {
	ts := newTestServer(t, Config{WebhookRatePerMinute: 1, WebhookBurst: 1, TrustedProxies: []string{"10.0.0.0/8"}})
	path := "/webhook?hub.mode=subscribe&hub.verify_token=" + testVerifyToken + "&hub.challenge=1"

	send := func(xff string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = "10.0.0.2:5000"
		req.Header.Set("X-Forwarded-For", xff)
		rec := httptest.NewRecorder()
		ts.handler.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, send("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("198.51.100.1"))
	// A forged left-most hop does not change the client the proxy saw.
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.9, 198.51.100.1"))
	assert.Equal(t, http.StatusOK, send("198.51.100.2"))
}

func TestClientIP(t *testing.T) {
	tp, err := parseTrustedProxies([]string{"10.0.0.0/8", " 192.0.2.10 ", ""})
	require.NoError(t, err)

	tests := []struct {
		name   string
		remote string
		xff    []string
		want   string
	}{
		{"direct", "198.51.100.5:1000", nil, "198.51.100.5"},
		{"untrusted peer forwards", "198.51.100.5:1000", []string{"203.0.113.1"}, "198.51.100.5"},
		{"trusted peer", "10.1.2.3:1000", []string{"203.0.113.1"}, "203.0.113.1"},
		{"right-most untrusted hop", "10.1.2.3:1000", []string{"1.1.1.1, 203.0.113.1, 192.0.2.10"}, "203.0.113.1"},
		{"multiple headers", "10.1.2.3:1000", []string{"1.1.1.1", "203.0.113.2"}, "203.0.113.2"},
		{"garbage hop", "10.1.2.3:1000", []string{"nonsense, 10.9.9.9"}, "10.9.9.9"},
		{"all trusted", "10.1.2.3:1000", []string{"10.4.4.4"}, "10.4.4.4"},
		{"no header", "10.1.2.3:1000", nil, "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			assert.Equal(t, tt.want, tp.clientIP(req))
		})
	}

	_, err = parseTrustedProxies([]string{"proxy.local"})
	assert.Error(t, err)
	_, err = New(Config{TrustedProxies: []string{"300.1.1.1"}}, Deps{})
	assert.Error(t, err)
}

func TestRateLimiterSweep(t *testing.T) {
	rl := newIPRateLimiter(60, 5)
	rl.get("a")
	rl.get("b")
	assert.Equal(t, 0, rl.sweep(time.Now()))
	assert.Equal(t, 2, rl.sweep(time.Now().Add(time.Hour)))
}

func TestAdminAuth(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/lots", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/lots", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/api/lots", nil).Code)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	h := requireAdmin("", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler reached")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/lots", nil)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLotsAPI(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.do(t, http.MethodPost, "/api/lots", parking.NewLot{Name: "Tequendama", Location: "Calle 26", Capacity: 80})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lot := decode[store.Lot](t, rec)
	assert.NotEmpty(t, lot.ID)
	assert.Equal(t, "0", lot.FreeSpots)

	rec = ts.do(t, http.MethodPost, "/api/lots", parking.NewLot{Name: "Tequendama"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/lots", parking.NewLot{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/lots", map[string]any{"name": "X", "bogus": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/lots/"+lot.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Tequendama", decode[store.Lot](t, rec).Name)

	rec = ts.do(t, http.MethodGet, "/api/lots/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/lots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]store.Lot](t, rec), 1)
}

func TestUpdateSpotsNotifiesSubscribers(t *testing.T) {
	ts := newTestServer(t, Config{})
	ctx := context.Background()

	lot, err := ts.svc.CreateLot(ctx, parking.NewLot{Name: "Centro"})
	require.NoError(t, err)

	now := ts.svc.Now()
	exp := now.Add(72 * time.Hour)
	require.NoError(t, ts.store.CreateUser(ctx, &store.User{
		ID: "573009998877", Name: "Luis", Role: store.RoleDriver,
		Registration: store.RegistrationComplete, Premium: true, PremiumExpiresAt: &exp,
		ReferralCode: "LUIS01", CreatedAt: now,
	}))
	_, err = ts.svc.Subscribe(ctx, "573009998877", lot.ID)
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPut, "/api/lots/"+lot.ID+"/spots", SpotsRequest{FreeSpots: "12"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[SpotsResponse](t, rec)
	assert.Equal(t, 1, resp.Notified)
	assert.True(t, resp.Lot.HasSpots)
	assert.Equal(t, parking.StatusGood, resp.Lot.OccupancyStatus)
	require.NotEmpty(t, ts.outbox.to("573009998877"))

	off := false
	rec = ts.do(t, http.MethodPut, "/api/lots/"+lot.ID+"/spots", SpotsRequest{FreeSpots: "8", Notify: &off})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[SpotsResponse](t, rec).Notified)

	rec = ts.do(t, http.MethodPut, "/api/lots/"+lot.ID+"/spots", SpotsRequest{FreeSpots: "0"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[SpotsResponse](t, rec)
	assert.False(t, resp.Lot.HasSpots)
	assert.Equal(t, 0, resp.Notified)

	rec = ts.do(t, http.MethodPut, "/api/lots/"+lot.ID+"/spots", SpotsRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManagerAndUserAPI(t *testing.T) {
	ts := newTestServer(t, Config{})
	ctx := context.Background()

	lot, err := ts.svc.CreateLot(ctx, parking.NewLot{Name: "Andino"})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/managers", ManagerRequest{UserID: "573005550000", LotID: lot.ID, Name: "Marta"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/users/573005550000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var user map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &user))
	assert.Equal(t, lot.ID, user["lot_id"])
	assert.Equal(t, false, user["premium_active"])

	rec = ts.do(t, http.MethodPost, "/api/managers", ManagerRequest{UserID: "573005550000"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/managers", ManagerRequest{UserID: "573005550000", LotID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/users/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationAPI(t *testing.T) {
	ts := newTestServer(t, Config{})
	ctx := context.Background()
	now := ts.svc.Now()
	require.NoError(t, ts.store.CreateUser(ctx, &store.User{
		ID: "573001234567", Name: "Pedro", Role: store.RoleDriver,
		Registration: store.RegistrationComplete, ReferralCode: "PEDRO1", CreatedAt: now,
	}))

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook",
		bytes.NewReader(textPayload("573001234567", "wamid.9", "hay cupos?"))))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"listo"}, ts.outbox.to("573001234567"))

	rec = ts.do(t, http.MethodGet, "/api/users/573001234567/conversation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	conv := decode[ConversationResponse](t, rec)
	assert.Equal(t, 2, conv.Active)
	require.Len(t, conv.Messages, 2)

	rec = ts.do(t, http.MethodDelete, "/api/users/573001234567/conversation", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[ClearedResponse](t, rec).Cleared)

	rec = ts.do(t, http.MethodGet, "/api/users/573001234567/conversation", nil)
	assert.Equal(t, 0, decode[ConversationResponse](t, rec).Active)
}

func TestSyncIndexWithoutIndex(t *testing.T) {
	ts := newTestServer(t, Config{})
	rec := ts.do(t, http.MethodPost, "/api/index/sync", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPICompressesLargeResponses(t *testing.T) {
	ts := newTestServer(t, Config{})
	ctx := context.Background()
	for i := range 30 {
		_, err := ts.svc.CreateLot(ctx, parking.NewLot{
			Name:     fmt.Sprintf("Parqueadero %02d", i),
			Location: strings.Repeat("Carrera 7 # 72-41 ", 3),
		})
		require.NoError(t, err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/lots", nil)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
}

func TestJobsAPI(t *testing.T) {
	ts := newTestServer(t, Config{PremiumSweepCron: "0 3 * * *", ConversationPruneCron: "30 3 * * *"})
	rec := ts.do(t, http.MethodGet, "/api/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decode[map[string]time.Time](t, rec)
	assert.Contains(t, jobs, "premium-expiry")
	assert.Contains(t, jobs, "conversation-prune")
	assert.NotContains(t, jobs, "index-resync")
}

func TestNewRejectsBadCron(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "pmc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	svc := parking.NewService(st, &outbox{})

	_, err = New(Config{PremiumSweepCron: "every day"}, Deps{Service: svc})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "premium-expiry")
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t, Config{})
	server := httptest.NewServer(ts.handler)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/api/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testAdminToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	_, err = ts.svc.CreateLot(context.Background(), parking.NewLot{Name: "Unicentro"})
	require.NoError(t, err)

	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "event: ") {
			break
		}
	}
	assert.Equal(t, "event: "+EventLotUpdated+"\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
	require.True(t, ok)
	var ev BrokerEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	require.NotNil(t, ev.Lot)
	assert.Equal(t, "Unicentro", ev.Lot.Name)
	assert.NotZero(t, ev.ID)
}

func TestEventStreamUnknownLot(t *testing.T) {
	ts := newTestServer(t, Config{})
	rec := ts.do(t, http.MethodGet, "/api/events?lot=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBrokerLimitsAndClose(t *testing.T) {
	b := NewEventBroker()
	var chans []chan BrokerEvent
	for range maxSubscribers {
		ch := b.Subscribe("")
		require.NotNil(t, ch)
		chans = append(chans, ch)
	}
	assert.Nil(t, b.Subscribe(""))

	b.PublishLot(store.Lot{ID: "l1", HasSpots: true})
	ev := <-chans[0]
	assert.Equal(t, EventLotUpdated, ev.Type)
	assert.Equal(t, uint64(1), ev.ID)

	b.Unsubscribe(chans[0])
	b.Close()
	// Buffered events survive Close; the channel closes after them.
	ev, ok := <-chans[1]
	require.True(t, ok)
	assert.Equal(t, uint64(1), ev.ID)
	_, ok = <-chans[1]
	assert.False(t, ok)
	b.Unsubscribe(chans[1])
	assert.Nil(t, b.Subscribe(""))
}

func TestBrokerLotFilter(t *testing.T) {
	b := NewEventBroker()
	all := b.Subscribe("")
	one := b.Subscribe("l2")

	b.PublishLot(store.Lot{ID: "l1", HasSpots: true})
	b.PublishLot(store.Lot{ID: "l2"})

	require.Len(t, all, 2)
	require.Len(t, one, 1)
	ev := <-one
	assert.Equal(t, "l2", ev.Lot.ID)
	assert.Equal(t, EventLotFull, ev.Type)
	assert.Equal(t, uint64(2), ev.ID)
}

func TestServeShutsDown(t *testing.T) {
	ts := newTestServer(t, Config{Addr: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
