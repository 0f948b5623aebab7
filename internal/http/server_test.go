package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawhost/internal/auth"
	"github.com/nextlevelbuilder/clawhost/internal/digest"
	"github.com/nextlevelbuilder/clawhost/internal/gateway"
	"github.com/nextlevelbuilder/clawhost/internal/llm"
	"github.com/nextlevelbuilder/clawhost/internal/proxy"
	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// memStores is an in-memory implementation of every store interface.
type memStores struct {
	mu       sync.Mutex
	gw       *store.GatewayRecord
	owner    *store.InstanceOwner
	users    map[string]*store.User
	sessions map[string]*store.Session
	chats    map[string]*store.ChatSession
	messages []store.ChatMessage
	dcfg     *store.DigestConfig
	entries  []store.DigestEntry
}

func newMemStores() *memStores {
	return &memStores{
		users:    map[string]*store.User{},
		sessions: map[string]*store.Session{},
		chats:    map[string]*store.ChatSession{},
	}
}

func (m *memStores) GetGateway(ctx context.Context) (*store.GatewayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gw == nil {
		return nil, store.ErrNotFound
	}
	cp := *m.gw
	return &cp, nil
}

func (m *memStores) SaveGateway(ctx context.Context, rec *store.GatewayRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.gw = &cp
	return nil
}

func (m *memStores) ClearShouldRun(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gw != nil {
		m.gw.ShouldRun = false
	}
	return nil
}

func (m *memStores) GetInstanceOwner(ctx context.Context) (*store.InstanceOwner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == nil {
		return nil, store.ErrNotFound
	}
	cp := *m.owner
	return &cp, nil
}

func (m *memStores) ClaimInstanceOwner(ctx context.Context, owner *store.InstanceOwner) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != nil {
		return false, nil
	}
	cp := *owner
	m.owner = &cp
	return true, nil
}

func (m *memStores) UpsertUser(ctx context.Context, u *store.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStores) GetUser(ctx context.Context, id string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *memStores) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStores) CreateSession(ctx context.Context, s *store.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.sessions[s.Token] = &cp
	return nil
}

func (m *memStores) GetSession(ctx context.Context, token string) (*store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[token]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (m *memStores) DeleteSession(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}

func (m *memStores) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memStores) CreateChatSession(ctx context.Context, s *store.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.chats[s.ID] = &cp
	return nil
}

func (m *memStores) TouchChatSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.chats[id]; ok {
		s.UpdatedAt = at
	}
	return nil
}

func (m *memStores) ListChatSessions(ctx context.Context, userID string) ([]store.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ChatSession
	for _, s := range m.chats {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memStores) DeleteChatSession(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.chats[id]; ok && s.UserID == userID {
		delete(m.chats, id)
	}
	return nil
}

func (m *memStores) AppendMessage(ctx context.Context, msg *store.ChatMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memStores) ListMessages(ctx context.Context, sessionID string) ([]store.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ChatMessage
	for _, msg := range m.messages {
		if msg.SessionID == sessionID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStores) MessagesSince(ctx context.Context, since time.Time) ([]store.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.ChatMessage
	for _, msg := range m.messages {
		if msg.CreatedAt.After(since) {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStores) GetDigestConfig(ctx context.Context) (*store.DigestConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dcfg == nil {
		return nil, store.ErrNotFound
	}
	cp := *m.dcfg
	return &cp, nil
}

func (m *memStores) SaveDigestConfig(ctx context.Context, cfg *store.DigestConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cfg
	m.dcfg = &cp
	return nil
}

func (m *memStores) AppendDigestEntry(ctx context.Context, e *store.DigestEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memStores) ListDigestEntries(ctx context.Context, limit int) ([]store.DigestEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.DigestEntry(nil), m.entries...), nil
}

// fakeSup is an in-memory supervisor.
type fakeSup struct {
	mu      sync.Mutex
	running bool
}

func (f *fakeSup) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	return nil
}

func (f *fakeSup) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	return nil
}

func (f *fakeSup) Restart(ctx context.Context) error { return nil }

func (f *fakeSup) Status(ctx context.Context) (gateway.ProcStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return gateway.ProcStatus{Running: true, Pid: 4242}, nil
	}
	return gateway.ProcStatus{}, nil
}

type seqExchanger struct {
	identities map[string]*auth.Identity
}

func (s *seqExchanger) Exchange(ctx context.Context, sessionID string) (*auth.Identity, error) {
	if id, ok := s.identities[sessionID]; ok {
		return id, nil
	}
	return nil, auth.ErrInvalidSessionID
}

type apiRig struct {
	srv    *httptest.Server
	stores *memStores
	sup    *fakeSup
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	dir := t.TempDir()
	ms := newMemStores()
	sup := &fakeSup{}

	// Readiness endpoint standing in for the gateway process.
	ready := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(ready.Close)
	_, portStr, _ := net.SplitHostPort(strings.TrimPrefix(ready.URL, "http://"))
	var port int
	fmt.Sscanf(portStr, "%d", &port)

	mat := gateway.NewMaterializer(filepath.Join(dir, "clawdbot.json"), filepath.Join(dir, "workspace"), port)
	probe := gateway.NewProber(port, 3, 10*time.Millisecond)
	ctl := gateway.NewController(ms, sup, mat, probe, filepath.Join(dir, "gateway.env"))

	ex := &seqExchanger{identities: map[string]*auth.Identity{
		"ext-alice": {Email: "alice@example.com", Name: "Alice"},
		"ext-bob":   {Email: "bob@example.com", Name: "Bob"},
	}}
	guard := auth.NewGuard(ms, ms, ms, ex, time.Hour, "")

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"content":"assistant says hi"}}]}`)
	}))
	t.Cleanup(llmSrv.Close)
	client := llm.New(llmSrv.URL, "sk-test", "", "")

	pipeline := digest.NewPipeline(ms, ms, client, nil)
	px := proxy.New(ctl, guard, port)

	server := NewServer("127.0.0.1", 0, nil, px,
		NewAuthHandler(guard, 1000),
		NewGatewayHandler(guard, ctl, nil),
		NewTelegramHandler(guard, mat, ctl, filepath.Join(dir, "gateway.env")),
		NewChatHandler(guard, ms, client),
		NewHubHandler(guard, mat, ctl),
		NewDigestHandler(guard, ms, pipeline),
	)

	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)
	return &apiRig{srv: srv, stores: ms, sup: sup}
}

func (rig *apiRig) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, rig.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var parsed map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&parsed)
	return resp, parsed
}

func (rig *apiRig) login(t *testing.T, extSession string) string {
	t.Helper()
	resp, body := rig.do(t, http.MethodPost, "/api/auth/session", "", map[string]string{"session_id": extSession})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %q: status %d (%v)", extSession, resp.StatusCode, body)
	}
	token, _ := body["session_token"].(string)
	if token == "" {
		t.Fatalf("login %q: no session token in %v", extSession, body)
	}
	return token
}

func TestFirstUserClaimsInstance(t *testing.T) {
	rig := newAPIRig(t)
	alice := rig.login(t, "ext-alice")

	// Before any start the instance is open.
	if _, body := rig.do(t, http.MethodGet, "/api/auth/instance", "", nil); body["locked"] != false {
		t.Fatalf("instance = %v, want unlocked", body)
	}

	resp, body := rig.do(t, http.MethodPost, "/api/openclaw/start", alice, map[string]string{"provider": "emergent"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d (%v)", resp.StatusCode, body)
	}
	if body["running"] != true {
		t.Errorf("start response = %v", body)
	}

	if _, body := rig.do(t, http.MethodGet, "/api/auth/instance", "", nil); body["locked"] != true {
		t.Errorf("instance = %v, want locked", body)
	}

	// Second identity is now rejected at login.
	resp, body = rig.do(t, http.MethodPost, "/api/auth/session", "", map[string]string{"session_id": "ext-bob"})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("bob login: status %d (%v)", resp.StatusCode, body)
	}
	if body["owner_email"] != "alice@example.com" {
		t.Errorf("owner_email = %v", body["owner_email"])
	}
}

func TestStatusAndTokenFlow(t *testing.T) {
	rig := newAPIRig(t)
	alice := rig.login(t, "ext-alice")

	// Anonymous status is rejected.
	if resp, _ := rig.do(t, http.MethodGet, "/api/openclaw/status", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous status: %d", resp.StatusCode)
	}

	_, body := rig.do(t, http.MethodGet, "/api/openclaw/status", alice, nil)
	if body["running"] != false {
		t.Fatalf("status before start = %v", body)
	}

	rig.do(t, http.MethodPost, "/api/openclaw/start", alice, map[string]string{"provider": "emergent"})

	_, body = rig.do(t, http.MethodGet, "/api/openclaw/status", alice, nil)
	if body["running"] != true || body["is_owner"] != true {
		t.Errorf("status after start = %v", body)
	}
	if body["controlUrl"] != "/api/openclaw/ui/" {
		t.Errorf("controlUrl = %v", body["controlUrl"])
	}

	resp, body := rig.do(t, http.MethodGet, "/api/openclaw/token", alice, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("token: %d (%v)", resp.StatusCode, body)
	}
	if tok, _ := body["token"].(string); len(tok) != 64 {
		t.Errorf("token = %q", body["token"])
	}
}

func TestStopIsIdempotentOverHTTP(t *testing.T) {
	rig := newAPIRig(t)
	alice := rig.login(t, "ext-alice")
	rig.do(t, http.MethodPost, "/api/openclaw/start", alice, map[string]string{"provider": "emergent"})

	_, body := rig.do(t, http.MethodPost, "/api/openclaw/stop", alice, map[string]string{})
	if body["was_running"] != true {
		t.Errorf("first stop = %v", body)
	}

	resp, body := rig.do(t, http.MethodPost, "/api/openclaw/stop", alice, map[string]string{})
	if resp.StatusCode != http.StatusOK || body["was_running"] != false {
		t.Errorf("second stop: %d %v", resp.StatusCode, body)
	}
}

func TestStartRejectsBadProvider(t *testing.T) {
	rig := newAPIRig(t)
	alice := rig.login(t, "ext-alice")

	resp, _ := rig.do(t, http.MethodPost, "/api/openclaw/start", alice, map[string]string{"provider": "groq"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("hub-only provider on start: %d", resp.StatusCode)
	}

	resp, _ = rig.do(t, http.MethodPost, "/api/openclaw/start", alice, map[string]string{"provider": "openai"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("keyed provider without key: %d", resp.StatusCode)
	}
}

func TestChatRoundTrip(t *testing.T) {
	rig := newAPIRig(t)
	alice := rig.login(t, "ext-alice")

	resp, body := rig.do(t, http.MethodPost, "/api/chat/message", alice, map[string]string{"message": "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("message: %d (%v)", resp.StatusCode, body)
	}
	if body["reply"] != "assistant says hi" {
		t.Errorf("reply = %v", body["reply"])
	}
	sessionID, _ := body["session_id"].(string)
	if sessionID == "" {
		t.Fatal("no session id assigned")
	}

	_, body = rig.do(t, http.MethodGet, "/api/chat/history/"+sessionID, alice, nil)
	msgs, _ := body["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Errorf("history holds %d messages, want 2", len(msgs))
	}

	_, body = rig.do(t, http.MethodGet, "/api/chat/sessions", alice, nil)
	sessions, _ := body["sessions"].([]interface{})
	if len(sessions) != 1 {
		t.Errorf("sessions = %v", body["sessions"])
	}

	resp, _ = rig.do(t, http.MethodDelete, "/api/chat/session/"+sessionID, alice, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete session: %d", resp.StatusCode)
	}
}

func TestChatQuickAndPlayground(t *testing.T) {
	rig := newAPIRig(t)
	alice := rig.login(t, "ext-alice")

	resp, _ := rig.do(t, http.MethodPost, "/api/chat/quick", alice, map[string]string{"message": "ping"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("quick without model: %d", resp.StatusCode)
	}

	resp, body := rig.do(t, http.MethodPost, "/api/chat/quick", alice, map[string]string{
		"model": "llama-3.1-70b", "message": "ping",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("quick: %d (%v)", resp.StatusCode, body)
	}
	if body["response"] != "assistant says hi" || body["model"] != "llama-3.1-70b" {
		t.Errorf("quick body = %v", body)
	}

	// Nothing persisted by either endpoint.
	_, body = rig.do(t, http.MethodGet, "/api/chat/sessions", alice, nil)
	if sessions, _ := body["sessions"].([]interface{}); len(sessions) != 0 {
		t.Errorf("quick chat left sessions behind: %v", body["sessions"])
	}

	resp, body = rig.do(t, http.MethodPost, "/api/chat/playground", alice, map[string]interface{}{
		"model": "gpt-4o", "prompt": "say hi", "temperature": 0.2, "max_tokens": 64,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("playground: %d (%v)", resp.StatusCode, body)
	}
	if body["response"] != "assistant says hi" {
		t.Errorf("playground response = %v", body["response"])
	}
	if _, ok := body["time"].(float64); !ok {
		t.Errorf("playground time = %v", body["time"])
	}

	resp, _ = rig.do(t, http.MethodPost, "/api/chat/playground", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("anonymous playground: %d", resp.StatusCode)
	}
}

func TestDigestConfigValidation(t *testing.T) {
	rig := newAPIRig(t)
	alice := rig.login(t, "ext-alice")

	resp, _ := rig.do(t, http.MethodPost, "/api/digest/config", alice, map[string]interface{}{
		"enabled": true, "send_time": "25:00",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad send_time accepted: %d", resp.StatusCode)
	}

	resp, body := rig.do(t, http.MethodPost, "/api/digest/config", alice, map[string]interface{}{
		"enabled": true, "send_time": "08:30",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("config: %d (%v)", resp.StatusCode, body)
	}
	if body["send_time"] != "08:30" || body["user_email"] != "alice@example.com" {
		t.Errorf("saved config = %v", body)
	}
}

func TestDigestTriggerWithoutActivity(t *testing.T) {
	rig := newAPIRig(t)
	alice := rig.login(t, "ext-alice")

	resp, body := rig.do(t, http.MethodPost, "/api/digest/trigger", alice, map[string]string{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("trigger: %d", resp.StatusCode)
	}
	if body["ok"] != false || body["message"] != "No messages in the last 24h" {
		t.Errorf("trigger response = %v", body)
	}
}

func TestDigestTriggerAfterChat(t *testing.T) {
	rig := newAPIRig(t)
	alice := rig.login(t, "ext-alice")

	rig.do(t, http.MethodPost, "/api/chat/message", alice, map[string]string{"message": "remember the milk"})

	resp, body := rig.do(t, http.MethodPost, "/api/digest/trigger", alice, map[string]string{})
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("trigger: %d (%v)", resp.StatusCode, body)
	}
	if body["summary"] == "" {
		t.Error("no summary returned")
	}

	_, body = rig.do(t, http.MethodGet, "/api/digest/history", alice, nil)
	entries, _ := body["history"].([]interface{})
	if len(entries) != 1 {
		t.Errorf("history = %v", body["history"])
	}
}

func TestHubProviderConfigure(t *testing.T) {
	rig := newAPIRig(t)
	alice := rig.login(t, "ext-alice")

	resp, _ := rig.do(t, http.MethodPost, "/api/hub/providers/configure", alice, map[string]string{
		"provider": "emergent",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("start-only provider on hub: %d", resp.StatusCode)
	}

	resp, body := rig.do(t, http.MethodPost, "/api/hub/providers/configure", alice, map[string]string{
		"provider": "groq", "api_key": "gsk_0123456789abcdef",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("configure groq: %d (%v)", resp.StatusCode, body)
	}
	models, _ := body["models"].([]interface{})
	if len(models) == 0 {
		t.Error("no models reported for groq")
	}

	_, body = rig.do(t, http.MethodGet, "/api/hub/providers", alice, nil)
	providers, _ := body["providers"].(map[string]interface{})
	if _, ok := providers["groq"]; !ok {
		t.Errorf("providers = %v", body["providers"])
	}
}

func TestBannerAndUnknownRoute(t *testing.T) {
	rig := newAPIRig(t)

	resp, body := rig.do(t, http.MethodGet, "/api/", "", nil)
	if resp.StatusCode != http.StatusOK || body["service"] != "clawhost" {
		t.Errorf("banner: %d %v", resp.StatusCode, body)
	}

	resp, _ = rig.do(t, http.MethodGet, "/api/definitely/not/here", "", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown route: %d", resp.StatusCode)
	}
}

func TestLoginRateLimit(t *testing.T) {
	rig := newAPIRigWithRPM(t, 2)

	var last int
	for i := 0; i < 5; i++ {
		resp, _ := rig.do(t, http.MethodPost, "/api/auth/session", "", map[string]string{"session_id": "ext-alice"})
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("fifth rapid login: %d, want 429", last)
	}
}

// newAPIRigWithRPM builds a minimal rig with a custom login rate limit.
func newAPIRigWithRPM(t *testing.T, rpm int) *apiRig {
	t.Helper()
	ms := newMemStores()
	ex := &seqExchanger{identities: map[string]*auth.Identity{
		"ext-alice": {Email: "alice@example.com", Name: "Alice"},
	}}
	guard := auth.NewGuard(ms, ms, ms, ex, time.Hour, "")

	mux := http.NewServeMux()
	NewAuthHandler(guard, rpm).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &apiRig{srv: srv, stores: ms}
}
