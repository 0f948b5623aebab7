package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// fakeSupervisor is an in-memory Supervisor.
type fakeSupervisor struct {
	mu       sync.Mutex
	running  bool
	pid      int
	failStop bool
	failAll  bool
}

func (f *fakeSupervisor) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("supervisor unreachable")
	}
	f.running = true
	f.pid = 4242
	return nil
}

func (f *fakeSupervisor) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStop || f.failAll {
		return errors.New("supervisor unreachable")
	}
	f.running = false
	f.pid = 0
	return nil
}

func (f *fakeSupervisor) Restart(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("supervisor unreachable")
	}
	f.running = true
	return nil
}

func (f *fakeSupervisor) Status(ctx context.Context) (ProcStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return ProcStatus{}, errors.New("supervisor unreachable")
	}
	return ProcStatus{Running: f.running, Pid: f.pid}, nil
}

// fakeGatewayStore is an in-memory store.GatewayStore.
type fakeGatewayStore struct {
	mu    sync.Mutex
	rec   *store.GatewayRecord
	owner *store.InstanceOwner
}

func (f *fakeGatewayStore) GetGateway(ctx context.Context) (*store.GatewayRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rec == nil {
		return nil, store.ErrNotFound
	}
	cp := *f.rec
	return &cp, nil
}

func (f *fakeGatewayStore) SaveGateway(ctx context.Context, rec *store.GatewayRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.rec = &cp
	return nil
}

func (f *fakeGatewayStore) ClearShouldRun(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rec != nil {
		f.rec.ShouldRun = false
		f.rec.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (f *fakeGatewayStore) GetInstanceOwner(ctx context.Context) (*store.InstanceOwner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner == nil {
		return nil, store.ErrNotFound
	}
	cp := *f.owner
	return &cp, nil
}

func (f *fakeGatewayStore) ClaimInstanceOwner(ctx context.Context, owner *store.InstanceOwner) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owner != nil {
		return false, nil
	}
	cp := *owner
	f.owner = &cp
	return true, nil
}

type testRig struct {
	ctl   *Controller
	sup   *fakeSupervisor
	gws   *fakeGatewayStore
	mat   *Materializer
	ready *httptest.Server
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	dir := t.TempDir()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	mat := NewMaterializer(filepath.Join(dir, "clawdbot.json"), filepath.Join(dir, "ws"), 18789)
	sup := &fakeSupervisor{}
	gws := &fakeGatewayStore{}
	probe := &Prober{URL: srv.URL, Attempts: 3, Interval: time.Millisecond, client: srv.Client()}
	ctl := NewController(gws, sup, mat, probe, filepath.Join(dir, "gateway.env"))

	return &testRig{ctl: ctl, sup: sup, gws: gws, mat: mat, ready: srv}
}

func userA() *store.User {
	return &store.User{ID: "user_aaa", Email: "a@example.com", Name: "Alice"}
}

func userB() *store.User {
	return &store.User{ID: "user_bbb", Email: "b@example.com", Name: "Bob"}
}

func TestStartValidation(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: "mystery", User: userA()}); !errors.Is(err, ErrInvalidProvider) {
		t.Errorf("unknown provider: got %v, want ErrInvalidProvider", err)
	}
	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderAnthropic, APIKey: "short", User: userA()}); !errors.Is(err, ErrAPIKeyRequired) {
		t.Errorf("short key: got %v, want ErrAPIKeyRequired", err)
	}
}

func TestStartPersistsOnlyAfterReady(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	token, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if token == "" {
		t.Fatal("expected token")
	}

	rec, err := rig.gws.GetGateway(ctx)
	if err != nil {
		t.Fatalf("GetGateway: %v", err)
	}
	if !rec.ShouldRun {
		t.Error("should_run not set after ready start")
	}
	if rec.Token != token {
		t.Errorf("durable token %q != returned token %q", rec.Token, token)
	}
	if rec.OwnerUserID != "user_aaa" {
		t.Errorf("owner = %q", rec.OwnerUserID)
	}
}

func TestStartFailedProbeLeavesNoDurableIntent(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Point the probe somewhere dead.
	rig.ctl.probe = &Prober{URL: "http://127.0.0.1:1/", Attempts: 1, Interval: time.Millisecond, client: &http.Client{Timeout: 50 * time.Millisecond}}

	_, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()})
	if err == nil {
		t.Fatal("expected error from unready gateway")
	}
	if _, err := rig.gws.GetGateway(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Error("durable record written despite failed readiness")
	}
	if rig.gws.owner != nil {
		t.Error("instance owner claimed despite failed start")
	}
}

func TestErrorStatusIsNotReady(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// A gateway that answers, but only with errors.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	rig.ctl.probe = &Prober{URL: srv.URL, Attempts: 2, Interval: time.Millisecond, client: srv.Client()}

	if err := rig.ctl.probe.WaitReady(ctx); !errors.Is(err, ErrNotReady) {
		t.Errorf("WaitReady against 503 gateway: got %v, want ErrNotReady", err)
	}

	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()}); err == nil {
		t.Fatal("expected error starting a gateway that never serves a 200")
	}
	if _, err := rig.gws.GetGateway(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Error("durable record written despite error-status readiness")
	}
}

func TestInstanceOwnerLatchedOnce(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()}); err != nil {
		t.Fatalf("Start A: %v", err)
	}
	if _, err := rig.ctl.Stop(ctx, "user_aaa"); err != nil {
		t.Fatalf("Stop A: %v", err)
	}
	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userB()}); err != nil {
		t.Fatalf("Start B: %v", err)
	}

	owner, err := rig.gws.GetInstanceOwner(ctx)
	if err != nil {
		t.Fatalf("GetInstanceOwner: %v", err)
	}
	if owner.UserID != "user_aaa" {
		t.Errorf("instance owner = %q, want user_aaa (first writer wins)", owner.UserID)
	}
}

func TestStartDeniedWhileRunningForOther(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()}); err != nil {
		t.Fatalf("Start A: %v", err)
	}
	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userB()}); !errors.Is(err, ErrOwnedByOther) {
		t.Errorf("Start B while A runs: got %v, want ErrOwnedByOther", err)
	}
}

func TestStartWhileRunningAdoptsToken(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	first, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()})
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()})
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if first != second {
		t.Errorf("start of a running gateway rotated token: %q -> %q", first, second)
	}
}

func TestStopIdempotent(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Stop with nothing running: no error, should_run cleared.
	running, err := rig.ctl.Stop(ctx, "user_aaa")
	if err != nil {
		t.Fatalf("Stop on stopped: %v", err)
	}
	if running {
		t.Error("reported running on a stopped gateway")
	}

	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()}); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.ctl.Stop(ctx, "user_aaa"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rec, _ := rig.gws.GetGateway(ctx)
	if rec.ShouldRun {
		t.Error("should_run still set after stop")
	}

	// Second stop is a no-op.
	if _, err := rig.ctl.Stop(ctx, "user_aaa"); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStopClearsIntentEvenWhenSupervisorFails(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()}); err != nil {
		t.Fatal(err)
	}
	rig.sup.failStop = true

	if _, err := rig.ctl.Stop(ctx, "user_aaa"); err != nil {
		t.Fatalf("Stop with failing supervisor: %v", err)
	}
	rec, _ := rig.gws.GetGateway(ctx)
	if rec.ShouldRun {
		t.Error("should_run still set after fail-safe stop")
	}
	if got := rig.ctl.OwnerUserID(); got != "" {
		t.Errorf("in-memory owner not cleared: %q", got)
	}
}

func TestStopOwnerOnly(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()}); err != nil {
		t.Fatal(err)
	}
	if _, err := rig.ctl.Stop(ctx, "user_bbb"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner stop: got %v, want ErrNotOwner", err)
	}
}

func TestTokenOwnerOnly(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if _, err := rig.ctl.Token(ctx, "user_aaa"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("token on stopped gateway: got %v, want ErrNotRunning", err)
	}

	want, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()})
	if err != nil {
		t.Fatal(err)
	}
	got, err := rig.ctl.Token(ctx, "user_aaa")
	if err != nil {
		t.Fatalf("owner token: %v", err)
	}
	if got != want {
		t.Errorf("token = %q, want %q", got, want)
	}
	if _, err := rig.ctl.Token(ctx, "user_bbb"); !errors.Is(err, ErrNotOwner) {
		t.Errorf("non-owner token: got %v, want ErrNotOwner", err)
	}
}

func TestStatusReflectsSupervisor(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	if info := rig.ctl.Status(ctx, "user_aaa"); info.Running {
		t.Error("running=true before start")
	}

	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()}); err != nil {
		t.Fatal(err)
	}
	info := rig.ctl.Status(ctx, "user_aaa")
	if !info.Running || !info.IsOwner {
		t.Errorf("owner status = %+v", info)
	}
	if other := rig.ctl.Status(ctx, "user_bbb"); other.IsOwner {
		t.Error("non-owner reported as owner")
	}
	if anon := rig.ctl.Status(ctx, ""); anon.IsOwner {
		t.Error("anonymous reported as owner")
	}
}

func TestReconcileAdoptsRunningProcess(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Simulate a previous life: config file has a token, record says
	// who owned it, supervisor kept the process alive.
	token, err := rig.mat.Apply(ProviderEmergent, "", "", false)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	rig.gws.SaveGateway(ctx, &store.GatewayRecord{
		ShouldRun: true, OwnerUserID: "user_aaa", Provider: "emergent",
		Token: token, StartedAt: &now, UpdatedAt: now,
	})
	rig.sup.running = true
	rig.sup.pid = 999

	rig.ctl.Reconcile(ctx)

	if got := rig.ctl.CurrentToken(); got != token {
		t.Errorf("recovered token = %q, want %q", got, token)
	}
	if got := rig.ctl.OwnerUserID(); got != "user_aaa" {
		t.Errorf("recovered owner = %q", got)
	}
}

func TestReconcileAutoStarts(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	now := time.Now().UTC()
	rig.gws.SaveGateway(ctx, &store.GatewayRecord{
		ShouldRun: true, OwnerUserID: "user_aaa", Provider: "emergent",
		Token: "recorded-token", StartedAt: &now, UpdatedAt: now,
	})

	rig.ctl.Reconcile(ctx)

	if !rig.sup.running {
		t.Error("supervisor not started by reconcile")
	}
	if got := rig.ctl.CurrentToken(); got != "recorded-token" {
		t.Errorf("token = %q, want recorded-token", got)
	}
}

func TestReconcileStaysStopped(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Case: record says should_run=false.
	now := time.Now().UTC()
	rig.gws.SaveGateway(ctx, &store.GatewayRecord{ShouldRun: false, UpdatedAt: now})
	rig.ctl.Reconcile(ctx)
	if rig.sup.running {
		t.Error("reconcile started gateway despite should_run=false")
	}

	// Case: no record at all.
	rig2 := newTestRig(t)
	rig2.ctl.Reconcile(ctx)
	if rig2.sup.running {
		t.Error("reconcile started gateway with no record")
	}
}

func TestRestartIfRunning(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	// Stopped: no-op.
	if err := rig.ctl.RestartIfRunning(ctx); err != nil {
		t.Fatalf("RestartIfRunning on stopped: %v", err)
	}
	if rig.sup.running {
		t.Error("restart started a stopped gateway")
	}

	if _, err := rig.ctl.Start(ctx, StartRequest{Provider: ProviderEmergent, User: userA()}); err != nil {
		t.Fatal(err)
	}
	if err := rig.ctl.RestartIfRunning(ctx); err != nil {
		t.Fatalf("RestartIfRunning: %v", err)
	}
}
