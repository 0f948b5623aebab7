package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// Status values for the in-memory runtime state.
const (
	StatusStopped    = "stopped"
	StatusStarting   = "starting"
	StatusRunning    = "running"
	StatusRecovering = "recovering"
)

// RuntimeState is the controller's volatile view of the gateway. It is
// a cache over the durable record and the supervisor; losing it costs
// nothing that reconciliation cannot rebuild.
type RuntimeState struct {
	Status      string
	Token       string
	Provider    ProviderKind
	StartedAt   *time.Time
	OwnerUserID string
}

// StatusInfo is the controller's answer to a status query.
type StatusInfo struct {
	Running     bool         `json:"running"`
	Pid         int          `json:"pid,omitempty"`
	Provider    ProviderKind `json:"provider,omitempty"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
	ControlURL  string       `json:"controlUrl,omitempty"`
	OwnerUserID string       `json:"owner_user_id,omitempty"`
	IsOwner     bool         `json:"is_owner"`
}

// ControlURLPath is the path the UI proxy is mounted on.
const ControlURLPath = "/api/openclaw/ui/"

// Controller owns the gateway lifecycle. All mutating operations are
// serialized on one mutex; the supervisor keeps the process alive
// between control plane restarts, so the controller only ever converges
// state, it never babysits.
type Controller struct {
	mu sync.Mutex

	store store.GatewayStore
	sup   Supervisor
	mat   *Materializer
	probe *Prober

	envFile string
	tracer  trace.Tracer

	state RuntimeState
}

// NewController wires the lifecycle controller.
func NewController(gw store.GatewayStore, sup Supervisor, mat *Materializer, probe *Prober, envFile string) *Controller {
	return &Controller{
		store:   gw,
		sup:     sup,
		mat:     mat,
		probe:   probe,
		envFile: envFile,
		tracer:  otel.Tracer("github.com/nextlevelbuilder/clawhost/internal/gateway"),
		state:   RuntimeState{Status: StatusStopped},
	}
}

// StartRequest carries everything a start needs.
type StartRequest struct {
	Provider ProviderKind
	APIKey   string
	User     *store.User
}

// Start brings the gateway up for the requesting user and returns the
// auth token in effect. On the first successful start the instance
// ownership latch is claimed; losing that race is not an error, the
// pre-existing owner simply stays.
func (c *Controller) Start(ctx context.Context, req StartRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.start",
		trace.WithAttributes(attribute.String("provider", string(req.Provider))))
	defer span.End()

	if !ValidStartProvider(req.Provider) {
		return "", fmt.Errorf("%w: %q (use emergent, anthropic or openai)", ErrInvalidProvider, req.Provider)
	}
	if RequiresAPIKey(req.Provider) && len(req.APIKey) < 10 {
		return "", fmt.Errorf("%w for provider %q", ErrAPIKeyRequired, req.Provider)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	st, _ := c.sup.Status(ctx)
	if st.Running && c.state.OwnerUserID != "" && c.state.OwnerUserID != req.User.ID {
		return "", ErrOwnedByOther
	}

	if st.Running {
		return c.adoptRunning(ctx, req)
	}
	return c.coldStart(ctx, req)
}

// adoptRunning handles start when the supervisor already has the
// process up: recover the token instead of disturbing it.
func (c *Controller) adoptRunning(ctx context.Context, req StartRequest) (string, error) {
	slog.Info("gateway already running, adopting", "provider", req.Provider)
	c.state.Status = StatusRecovering

	token, ok := c.mat.Token()
	if !ok {
		// No usable token in the file. Rewrite with a fresh one; the
		// gateway restarts on config change and picks it up.
		var err error
		token, err = c.mat.Apply(req.Provider, req.APIKey, "", true)
		if err != nil {
			c.state.Status = StatusStopped
			return "", err
		}
	}

	now := time.Now().UTC()
	c.state = RuntimeState{
		Status:      StatusRunning,
		Token:       token,
		Provider:    req.Provider,
		StartedAt:   &now,
		OwnerUserID: req.User.ID,
	}

	if err := c.persistRunning(ctx, req.User); err != nil {
		return "", err
	}
	return token, nil
}

// coldStart materializes config, hands env to the supervisor wrapper,
// starts the program and waits for readiness. Durable intent is only
// written once the gateway actually answered.
func (c *Controller) coldStart(ctx context.Context, req StartRequest) (string, error) {
	token, err := c.mat.Apply(req.Provider, req.APIKey, "", false)
	if err != nil {
		return "", err
	}

	if err := WriteEnvFile(c.envFile, map[string]string{
		"OPENCLAW_GATEWAY_TOKEN": token,
		"OPENCLAW_PROVIDER":      string(req.Provider),
		"OPENCLAW_API_KEY":       req.APIKey,
	}); err != nil {
		return "", err
	}

	slog.Info("starting gateway via supervisor", "provider", req.Provider)
	if err := c.sup.Start(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	now := time.Now().UTC()
	c.state = RuntimeState{
		Status:      StatusStarting,
		Token:       token,
		Provider:    req.Provider,
		StartedAt:   &now,
		OwnerUserID: req.User.ID,
	}

	if err := c.probe.WaitReady(ctx); err != nil {
		c.state = RuntimeState{Status: StatusStopped}
		if st, _ := c.sup.Status(ctx); !st.Running {
			return "", ErrStartFailed
		}
		return "", err
	}
	slog.Info("gateway is ready")

	c.state.Status = StatusRunning
	if err := c.persistRunning(ctx, req.User); err != nil {
		return "", err
	}
	return token, nil
}

// persistRunning writes the durable record and claims the ownership
// latch for the current in-memory state.
func (c *Controller) persistRunning(ctx context.Context, user *store.User) error {
	rec := &store.GatewayRecord{
		ShouldRun:   true,
		OwnerUserID: c.state.OwnerUserID,
		Provider:    string(c.state.Provider),
		Token:       c.state.Token,
		StartedAt:   c.state.StartedAt,
		UpdatedAt:   time.Now().UTC(),
	}
	if err := c.store.SaveGateway(ctx, rec); err != nil {
		return fmt.Errorf("persist gateway record: %w", err)
	}

	claimed, err := c.store.ClaimInstanceOwner(ctx, &store.InstanceOwner{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		ClaimedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("claim instance owner: %w", err)
	}
	if claimed {
		slog.Info("instance locked to user", "email", user.Email)
	}
	return nil
}

// Stop shuts the gateway down for the requesting user. It is
// idempotent and fail-safe: supervisor errors are logged, not
// propagated, and durable intent plus the env file are always cleared.
// Returns whether the gateway was actually running.
func (c *Controller) Stop(ctx context.Context, userID string) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.stop")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	st, _ := c.sup.Status(ctx)
	if !st.Running {
		if err := c.store.ClearShouldRun(ctx); err != nil {
			slog.Warn("could not clear should_run", "error", err)
		}
		c.state = RuntimeState{Status: StatusStopped}
		return false, nil
	}

	if c.state.OwnerUserID != "" && c.state.OwnerUserID != userID {
		return true, ErrNotOwner
	}

	if err := c.sup.Stop(ctx); err != nil {
		slog.Error("supervisor stop failed", "error", err)
	}
	ClearEnvFile(c.envFile)

	if err := c.store.ClearShouldRun(ctx); err != nil {
		return true, fmt.Errorf("clear should_run: %w", err)
	}

	c.state = RuntimeState{Status: StatusStopped}
	return true, nil
}

// Status reports the live gateway state as seen by userID ("" for
// anonymous).
func (c *Controller) Status(ctx context.Context, userID string) StatusInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, _ := c.sup.Status(ctx)
	if !st.Running {
		return StatusInfo{Running: false}
	}

	return StatusInfo{
		Running:     true,
		Pid:         st.Pid,
		Provider:    c.state.Provider,
		StartedAt:   c.state.StartedAt,
		ControlURL:  ControlURLPath,
		OwnerUserID: c.state.OwnerUserID,
		IsOwner:     userID != "" && userID == c.state.OwnerUserID,
	}
}

// Token returns the auth token for the running gateway. Owner only.
func (c *Controller) Token(ctx context.Context, userID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, _ := c.sup.Status(ctx)
	if !st.Running {
		return "", ErrNotRunning
	}
	if c.state.OwnerUserID != "" && c.state.OwnerUserID != userID {
		return "", ErrNotOwner
	}
	if c.state.Token != "" {
		return c.state.Token, nil
	}
	if token, ok := c.mat.Token(); ok {
		return token, nil
	}
	return "", ErrNotRunning
}

// CurrentToken returns the token without any ownership check. Used by
// the proxy, which enforces access separately.
func (c *Controller) CurrentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Token != "" {
		return c.state.Token
	}
	token, _ := c.mat.Token()
	return token
}

// OwnerUserID returns the current in-memory owner ("" when stopped).
func (c *Controller) OwnerUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.OwnerUserID
}

// Running reports whether the supervisor thinks the gateway is up.
func (c *Controller) Running(ctx context.Context) bool {
	st, _ := c.sup.Status(ctx)
	return st.Running
}

// RefreshToken re-reads the token from the gateway config file. Called
// by the file watcher when the config changes outside Start/Stop.
func (c *Controller) RefreshToken() {
	token, ok := c.mat.Token()
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Token != token {
		slog.Info("gateway token changed on disk, refreshing cache")
		c.state.Token = token
	}
}

// RestartIfRunning restarts the gateway when it is currently up, so
// config changes (new providers, channel credentials) take effect.
// A stopped gateway is left alone.
func (c *Controller) RestartIfRunning(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, _ := c.sup.Status(ctx)
	if !st.Running {
		return nil
	}
	slog.Info("restarting gateway to pick up config change")
	if err := c.sup.Restart(ctx); err != nil {
		return fmt.Errorf("restart gateway: %w", err)
	}
	return nil
}
