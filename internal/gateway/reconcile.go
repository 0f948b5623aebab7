package gateway

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// Reconcile converges the observed world with durable intent at boot.
//
// Four cases:
//   - process up                        -> adopt it (recover token, owner)
//   - process down, should_run=true     -> auto-start from the record
//   - process down, should_run=false    -> stay stopped
//   - no record at all                  -> stay stopped
//
// Reconciliation never gives up the boot: every failure degrades to
// "stopped" and logs.
func (c *Controller) Reconcile(ctx context.Context) {
	ctx, span := c.tracer.Start(ctx, "gateway.reconcile")
	defer span.End()

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.store.GetGateway(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("could not read gateway record", "error", err)
	}
	shouldRun := rec != nil && rec.ShouldRun
	slog.Info("reconciling gateway state", "should_run", shouldRun)

	st, _ := c.sup.Status(ctx)

	switch {
	case st.Running:
		c.adoptAtBoot(rec, st)

	case shouldRun:
		c.autoStart(ctx, rec)

	default:
		c.state = RuntimeState{Status: StatusStopped}
	}
}

// adoptAtBoot recovers runtime state for an already-running process.
// The config file is authoritative for the token, the durable record
// for identity.
func (c *Controller) adoptAtBoot(rec *store.GatewayRecord, st ProcStatus) {
	slog.Info("gateway already running via supervisor", "pid", st.Pid)
	c.state = RuntimeState{Status: StatusRunning}

	if token, ok := c.mat.Token(); ok {
		c.state.Token = token
	} else {
		slog.Warn("could not recover gateway token from config file")
	}

	if rec != nil {
		c.state.Provider = ProviderKind(rec.Provider)
		c.state.OwnerUserID = rec.OwnerUserID
		c.state.StartedAt = rec.StartedAt
		slog.Info("recovered gateway owner", "owner_user_id", rec.OwnerUserID)
	} else {
		c.state.Provider = ProviderEmergent
	}
}

// autoStart relaunches a gateway whose durable intent says it should be
// up. The token comes from the record, falling back to the config file,
// falling back to a fresh one.
func (c *Controller) autoStart(ctx context.Context, rec *store.GatewayRecord) {
	slog.Info("gateway should be running but is not, auto-starting")

	token := rec.Token
	if token == "" {
		if t, ok := c.mat.Token(); ok {
			token = t
		} else {
			token = c.mat.tokenFn()
		}
	}

	provider := ProviderKind(rec.Provider)
	if provider == "" {
		provider = ProviderEmergent
	}

	if err := WriteEnvFile(c.envFile, map[string]string{
		"OPENCLAW_GATEWAY_TOKEN": token,
		"OPENCLAW_PROVIDER":      string(provider),
	}); err != nil {
		slog.Error("could not write gateway env file", "error", err)
		c.state = RuntimeState{Status: StatusStopped}
		return
	}

	if err := c.sup.Start(ctx); err != nil {
		slog.Error("gateway auto-start failed", "error", err)
		c.state = RuntimeState{Status: StatusStopped}
		return
	}

	// Give it a moment; full readiness is the prober's job on the next
	// status query, the boot should not block for a minute.
	shortProbe := *c.probe
	shortProbe.Attempts = 3
	if err := shortProbe.WaitReady(ctx); err != nil {
		slog.Warn("gateway auto-started but not yet ready", "error", err)
	} else {
		slog.Info("gateway auto-started successfully")
	}

	now := time.Now().UTC()
	startedAt := rec.StartedAt
	if startedAt == nil {
		startedAt = &now
	}
	c.state = RuntimeState{
		Status:      StatusRunning,
		Token:       token,
		Provider:    provider,
		StartedAt:   startedAt,
		OwnerUserID: rec.OwnerUserID,
	}
}
