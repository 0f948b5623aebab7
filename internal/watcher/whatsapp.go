// Package watcher runs the background loops that keep the gateway's
// on-disk state healthy.
package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// WhatsAppStatus describes the gateway's WhatsApp link as read from the
// Baileys credentials file.
type WhatsAppStatus struct {
	Linked     bool   `json:"linked"`
	Registered bool   `json:"registered"`
	Phone      string `json:"phone,omitempty"`
}

// Restarter is the slice of the lifecycle controller the watcher needs.
type Restarter interface {
	RestartIfRunning(ctx context.Context) error
}

// WhatsAppWatcher repairs a known Baileys failure mode: after pairing,
// the credentials sometimes land with registered=false, which makes the
// gateway refuse the link on its next boot. The watcher flips the flag
// and restarts the gateway.
type WhatsAppWatcher struct {
	credsPath string
	gw        Restarter
	interval  time.Duration
}

// NewWhatsAppWatcher builds a watcher over the given creds.json path.
func NewWhatsAppWatcher(credsPath string, gw Restarter) *WhatsAppWatcher {
	return &WhatsAppWatcher{
		credsPath: credsPath,
		gw:        gw,
		interval:  5 * time.Second,
	}
}

// Status reads the current link state. A missing or unreadable file
// means not linked.
func (w *WhatsAppWatcher) Status() *WhatsAppStatus {
	data, err := os.ReadFile(w.credsPath)
	if err != nil {
		return &WhatsAppStatus{}
	}

	var creds map[string]any
	if err := json.Unmarshal(data, &creds); err != nil {
		return &WhatsAppStatus{}
	}

	st := &WhatsAppStatus{Linked: true}
	if reg, ok := creds["registered"].(bool); ok {
		st.Registered = reg
	}
	if me, ok := creds["me"].(map[string]any); ok {
		if id, ok := me["id"].(string); ok {
			st.Phone = phoneFromJID(id)
		}
	}
	return st
}

// phoneFromJID extracts the bare number from a WhatsApp JID like
// "15551234567:12@s.whatsapp.net".
func phoneFromJID(jid string) string {
	if at := strings.Index(jid, "@"); at >= 0 {
		jid = jid[:at]
	}
	if colon := strings.Index(jid, ":"); colon >= 0 {
		jid = jid[:colon]
	}
	return jid
}

// fixRegisteredFlag rewrites the creds file with registered=true,
// preserving every other key.
func (w *WhatsAppWatcher) fixRegisteredFlag() error {
	data, err := os.ReadFile(w.credsPath)
	if err != nil {
		return fmt.Errorf("read creds: %w", err)
	}
	var creds map[string]any
	if err := json.Unmarshal(data, &creds); err != nil {
		return fmt.Errorf("parse creds: %w", err)
	}
	creds["registered"] = true

	out, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encode creds: %w", err)
	}
	tmp := w.credsPath + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return fmt.Errorf("write creds: %w", err)
	}
	if err := os.Rename(tmp, w.credsPath); err != nil {
		return fmt.Errorf("replace creds: %w", err)
	}
	return nil
}

// Run blocks until ctx is cancelled, polling the creds file.
func (w *WhatsAppWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *WhatsAppWatcher) check(ctx context.Context) {
	st := w.Status()
	if !st.Linked || st.Registered {
		return
	}

	slog.Info("whatsapp creds linked but unregistered, repairing", "phone", st.Phone)
	if err := w.fixRegisteredFlag(); err != nil {
		slog.Error("repair whatsapp creds", "error", err)
		return
	}
	if err := w.gw.RestartIfRunning(ctx); err != nil {
		slog.Error("restart gateway after creds repair", "error", err)
	}
}
