package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Materializer translates desired gateway state into the gateway's own
// JSON config file. It is a pure file transformer: it never touches the
// supervisor or the metadata store.
//
// Unknown keys already present in the file (workspace tweaks, channels,
// providers registered out of band) survive every rewrite. The file is
// read leniently and written canonically.
type Materializer struct {
	ConfigPath   string
	WorkspaceDir string
	Port         int

	// tokenFn generates fresh auth tokens; overridable in tests.
	tokenFn func() string
}

// NewMaterializer creates a materializer for the given gateway config
// file, workspace dir and loopback port.
func NewMaterializer(configPath, workspaceDir string, port int) *Materializer {
	return &Materializer{
		ConfigPath:   configPath,
		WorkspaceDir: workspaceDir,
		Port:         port,
		tokenFn:      generateToken,
	}
}

func generateToken() string {
	buf := make([]byte, 32)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// readConfig loads the current gateway config. A missing or unparsable
// file yields an empty base: materialization always proceeds.
func (m *Materializer) readConfig() map[string]any {
	data, err := os.ReadFile(m.ConfigPath)
	if err != nil {
		return map[string]any{}
	}
	var cfg map[string]any
	if err := json5.Unmarshal(data, &cfg); err != nil {
		slog.Warn("gateway config unparsable, starting from empty", "path", m.ConfigPath, "error", err)
		return map[string]any{}
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	return cfg
}

// writeConfig persists the config atomically with 0600 perms.
func (m *Materializer) writeConfig(cfg map[string]any) error {
	dir := filepath.Dir(m.ConfigPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode gateway config: %w", err)
	}

	tmp := m.ConfigPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write gateway config: %w", err)
	}
	if err := os.Rename(tmp, m.ConfigPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace gateway config: %w", err)
	}
	return nil
}

// ensureSection returns cfg[key] as a map, creating it when absent or
// of the wrong shape.
func ensureSection(cfg map[string]any, key string) map[string]any {
	if sec, ok := cfg[key].(map[string]any); ok {
		return sec
	}
	sec := map[string]any{}
	cfg[key] = sec
	return sec
}

// Apply rewrites the gateway config for the given provider and returns
// the auth token now in effect.
//
// Token resolution: with forceNewToken a fresh token always wins
// (changing it is what forces the gateway to drop stale clients).
// Otherwise the token already in the file is reused so a running
// gateway is not disturbed, then the caller-supplied token, then a
// fresh one.
func (m *Materializer) Apply(kind ProviderKind, apiKey, callerToken string, forceNewToken bool) (string, error) {
	provEntries, aliases, primary, err := startProviderEntries(kind, apiKey)
	if err != nil {
		return "", err
	}

	if m.WorkspaceDir != "" {
		if err := os.MkdirAll(m.WorkspaceDir, 0755); err != nil {
			return "", fmt.Errorf("create workspace dir: %w", err)
		}
	}

	cfg := m.readConfig()

	token := ""
	if !forceNewToken {
		token = m.tokenIn(cfg)
	}
	reused := token != ""
	if token == "" {
		token = callerToken
	}
	if token == "" {
		token = m.tokenFn()
	}
	slog.Info("materializing gateway config", "provider", kind, "token_reused", reused)

	// The gateway section is owned by the control plane and replaced
	// wholesale on every apply.
	cfg["gateway"] = map[string]any{
		"mode": "local",
		"port": m.Port,
		"bind": "lan",
		"auth": map[string]any{
			"mode":  "token",
			"token": token,
		},
		"controlUi": map[string]any{
			"enabled":           true,
			"allowInsecureAuth": true,
		},
	}

	models := ensureSection(cfg, "models")
	models["mode"] = "merge"
	providers := ensureSection(models, "providers")
	for name, entry := range provEntries {
		providers[name] = entry
	}

	agents := ensureSection(cfg, "agents")
	defaults := ensureSection(agents, "defaults")
	if m.WorkspaceDir != "" {
		defaults["workspace"] = m.WorkspaceDir
	}
	defaults["models"] = aliases
	defaults["model"] = map[string]any{"primary": primary}

	if err := m.writeConfig(cfg); err != nil {
		return "", err
	}
	return token, nil
}

// tokenIn extracts gateway.auth.token from a config map.
func (m *Materializer) tokenIn(cfg map[string]any) string {
	gw, _ := cfg["gateway"].(map[string]any)
	auth, _ := gw["auth"].(map[string]any)
	token, _ := auth["token"].(string)
	return token
}

// Token reads the auth token currently persisted in the config file.
func (m *Materializer) Token() (string, bool) {
	cfg := m.readConfig()
	token := m.tokenIn(cfg)
	return token, token != ""
}

// ConfigureHubProvider adds one extra provider to the model catalog
// without touching the gateway section or the primary model. Returns
// the model IDs the provider contributes.
func (m *Materializer) ConfigureHubProvider(kind ProviderKind, apiKey, baseURL string) ([]string, error) {
	name, entry, err := hubProviderEntry(kind, apiKey, baseURL)
	if err != nil {
		return nil, err
	}

	cfg := m.readConfig()
	models := ensureSection(cfg, "models")
	if _, ok := models["mode"]; !ok {
		models["mode"] = "merge"
	}
	providers := ensureSection(models, "providers")
	providers[name] = entry

	if err := m.writeConfig(cfg); err != nil {
		return nil, err
	}
	return catalogModelIDs(entry), nil
}

// ProviderInfo is the hub's view of one configured provider.
type ProviderInfo struct {
	Name       string   `json:"name"`
	Configured bool     `json:"configured"`
	Models     []string `json:"models"`
}

// Providers lists providers present in the config file, without keys.
func (m *Materializer) Providers() map[string]ProviderInfo {
	cfg := m.readConfig()
	models, _ := cfg["models"].(map[string]any)
	providers, _ := models["providers"].(map[string]any)

	out := make(map[string]ProviderInfo, len(providers))
	for name, raw := range providers {
		entry, _ := raw.(map[string]any)
		out[name] = ProviderInfo{
			Name:       name,
			Configured: true,
			Models:     catalogModelIDs(entry),
		}
	}
	return out
}

// ConfigureTelegram persists the Telegram bot token into the gateway's
// channels section.
func (m *Materializer) ConfigureTelegram(botToken string) error {
	cfg := m.readConfig()
	channels := ensureSection(cfg, "channels")
	channels["telegram"] = map[string]any{
		"enabled":  true,
		"botToken": botToken,
	}
	return m.writeConfig(cfg)
}

// TelegramConfigured reports whether a Telegram bot token is present.
func (m *Materializer) TelegramConfigured() bool {
	_, ok := m.TelegramToken()
	return ok
}

// TelegramToken returns the Telegram bot token from the channels
// section, if any.
func (m *Materializer) TelegramToken() (string, bool) {
	cfg := m.readConfig()
	channels, _ := cfg["channels"].(map[string]any)
	tg, _ := channels["telegram"].(map[string]any)
	token, _ := tg["botToken"].(string)
	return token, token != ""
}
