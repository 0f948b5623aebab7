package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8001,
			AuthRateRPM: 30,
		},
		Gateway: GatewayConfig{
			Program:          "openclaw",
			Supervisorctl:    "supervisorctl",
			Port:             18789,
			ConfigPath:       "~/.clawdbot/clawdbot.json",
			EnvFile:          "~/.clawdbot/gateway.env",
			ProbeAttempts:    60,
			ProbeIntervalSec: 1,
			WhatsAppCreds:    "~/.clawdbot/credentials/whatsapp/creds.json",
		},
		Auth: AuthConfig{
			SessionTTLHours: 24 * 7,
		},
		Database: DatabaseConfig{
			Mode:       "standalone",
			SQLitePath: "~/.clawhost/clawhost.db",
		},
		LLM: LLMConfig{
			APIBase:         "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			TranscribeModel: "whisper-1",
		},
		Digest: DigestConfig{
			PairingFile: "~/.clawdbot/credentials/telegram-allowFrom.json",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
// A missing file is not an error: env vars alone can configure everything.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("CLAWHOST_HOST", &c.Server.Host)
	envInt("CLAWHOST_PORT", &c.Server.Port)

	envStr("CLAWHOST_GATEWAY_PROGRAM", &c.Gateway.Program)
	envStr("CLAWHOST_SUPERVISORCTL", &c.Gateway.Supervisorctl)
	envInt("CLAWHOST_GATEWAY_PORT", &c.Gateway.Port)
	envStr("CLAWHOST_GATEWAY_CONFIG", &c.Gateway.ConfigPath)
	envStr("CLAWHOST_GATEWAY_ENV_FILE", &c.Gateway.EnvFile)

	envStr("CLAWHOST_IDENTITY_URL", &c.Auth.IdentityURL)
	envInt("CLAWHOST_SESSION_TTL_HOURS", &c.Auth.SessionTTLHours)
	envStr("CLAWHOST_COOKIE_DOMAIN", &c.Auth.CookieDomain)

	envStr("CLAWHOST_MODE", &c.Database.Mode)
	envStr("CLAWHOST_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("CLAWHOST_SQLITE_PATH", &c.Database.SQLitePath)

	envStr("CLAWHOST_LLM_API_BASE", &c.LLM.APIBase)
	envStr("CLAWHOST_LLM_API_KEY", &c.LLM.APIKey)
	envStr("CLAWHOST_LLM_MODEL", &c.LLM.Model)
	envStr("CLAWHOST_TRANSCRIBE_MODEL", &c.LLM.TranscribeModel)

	envStr("CLAWHOST_WHATSAPP_CREDS", &c.Gateway.WhatsAppCreds)

	envStr("CLAWHOST_DIGEST_TELEGRAM_TOKEN", &c.Digest.TelegramBotToken)
	envStr("CLAWHOST_DIGEST_PAIRING_FILE", &c.Digest.PairingFile)
	envStr("CLAWHOST_DIGEST_DISCORD_TOKEN", &c.Digest.DiscordBotToken)
	envStr("CLAWHOST_DIGEST_DISCORD_CHANNEL", &c.Digest.DiscordChannelID)

	envStr("CLAWHOST_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("CLAWHOST_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("CLAWHOST_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("CLAWHOST_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CLAWHOST_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// GatewayConfigPath returns the expanded gateway config file path.
func (c *Config) GatewayConfigPath() string {
	return ExpandHome(c.Gateway.ConfigPath)
}

// GatewayEnvFile returns the expanded gateway env file path.
func (c *Config) GatewayEnvFile() string {
	return ExpandHome(c.Gateway.EnvFile)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
