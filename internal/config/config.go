package config

// Config is the top-level control plane configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Gateway   GatewayConfig   `json:"gateway"`
	Auth      AuthConfig      `json:"auth"`
	Database  DatabaseConfig  `json:"database"`
	LLM       LLMConfig       `json:"llm"`
	Digest    DigestConfig    `json:"digest"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// ServerConfig configures the control plane HTTP listener.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// AuthRateRPM limits POST /api/auth/session per client IP.
	// 0 disables the limiter.
	AuthRateRPM int `json:"auth_rate_rpm,omitempty"`
}

// GatewayConfig describes the single supervised gateway process this
// control plane manages.
type GatewayConfig struct {
	// Program is the supervisor program name passed to supervisorctl.
	Program string `json:"program"`
	// Supervisorctl is the binary used to drive the supervisor.
	Supervisorctl string `json:"supervisorctl,omitempty"`
	// Port is the loopback port the gateway listens on once up.
	Port int `json:"port"`
	// ConfigPath is the gateway's own JSON config file.
	ConfigPath string `json:"config_path"`
	// EnvFile is the side-channel env file read by the supervisor wrapper.
	EnvFile string `json:"env_file"`
	// ProbeAttempts and ProbeIntervalSec bound the readiness probe.
	ProbeAttempts    int `json:"probe_attempts,omitempty"`
	ProbeIntervalSec int `json:"probe_interval_sec,omitempty"`
	// WhatsAppCreds is the gateway's Baileys credentials file, polled by
	// the repair watcher.
	WhatsAppCreds string `json:"whatsapp_creds,omitempty"`
}

// AuthConfig configures session auth and the external identity exchange.
type AuthConfig struct {
	// IdentityURL is the OAuth broker's session-data endpoint.
	IdentityURL string `json:"identity_url"`
	// SessionTTLHours is the lifetime of a newly minted session.
	SessionTTLHours int `json:"session_ttl_hours,omitempty"`
	// CookieDomain, if set, scopes the session cookie.
	CookieDomain string `json:"cookie_domain,omitempty"`
}

// DatabaseConfig selects the metadata store backend.
// Mode "standalone" uses a local SQLite file, "managed" uses Postgres.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"`
	PostgresDSN string `json:"-"`
	SQLitePath  string `json:"sqlite_path,omitempty"`
}

// LLMConfig configures the OpenAI-compatible endpoint used for the
// built-in chat, digest summaries, and audio transcription.
type LLMConfig struct {
	APIBase         string `json:"api_base,omitempty"`
	APIKey          string `json:"-"`
	Model           string `json:"model,omitempty"`
	TranscribeModel string `json:"transcribe_model,omitempty"`
}

// DigestConfig holds delivery credentials for the daily digest.
// Schedule and recipient live in the store, not here.
type DigestConfig struct {
	TelegramBotToken string `json:"-"`
	// PairingFile lists the Telegram chat ids the gateway has paired;
	// the first entry receives the digest.
	PairingFile      string `json:"pairing_file,omitempty"`
	DiscordBotToken  string `json:"-"`
	DiscordChannelID string `json:"discord_channel_id,omitempty"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}
