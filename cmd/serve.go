package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/clawhost/internal/auth"
	"github.com/nextlevelbuilder/clawhost/internal/config"
	"github.com/nextlevelbuilder/clawhost/internal/digest"
	"github.com/nextlevelbuilder/clawhost/internal/gateway"
	httpapi "github.com/nextlevelbuilder/clawhost/internal/http"
	"github.com/nextlevelbuilder/clawhost/internal/llm"
	"github.com/nextlevelbuilder/clawhost/internal/notify"
	"github.com/nextlevelbuilder/clawhost/internal/proxy"
	"github.com/nextlevelbuilder/clawhost/internal/store"
	"github.com/nextlevelbuilder/clawhost/internal/store/lite"
	"github.com/nextlevelbuilder/clawhost/internal/store/pg"
	"github.com/nextlevelbuilder/clawhost/internal/telemetry"
	"github.com/nextlevelbuilder/clawhost/internal/watcher"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the control plane server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("failed to set up telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	stores, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open metadata store", "error", err)
		os.Exit(1)
	}

	// Gateway lifecycle plumbing.
	gwConfigPath := cfg.GatewayConfigPath()
	gwEnvFile := cfg.GatewayEnvFile()
	workspace := filepath.Join(filepath.Dir(gwConfigPath), "workspace")

	mat := gateway.NewMaterializer(gwConfigPath, workspace, cfg.Gateway.Port)
	sup := gateway.NewSupervisorctl(cfg.Gateway.Supervisorctl, cfg.Gateway.Program)
	probe := gateway.NewProber(cfg.Gateway.Port, cfg.Gateway.ProbeAttempts,
		time.Duration(cfg.Gateway.ProbeIntervalSec)*time.Second)
	ctl := gateway.NewController(stores.Gateway, sup, mat, probe, gwEnvFile)

	// Converge on whatever survived the last control plane restart.
	ctl.Reconcile(ctx)

	identity := auth.NewIdentityClient(cfg.Auth.IdentityURL)
	guard := auth.NewGuard(stores.Users, stores.Sessions, stores.Gateway, identity,
		time.Duration(cfg.Auth.SessionTTLHours)*time.Hour, cfg.Auth.CookieDomain)

	llmClient := llm.New(cfg.LLM.APIBase, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.TranscribeModel)

	notifier := buildNotifier(cfg, mat)
	pipeline := digest.NewPipeline(stores.Chat, stores.Digest, llmClient, notifier)
	scheduler := digest.NewScheduler(stores.Digest, pipeline)

	whatsapp := watcher.NewWhatsAppWatcher(config.ExpandHome(cfg.Gateway.WhatsAppCreds), ctl)

	px := proxy.New(ctl, guard, cfg.Gateway.Port)

	httpapi.Version = Version
	server := httpapi.NewServer(cfg.Server.Host, cfg.Server.Port, cfg.Server.AllowedOrigins, px,
		httpapi.NewAuthHandler(guard, cfg.Server.AuthRateRPM),
		httpapi.NewGatewayHandler(guard, ctl, whatsapp),
		httpapi.NewTelegramHandler(guard, mat, ctl, gwEnvFile),
		httpapi.NewChatHandler(guard, stores.Chat, llmClient),
		httpapi.NewHubHandler(guard, mat, ctl),
		httpapi.NewDigestHandler(guard, stores.Digest, pipeline),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error {
		scheduler.Run(ctx)
		return nil
	})
	g.Go(func() error {
		whatsapp.Run(ctx)
		return nil
	})
	g.Go(func() error { return watcher.WatchConfig(ctx, gwConfigPath, ctl) })
	g.Go(func() error {
		cleanupSessions(ctx, stores.Sessions)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func openStores(cfg *config.Config) (*store.Stores, error) {
	sc := store.StoreConfig{
		PostgresDSN: cfg.Database.PostgresDSN,
		SQLitePath:  config.ExpandHome(cfg.Database.SQLitePath),
	}

	switch cfg.Database.Mode {
	case "managed":
		if sc.PostgresDSN == "" {
			return nil, fmt.Errorf("managed mode requires CLAWHOST_POSTGRES_DSN")
		}
		slog.Info("using postgres metadata store")
		return pg.NewPGStores(sc)
	case "", "standalone":
		slog.Info("using sqlite metadata store", "path", sc.SQLitePath)
		return lite.NewLiteStores(sc)
	default:
		return nil, fmt.Errorf("unknown database mode %q", cfg.Database.Mode)
	}
}

// buildNotifier picks the digest delivery channel from config. Telegram
// wins when both are configured; returns nil when neither is usable.
func buildNotifier(cfg *config.Config, mat *gateway.Materializer) notify.Notifier {
	token := cfg.Digest.TelegramBotToken
	if token == "" {
		token, _ = mat.TelegramToken()
	}
	if token != "" {
		chatID, err := notify.PairedChatID(config.ExpandHome(cfg.Digest.PairingFile))
		if err != nil {
			slog.Warn("digest telegram delivery unavailable", "error", err)
		} else {
			n, err := notify.NewTelegramNotifier(token, chatID)
			if err != nil {
				slog.Warn("digest telegram notifier", "error", err)
			} else {
				return n
			}
		}
	}

	if cfg.Digest.DiscordBotToken != "" && cfg.Digest.DiscordChannelID != "" {
		n, err := notify.NewDiscordNotifier(cfg.Digest.DiscordBotToken, cfg.Digest.DiscordChannelID)
		if err != nil {
			slog.Warn("digest discord notifier", "error", err)
		} else {
			return n
		}
	}

	slog.Info("no digest delivery channel configured")
	return nil
}

// cleanupSessions deletes expired sessions hourly.
func cleanupSessions(ctx context.Context, sessions store.SessionStore) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.DeleteExpired(ctx, time.Now().UTC())
			if err != nil {
				slog.Warn("session cleanup", "error", err)
			} else if n > 0 {
				slog.Info("expired sessions removed", "count", n)
			}
		}
	}
}
