package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/bridge/internal/control"
	"github.com/vietddude/bridge/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
	migrate bool
)

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Loyalty POS bridge",
	Long: `Bridge relays POS quote, commit and refund calls to the central loyalty API,
queueing commits and refunds locally while the API is unreachable, and serves
long-poll waits for realtime customer events.`,
	Run: func(cmd *cobra.Command, args []string) {
		runBridge(true, true)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&migrate, "migrate", false, "apply the event log schema before starting")
}

// loadConfig loads .env and the config file, then initializes logging.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg
}

func runBridge(relay, realtime bool) {
	cfg := loadConfig()

	app, err := control.NewBridge(control.Config{
		Relay:          cfg.Relay,
		Realtime:       cfg.Realtime,
		GRPC:           cfg.GRPC,
		Redis:          cfg.Redis,
		Database:       cfg.Database,
		EnableRelay:    relay,
		EnableRealtime: realtime,
		Migrate:        migrate,
	})
	if err != nil {
		slog.Error("Failed to initialize Bridge", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		slog.Error("Failed to start Bridge", "error", err)
		os.Exit(1)
	}
	slog.Info("Bridge started", "config", cfgPath, "relay", relay, "realtime", realtime)

	failed := make(chan error, 1)
	go func() { failed <- app.Wait() }()

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("Received signal, shutting down...")
	case err := <-failed:
		if err != nil {
			slog.Error("Component failed, shutting down", "error", err)
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		exitCode = 1
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
	slog.Info("Bridge stopped gracefully")
}
