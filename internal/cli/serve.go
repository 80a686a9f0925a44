package cli

import (
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acpd-dev/acpd/internal/acp"
	"github.com/acpd-dev/acpd/internal/config"
	"github.com/acpd-dev/acpd/internal/engine"
	"github.com/acpd-dev/acpd/internal/engine/scripted"
	"github.com/acpd-dev/acpd/internal/engine/store"
)

// Version is stamped at build time
var Version = "0.1.0"

const (
	settingsFile = "settings.yaml"
	mcpFile      = "mcp.json"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent protocol on stdin/stdout",
	Long: `Serve the agent protocol on stdin/stdout. The client owns the
process lifetime: acpd exits when its input stream closes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int("cancel-timeout", 0, "Seconds to wait for cooperative cancellation before forcing (overrides settings.yaml)")
	serveCmd.Flags().String("script", "", "Path to a scripted-engine fixture file (overrides settings.yaml)")
}

func runServe(cmd *cobra.Command, args []string) error {
	configDir, err := resolveConfigDir(cmd)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromFile(filepath.Join(configDir, settingsFile))
	if err != nil {
		return err
	}
	if err := applyOverrides(cmd, cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stdout belongs to the protocol; all logging goes to stderr.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	logger.Info("starting acpd", "version", Version, "config_dir", configDir)

	mcpServers, err := config.LoadMcpServers(filepath.Join(configDir, mcpFile))
	if err != nil {
		return err
	}

	conversationsDir := cfg.ConversationsDir
	if conversationsDir == "" {
		conversationsDir = filepath.Join(configDir, "conversations")
	}
	st, err := store.NewStore(conversationsDir, logger)
	if err != nil {
		return err
	}

	loader, err := buildLoader(cfg, st, logger)
	if err != nil {
		return err
	}

	server := acp.NewServer(acp.Options{
		Config:     cfg,
		Loader:     loader,
		Store:      st,
		McpServers: mcpServers,
		Logger:     logger,
		Version:    Version,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, os.Stdin, os.Stdout)
}

// buildLoader selects the conversation engine from configuration
func buildLoader(cfg *config.Config, st *store.Store, logger *slog.Logger) (engine.Loader, error) {
	if cfg.Agent.Script != "" {
		script, err := scripted.LoadFile(cfg.Agent.Script)
		if err != nil {
			return nil, err
		}
		return &scripted.Loader{Script: script, Store: st, Logger: logger}, nil
	}

	if cfg.Agent.Model != "" {
		// TODO: wire a model-backed engine once one lands; until then the
		// scripted engine keeps the protocol surface usable.
		logger.Warn("model-backed engines are not available yet, using the scripted engine",
			"model", cfg.Agent.Model)
	}
	return &scripted.Loader{Script: scripted.DefaultScript(), Store: st, Logger: logger}, nil
}

func resolveConfigDir(cmd *cobra.Command) (string, error) {
	dir, err := cmd.Flags().GetString("config-dir")
	if err != nil {
		return "", err
	}
	if dir != "" {
		return dir, nil
	}
	return config.DefaultDir()
}

func applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if level, err := cmd.Flags().GetString("log-level"); err != nil {
		return err
	} else if level != "" {
		cfg.LogLevel = level
	}

	if timeout, err := cmd.Flags().GetInt("cancel-timeout"); err != nil {
		return err
	} else if timeout > 0 {
		cfg.CancelTimeoutSeconds = timeout
	}

	if script, err := cmd.Flags().GetString("script"); err != nil {
		return err
	} else if script != "" {
		cfg.Agent.Script = script
	}

	return nil
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
