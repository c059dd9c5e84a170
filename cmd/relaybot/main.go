package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"relaybot/internal/attach"
	"relaybot/internal/auth"
	"relaybot/internal/completion"
	"relaybot/internal/config"
	"relaybot/internal/credstore"
	"relaybot/internal/dispatch"
	"relaybot/internal/domain"
	"relaybot/internal/gateway"
	"relaybot/internal/metrics"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "relaybot",
		Short: "Relaybot: Discord to LLM relay",
		Long:  "Relaybot relays Discord messages to an LLM completion service and posts the responses back, in order, per channel.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ~/.relaybot/config.yaml)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(logoutCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(installDaemonCmd())
	root.AddCommand(uninstallDaemonCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// buildLogger applies the configured level and optional log file.
func buildLogger(cfg *config.Config) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.DefaultConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists: %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relaybot " + version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot",
		Long:  "Connects to Discord and the completion service and relays messages until interrupted.",
		RunE:  runServe,
	}
}

// sinkFunc adapts a closure to gateway.MessageSink so the gateway can be
// constructed before the dispatcher that feeds on it.
type sinkFunc func(domain.InboundMessage)

func (f sinkFunc) Enqueue(m domain.InboundMessage) { f(m) }

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err = buildLogger(cfg)
	if err != nil {
		return err
	}

	// Graceful shutdown on signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := credstore.Open(cfg.Auth.CachePath, logger)
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	defer store.Close()

	resolver := auth.NewResolver(cfg.Auth, store, logger)
	apiToken, err := resolver.EnsureAuthenticated(ctx)
	if err != nil {
		logger.Error("authentication failed", "err", err)
		return err
	}

	invoker, err := completion.NewInvoker(completion.InvokerConfig{
		APIKey:  apiToken,
		APIBase: cfg.Completion.APIBase,
		Model:   cfg.Completion.DefaultModel,
		Timeout: time.Duration(cfg.Completion.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("completion invoker: %w", err)
	}

	var disp *dispatch.Dispatcher
	gw := gateway.NewDiscord(gateway.DiscordConfig{
		Token:    cfg.Gateway.Token,
		GuildID:  cfg.Gateway.GuildID,
		Filter:   gateway.NewFilter(cfg.Gateway),
		Sink:     sinkFunc(func(m domain.InboundMessage) { disp.Enqueue(m) }),
		Switcher: invoker,
		Logger:   logger,
	})

	fetcher := attach.NewFetcher(attach.FetcherConfig{
		Enabled:      cfg.Images.Enabled,
		MaxSizeBytes: cfg.Images.MaxSizeBytes,
		Notifier:     gw,
		Logger:       logger,
	})

	disp = dispatch.New(gw, invoker, fetcher, cfg.Context.WindowSize, logger)

	if err := gw.Start(ctx); err != nil {
		var permErr *domain.PermissionError
		if errors.As(err, &permErr) {
			logger.Error("gateway permission missing", "permission", permErr.Permission, "guidance", permErr.Guidance)
		}
		return fmt.Errorf("gateway: %w", err)
	}

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	logger.Info("relaybot started. Press Ctrl+C to stop.", "model", invoker.ActiveModel())

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// stop intake first, then let queued work drain
	if err := gw.Close(); err != nil {
		logger.Warn("gateway close failed", "err", err)
	}
	if err := disp.Close(shutdownCtx); err != nil {
		logger.Warn("drains abandoned", "err", err)
	}
	invoker.Stop()
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "err", err)
		}
	}

	logger.Info("shutdown complete")
	return nil
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize with the completion service",
		Long:  "Runs the OAuth device flow even if a credential is already cached, and caches the new token.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := credstore.Open(cfg.Auth.CachePath, logger)
			if err != nil {
				return fmt.Errorf("credential store: %w", err)
			}
			defer store.Close()

			resolver := auth.NewResolver(cfg.Auth, store, logger)
			if _, err := resolver.Login(ctx); err != nil {
				return err
			}
			logger.Info("login successful, credential cached")
			return nil
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the cached credential",
		Long:  "Clears the credential obtained by login; the next serve falls back to config, environment, or a fresh device flow.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store, err := credstore.Open(cfg.Auth.CachePath, logger)
			if err != nil {
				return fmt.Errorf("credential store: %w", err)
			}
			defer store.Close()

			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			logger.Info("cached credential removed")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration and credential status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				return nil
			}
			logger.Info("config", "path", cfgPath, "loaded", true)
			logger.Info("completion", "apiBase", cfg.Completion.APIBase, "defaultModel", defaultModelName(cfg),
				"reachable", serviceReachable(cmd.Context(), cfg.Completion.APIBase))

			switch {
			case cfg.Auth.Token != "":
				logger.Info("credential", "source", "config")
			case cfg.Auth.TokenEnv != "" && os.Getenv(cfg.Auth.TokenEnv) != "":
				logger.Info("credential", "source", "environment", "var", cfg.Auth.TokenEnv)
			default:
				store, err := credstore.Open(cfg.Auth.CachePath, logger)
				if err != nil {
					logger.Info("credential", "source", "none", "err", err)
					return nil
				}
				defer store.Close()
				cred, err := store.Load(cmd.Context())
				if err != nil {
					logger.Info("credential", "source", "none")
				} else {
					logger.Info("credential", "source", "cache", "obtained", cred.ObtainedAt.Format(time.RFC3339))
				}
			}
			return nil
		},
	}
}

// serviceReachable probes the completion API without credentials; any
// HTTP response counts as reachable.
func serviceReachable(ctx context.Context, apiBase string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", apiBase+"/models", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func defaultModelName(cfg *config.Config) string {
	if cfg.Completion.DefaultModel != "" {
		return cfg.Completion.DefaultModel
	}
	return completion.DefaultModel()
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. context.windowSize)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := yaml.Marshal(val)
			fmt.Print(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. context.windowSize 10)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config paths and values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s: %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
