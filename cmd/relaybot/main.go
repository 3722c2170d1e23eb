package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaybot/internal/bus"
	"relaybot/internal/channel"
	"relaybot/internal/config"
	"relaybot/internal/domain"
	"relaybot/internal/history"
	"relaybot/internal/inference"
	"relaybot/internal/metrics"
	"relaybot/internal/relay"

	"github.com/spf13/cobra"
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
		Short: "Relaybot: chat-platform relay to an inference endpoint",
		Long:  "Relaybot bridges Slack and Telegram conversations to an HTTP inference endpoint and posts the replies back into the originating thread.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.relaybot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(configCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(versionCmd())

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

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := resolveConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay (all enabled channels)",
		Long:  "Starts all enabled channels and the relay loop. Press Ctrl+C to stop.",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = newLogger(cfg.General)

	if !cfg.Channels.Slack.Enabled && !cfg.Channels.Telegram.Enabled {
		return fmt.Errorf("no channels enabled; enable channels.slack or channels.telegram in %s", cfgPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	// Optional relay transcript
	var store *history.Store
	var recorder relay.Recorder
	if cfg.History.Enabled {
		store, err = history.NewStore(config.ExpandPath(cfg.History.DBPath), logger)
		if err != nil {
			return fmt.Errorf("history store: %w", err)
		}
		defer store.Close()
		recorder = store
		if n, err := store.Prune(ctx, cfg.History.RetentionDays); err != nil {
			logger.Warn("history prune failed", "err", err)
		} else if n > 0 {
			logger.Info("history pruned", "removed", n)
		}
	}

	client := inference.New(inference.Config{
		Endpoint:  cfg.Inference.Endpoint,
		Mode:      cfg.Inference.Mode,
		TimeoutMS: cfg.Inference.TimeoutMS,
		Logger:    logger,
	})

	bindings := make(map[string]relay.Binding)

	var slackCh *channel.Slack
	if cfg.Channels.Slack.Enabled {
		slackCh = channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		})
		bindings["slack"] = relay.Binding{
			Platform:   slackCh,
			TargetChat: cfg.Channels.Slack.TargetChannel,
			RichBlocks: cfg.Channels.Slack.RichBlocks,
		}
		go func() {
			if err := slackCh.Start(ctx, messageBus); err != nil {
				logger.Error("slack channel error", "err", err)
			}
		}()
		logger.Info("slack channel enabled")
	}

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled {
		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:  cfg.Channels.Telegram.Token,
			Debug:  cfg.Channels.Telegram.Debug,
			Logger: logger,
		})
		bindings["telegram"] = relay.Binding{
			Platform:   telegramCh,
			TargetChat: cfg.Channels.Telegram.TargetChatID,
		}
		go func() {
			if err := telegramCh.Start(ctx, messageBus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	}

	relayLoop := relay.NewLoop(relay.LoopConfig{
		Client:       client,
		Bus:          messageBus,
		Bindings:     bindings,
		Recorder:     recorder,
		Logger:       logger,
		Concurrency:  cfg.General.MaxConcurrentEvents,
		Deadline:     time.Duration(cfg.General.WorkerDeadlineSeconds) * time.Second,
		ContextLimit: cfg.Inference.ContextLimit,
	})
	go relayLoop.Run(ctx)

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", metrics.Collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics server listening", "addr", cfg.Metrics.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "err", err)
			}
		}()
	}

	logger.Info("relay started. Press Ctrl+C to stop.", "endpoint", client.Endpoint())

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down relay...")

	// Graceful shutdown with timeout
	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		if slackCh != nil {
			slackCh.Stop()
		}
		if telegramCh != nil {
			telegramCh.Stop()
		}
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	return shutdownErr
}

// newLogger builds the process logger from the general config section.
func newLogger(gc config.GeneralConfig) *slog.Logger {
	level := slog.LevelInfo
	switch gc.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	out := os.Stderr
	if gc.LogFile != "" {
		f, err := os.OpenFile(config.ExpandPath(gc.LogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.Warn("cannot open log file, logging to stderr", "path", gc.LogFile, "err", err)
		} else {
			out = f
		}
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. inference.endpoint)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. inference.mode qa_blocks)",
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
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (tokens masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sanitized := config.Sanitize(cfg)
			data, _ := json.MarshalIndent(sanitized, "", "  ")
			fmt.Println(string(data))
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

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent relay transcript entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("history is disabled; set history.enabled true")
			}
			store, err := history.NewStore(config.ExpandPath(cfg.History.DBPath), logger)
			if err != nil {
				return fmt.Errorf("history store: %w", err)
			}
			defer store.Close()

			recs, err := store.Recent(context.Background(), limit)
			if err != nil {
				return err
			}
			for _, rec := range recs {
				printRecord(rec)
			}
			if len(recs) == 0 {
				fmt.Println("no transcript entries")
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}

func printRecord(rec domain.RelayRecord) {
	detail := rec.Reply
	if rec.Outcome == "error" {
		detail = rec.Error
	}
	if len(detail) > 80 {
		detail = detail[:77] + "..."
	}
	fmt.Printf("%s  %-8s %-12s %-7s %5dms  %s\n",
		rec.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		rec.Channel, rec.ChatID, rec.Outcome, rec.LatencyMS, detail)
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("relaybot " + version)
		},
	}
}
