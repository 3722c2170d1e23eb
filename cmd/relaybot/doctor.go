package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"relaybot/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your relaybot installation",
		Long: `Verifies that relaybot's configuration, channel tokens, inference
endpoint, and transcript database are correctly set up. Reports pass/fail
for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Relaybot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'relaybot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
			} else {
				printPass("Config validation", "valid")
				passed++
			}

			if cfg == nil {
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return nil
			}

			// 3. Channels enabled and tokens present
			channelCount := 0
			if cfg.Channels.Slack.Enabled {
				channelCount++
				switch {
				case cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "":
					printFail("Channel: slack", "enabled but missing botToken or appToken")
					failed++
				case !strings.HasPrefix(cfg.Channels.Slack.BotToken, "xoxb-"):
					printFail("Channel: slack", "botToken does not look like a bot token (xoxb-)")
					failed++
				case !strings.HasPrefix(cfg.Channels.Slack.AppToken, "xapp-"):
					printFail("Channel: slack", "appToken does not look like an app token (xapp-)")
					failed++
				default:
					printPass("Channel: slack", "configured")
					passed++
				}
			}
			if cfg.Channels.Telegram.Enabled {
				channelCount++
				if cfg.Channels.Telegram.Token == "" {
					printFail("Channel: telegram", "enabled but no token configured")
					failed++
				} else {
					printPass("Channel: telegram", "configured")
					passed++
				}
			}
			if channelCount == 0 {
				printFail("Channels", "no channels enabled")
				failed++
			}

			// 4. Inference endpoint reachable
			if err := checkEndpoint(cfg.Inference.Endpoint); err != nil {
				printWarn("Inference endpoint", fmt.Sprintf("%s: %v", cfg.Inference.Endpoint, err))
				warned++
			} else {
				printPass("Inference endpoint", cfg.Inference.Endpoint)
				passed++
			}

			// 5. Transcript database writable
			if cfg.History.Enabled {
				dbPath := config.ExpandPath(cfg.History.DBPath)
				if err := checkDatabase(dbPath); err != nil {
					printFail("Transcript DB", err.Error())
					failed++
				} else {
					printPass("Transcript DB", dbPath)
					passed++
				}
			}

			// 6. Metrics port available
			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					printWarn("Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
					warned++
				} else {
					printPass("Metrics addr", cfg.Metrics.Addr+" available")
					passed++
				}
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				dir := filepath.Dir(config.ExpandPath(cfg.General.LogFile))
				if err := os.MkdirAll(dir, 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running relaybot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nRelaybot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Relaybot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkEndpoint dials the inference endpoint's host without sending a
// request.
func checkEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("bad URL: %w", err)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}
	conn, err := net.DialTimeout("tcp", host, 3*time.Second)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
