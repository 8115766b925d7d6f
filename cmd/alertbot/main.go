// Command alertbot runs the announcement bot and offers operator commands
// against the same store.
//
// Usage:
//
//	alertbot run --config ./config.yaml
//	alertbot publish --kind news --body en="Release 2.0 is out" --body ar="..." --broadcast
//	alertbot schedule --kind promo --at "in 2h" --body en="Weekend sale"
//	alertbot jobs list
//	alertbot jobs cancel <id>
//	alertbot jobs cancel-all
//	alertbot stats --weeks 4
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env if present
	_ = godotenv.Load(".env")

	var cfgPath string
	root := &cobra.Command{
		Use:   "alertbot",
		Short: "Telegram announcement bot",
		Long: `Telegram announcement bot.

publish, schedule, jobs and stats open the configured store directly. The
file driver is locked while the daemon runs; use the sqlite/redis drivers or
the HTTP API to operate on a live instance.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", envOr("ALERTBOT_CONFIG", "./config.json"), "path to config file (json or yaml)")

	root.AddCommand(runCmd(&cfgPath))
	root.AddCommand(publishCmd(&cfgPath))
	root.AddCommand(scheduleCmd(&cfgPath))
	root.AddCommand(jobsCmd(&cfgPath))
	root.AddCommand(statsCmd(&cfgPath))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
