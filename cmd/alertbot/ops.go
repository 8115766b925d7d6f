package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"alertbot/internal/alerts"
	"alertbot/internal/app"
	"alertbot/internal/bot"
	"alertbot/internal/broadcast"
	"alertbot/internal/config"
	"alertbot/internal/gateway"
	"alertbot/internal/jobs"
	"alertbot/internal/storage"
	logx "alertbot/pkg/logx"
)

// withServices builds the domain graph over the configured store for one
// command. send opens a Telegram gateway for broadcasts.
//
// The file driver admits one process at a time, so against a running daemon
// it fails with storage.ErrLocked; use sqlite, redis or the HTTP API there.
func withServices(ctx context.Context, cfgPath string, send bool, fn func(ctx context.Context, cfg *config.Config, s *app.Services) error) error {
	cfg, err := app.LoadConfig(ctx, cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logx.NewConsole("warn").With(logx.String("comp", "cli"))

	var gw gateway.Gateway
	if send {
		if gw, err = app.OpenGateway(cfg, log); err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
	}
	s, err := app.BuildServices(ctx, cfg, gw, log)
	if errors.Is(err, storage.ErrLocked) {
		return fmt.Errorf("%w; stop the daemon or use the HTTP API", err)
	}
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = s.Close(closeCtx)
	}()
	return fn(ctx, cfg, s)
}

// parseBody turns repeated locale=text flags into a body map.
func parseBody(pairs []string) (map[string]string, error) {
	body := make(map[string]string, len(pairs))
	for _, p := range pairs {
		loc, text, ok := strings.Cut(p, "=")
		loc = strings.ToLower(strings.TrimSpace(loc))
		if !ok || loc == "" || strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("--body %q: expected locale=text", p)
		}
		body[loc] = text
	}
	if len(body) == 0 {
		return nil, errors.New("at least one --body locale=text is required")
	}
	return body, nil
}

func parseTTL(raw string) (time.Duration, error) {
	return config.ParseDurationField("--ttl", raw)
}

func publishCmd(cfgPath *string) *cobra.Command {
	var (
		kind, ttlRaw, mode, pingRaw string
		body                        []string
		fanOut, force               bool
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish an alert, optionally broadcasting it now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := alerts.ParseKind(kind)
			if err != nil {
				return err
			}
			b, err := parseBody(body)
			if err != nil {
				return err
			}
			ttl, err := parseTTL(ttlRaw)
			if err != nil {
				return err
			}
			m, ok := broadcast.ParseMode(mode)
			if !ok {
				return fmt.Errorf("--mode: unknown %q", mode)
			}
			ping, err := config.ParseDurationField("--ping-ttl", pingRaw)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return withServices(cmd.Context(), *cfgPath, fanOut, func(ctx context.Context, _ *config.Config, s *app.Services) error {
				if !fanOut {
					id, err := s.Alerts.Publish(ctx, k, b, ttl)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, id)
					return nil
				}
				res, err := s.Broadcast.Broadcast(ctx, broadcast.Request{
					Kind:      k,
					Body:      b,
					Mode:      m,
					PingTTL:   ping,
					ActiveFor: ttl,
					Force:     force,
					Source:    "cli",
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s sent=%d skipped=%d failed=%d blocked=%d\n", res.AlertID, res.Sent, res.Skipped, res.Failed, res.Blocked)
				if ping > 0 {
					fmt.Fprintln(out, "note: notices are auto-deleted only while the process runs; use the daemon for ping_ttl")
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&kind, "kind", "k", "", "alert kind: "+kindList())
	f.StringArrayVarP(&body, "body", "b", nil, "locale=text, repeatable")
	f.StringVar(&ttlRaw, "ttl", "", "lifetime, e.g. 72h or 7d (default alerts.active_days when broadcasting, else forever)")
	f.BoolVar(&fanOut, "broadcast", false, "send to every subscriber now")
	f.StringVar(&mode, "mode", "", "delivery mode: inbox or push (default alerts.delivery_mode)")
	f.StringVar(&pingRaw, "ping-ttl", "", "delete delivered notices after this long")
	f.BoolVar(&force, "force", false, "ignore quiet hours and the weekly cap")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func scheduleCmd(cfgPath *string) *cobra.Command {
	var (
		kind, at, ttlRaw, mode string
		body                   []string
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Queue a broadcast for later",
		Long: `Queue a broadcast. --at accepts a duration ("90m", "in 2h"), RFC3339,
"2006-01-02 15:04" or "15:04" in alerts.tz.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			k, err := alerts.ParseKind(kind)
			if err != nil {
				return err
			}
			b, err := parseBody(body)
			if err != nil {
				return err
			}
			ttl, err := parseTTL(ttlRaw)
			if err != nil {
				return err
			}
			m, ok := broadcast.ParseMode(mode)
			if !ok {
				return fmt.Errorf("--mode: unknown %q", mode)
			}
			out := cmd.OutOrStdout()
			return withServices(cmd.Context(), *cfgPath, false, func(ctx context.Context, _ *config.Config, s *app.Services) error {
				loc := s.Jobs.Location()
				due, err := jobs.ParseDue(at, time.Now(), loc)
				if err != nil {
					return err
				}
				id, err := s.Jobs.Enqueue(ctx, jobs.Spec{DueAt: due, Kind: k, Body: b, TTL: ttl, Mode: m})
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s due %s\n", id, due.In(loc).Format("2006-01-02 15:04 MST"))
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVarP(&kind, "kind", "k", "", "alert kind: "+kindList())
	f.StringVar(&at, "at", "", "due time")
	f.StringArrayVarP(&body, "body", "b", nil, "locale=text, repeatable")
	f.StringVar(&ttlRaw, "ttl", "", "alert lifetime once fired")
	f.StringVar(&mode, "mode", "", "delivery mode: inbox or push")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func jobsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect or cancel scheduled broadcasts",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending jobs, soonest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return withServices(cmd.Context(), *cfgPath, false, func(ctx context.Context, _ *config.Config, s *app.Services) error {
				list, err := s.Jobs.List(ctx)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					fmt.Fprintln(out, "no scheduled broadcasts")
					return nil
				}
				loc := s.Jobs.Location()
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tDUE\tKIND\tSTATE")
				for _, j := range list {
					state := "pending"
					if j.Claimed() {
						state = "firing"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.ID, j.DueAt.In(loc).Format("2006-01-02 15:04"), j.Kind, state)
				}
				return tw.Flush()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel one pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			return withServices(cmd.Context(), *cfgPath, false, func(ctx context.Context, _ *config.Config, s *app.Services) error {
				ok, err := s.Jobs.Cancel(ctx, args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("job %s not found or already firing", args[0])
				}
				fmt.Fprintln(out, "cancelled", args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cancel-all",
		Short: "Cancel every pending job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return withServices(cmd.Context(), *cfgPath, false, func(ctx context.Context, _ *config.Config, s *app.Services) error {
				n, err := s.Jobs.CancelAll(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "cancelled %d job(s)\n", n)
				return nil
			})
		},
	})
	return cmd
}

func statsCmd(cfgPath *string) *cobra.Command {
	var weeks int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show weekly delivery counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			return withServices(cmd.Context(), *cfgPath, false, func(ctx context.Context, _ *config.Config, s *app.Services) error {
				list, err := s.Broadcast.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, bot.FormatStats(list, weeks))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&weeks, "weeks", "n", 8, "number of weeks to show")
	return cmd
}

func kindList() string {
	names := make([]string, len(alerts.Kinds))
	for i, k := range alerts.Kinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
