// Package main provides linectl, the operator CLI for the line pipeline:
// one-shot runs, run status, collector health and manual recovery.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/line-drive/internal/collector"
	"github.com/yourusername/line-drive/internal/config"
	"github.com/yourusername/line-drive/internal/database"
	"github.com/yourusername/line-drive/internal/logger"
	"github.com/yourusername/line-drive/internal/models"
	"github.com/yourusername/line-drive/internal/pipeline"
	"github.com/yourusername/line-drive/internal/repository"
	"github.com/yourusername/line-drive/internal/resolver"
	"github.com/yourusername/line-drive/internal/sharp"
)

// Exit codes: 0 succeeded, 1 partial, 2 failed, 3 misconfiguration.
const (
	exitFailed        = 2
	exitMisconfigured = 3
)

var (
	configPath  string
	runModeFlag string
	fromFlag    string
	toFlag      string
	addrFlag    string
	limitFlag   int

	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "linectl",
	Short: "Operator CLI for the line-drive collection pipeline",
	Long: `linectl drives the MLB betting-line pipeline from the command line:
one-shot pipeline runs over an explicit window, recent run status, live
collector health from the operational server, and manual recovery for a
stuck source.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run over a time window",
	Long: `Execute one pipeline run and exit with the run's status code:
0 succeeded, 1 partial, 2 failed, 3 misconfiguration.

Example usage:
  linectl run                                  # full run over the last hour
  linectl run --mode raw                       # raw zone only
  linectl run --from 2025-06-10T18:00:00Z --to 2025-06-10T19:00:00Z`,
	RunE: runRun,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent pipeline runs and the quarantine backlog",
	RunE:  runStatus,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show per-collector health from the operational server",
	RunE:  runHealth,
}

var recoverCmd = &cobra.Command{
	Use:   "recover <collector>",
	Short: "Trigger the recovery sequence for one collector",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecover,
}

var outcomesCmd = &cobra.Command{
	Use:   "resolve-outcomes",
	Short: "Apply final scores and statuses from the league schedule",
	RunE:  runResolveOutcomes,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default config/config.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(outcomesCmd)

	runCmd.Flags().StringVar(&runModeFlag, "mode", "full", "Run mode: full, raw, staging, curated, pair")
	runCmd.Flags().StringVar(&fromFlag, "from", "", "Window start (RFC3339, default one hour before --to)")
	runCmd.Flags().StringVar(&toFlag, "to", "", "Window end (RFC3339, default now)")

	statusCmd.Flags().IntVar(&limitFlag, "limit", 10, "Number of recent runs to show")

	healthCmd.Flags().StringVar(&addrFlag, "addr", "http://localhost:8090", "Operational server address")
	recoverCmd.Flags().StringVar(&addrFlag, "addr", "http://localhost:8090", "Operational server address")

	outcomesCmd.Flags().StringVar(&fromFlag, "from", "", "Window start (RFC3339, default two days before --to)")
	outcomesCmd.Flags().StringVar(&toFlag, "to", "", "Window end (RFC3339, default now)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

// app bundles everything a database-backed command needs.
type app struct {
	cfg   *config.Config
	log   *logrus.Logger
	db    *database.DB
	repos *repository.Repositories
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		exitCode = exitMisconfigured
		return nil, err
	}

	appLog := logger.NewLogger(cfg.App.LogLevel, cfg.App.Environment)

	db, err := database.Initialize(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	repos, err := repository.NewRepositories(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{cfg: cfg, log: appLog, db: db, repos: repos}, nil
}

func (a *app) Close() {
	a.db.Close()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if os.Getenv("AWS_SECRETS_ENABLED") == "true" {
		region := os.Getenv("AWS_REGION")
		secretName := os.Getenv("AWS_SECRET_NAME")
		if region == "" || secretName == "" {
			return nil, fmt.Errorf("AWS_REGION and AWS_SECRET_NAME must be set when AWS_SECRETS_ENABLED is true")
		}
		if err := config.LoadSecretsFromAWS(cfg, region, secretName); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseMode(s string) (models.RunMode, error) {
	switch s {
	case "full":
		return models.RunModeFull, nil
	case "raw":
		return models.RunModeRawOnly, nil
	case "staging":
		return models.RunModeStagingOnly, nil
	case "curated":
		return models.RunModeCuratedOnly, nil
	case "pair":
		return models.RunModePair, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected full, raw, staging, curated or pair)", s)
	}
}

// parseWindow resolves --from/--to, defaulting to [now-span, now].
func parseWindow(fromStr, toStr string, span time.Duration) (time.Time, time.Time, error) {
	end := time.Now().UTC()
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
		end = t.UTC()
	}

	start := end.Add(-span)
	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
		start = t.UTC()
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("--from must be before --to")
	}
	return start, end, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	mode, err := parseMode(runModeFlag)
	if err != nil {
		exitCode = exitMisconfigured
		return err
	}
	start, end, err := parseWindow(fromFlag, toFlag, time.Hour)
	if err != nil {
		exitCode = exitMisconfigured
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	orch, err := buildOrchestrator(a)
	if err != nil {
		return err
	}

	run, runErr := orch.Run(ctx, mode, start, end)
	if run == nil {
		exitCode = exitFailed
		return runErr
	}

	printRunSummary(run)
	exitCode = run.Status.ExitCode()
	return nil
}

// buildOrchestrator assembles the zones for a one-shot run. Collectors run
// unguarded: breakers belong to the long-running service, not the CLI.
func buildOrchestrator(a *app) (*pipeline.Orchestrator, error) {
	collectors, err := collector.BuildEnabled(a.cfg, nil, a.log)
	if err != nil {
		return nil, err
	}
	parsers := make(map[string]collector.Parser, len(collectors))
	for _, c := range collectors {
		parsers[c.Name()] = c
	}

	res := resolver.New(a.cfg.Identity, a.repos.Game, a.repos.Sportsbook, a.log.WithField("component", "resolver"))
	reliability := a.cfg.ReliabilityTable()

	rawZone := pipeline.NewRawProcessor(a.repos.RawRecord, &a.cfg.Pipeline, a.log)
	stagingZone := pipeline.NewStagingProcessor(parsers, res, a.repos.RawRecord, a.repos.Line, a.repos.Game,
		a.repos.Quarantine, reliability, &a.cfg.Pipeline, nil, a.log)
	curatedZone := pipeline.NewCuratedProcessor(a.repos.Line, sharp.New(a.cfg.Pipeline.Sharp), &a.cfg.Pipeline, a.log)

	return pipeline.NewOrchestrator(&a.cfg.Pipeline, collectors, rawZone, stagingZone, curatedZone,
		a.repos.Run, a.repos.Attempt, nil, a.log), nil
}

func printRunSummary(run *models.PipelineRun) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ZONE\tIN\tOUT\tERRORS\tQUARANTINED\tDURATION")
	for _, zone := range []models.ZoneName{models.ZoneRaw, models.ZoneStaging, models.ZoneCurated} {
		zm, ok := run.Zones[zone]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
			zone, zm.RecordsIn, zm.RecordsOut, zm.Errors, zm.Quarantined,
			time.Duration(zm.DurationMs)*time.Millisecond)
	}
	w.Flush()

	fmt.Printf("\nrun %s: %s\n", run.ID, run.Status)
	if run.Error != nil {
		fmt.Printf("error: %s\n", *run.Error)
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.repos.Run.GetRecent(ctx, limitFlag)
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}
	backlog, err := a.repos.Quarantine.CountPending(ctx)
	if err != nil {
		return fmt.Errorf("count quarantine: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tMODE\tSTATUS\tWINDOW\tSTARTED\tDURATION")
	for _, run := range runs {
		duration := "-"
		if run.FinishedAt != nil {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
		}
		window := fmt.Sprintf("%s..%s",
			run.WindowStart.Format("15:04:05"), run.WindowEnd.Format("15:04:05"))
		fmt.Fprintf(w, "%.8s\t%s\t%s\t%s\t%s\t%s\n",
			run.ID.String(), run.Mode, run.Status, window,
			run.StartedAt.Format(time.RFC3339), duration)
	}
	w.Flush()

	fmt.Printf("\nquarantine backlog: %d\n", backlog)
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	body, err := callServer(ctx, http.MethodGet, addrFlag+"/health/collectors")
	if err != nil {
		return err
	}

	var resp struct {
		Service    string                `json:"service"`
		Count      int                   `json:"count"`
		Collectors []*models.HealthState `json:"collectors"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTOR\tBREAKER\tSUCCESS 5M\tSUCCESS 60M\tP95 MS\tFAIL PROB\tDEGRADED")
	for _, st := range resp.Collectors {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%.2f\t%.0f\t%.2f\t%v\n",
			st.Collector, st.BreakerState, st.SuccessRate5m, st.SuccessRate60m,
			st.P95LatencyMs, st.FailureProbability, st.Degraded)
	}
	return w.Flush()
}

func runRecover(cmd *cobra.Command, args []string) error {
	// The recovery sequence probes the source end to end; give it time.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	body, err := callServer(ctx, http.MethodPost, addrFlag+"/recovery/"+args[0])
	if err != nil {
		return err
	}

	var resp struct {
		Collector string                   `json:"collector"`
		Actions   []*models.RecoveryAction `json:"actions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tOUTCOME\tDETAIL")
	for _, act := range resp.Actions {
		detail := ""
		if act.Detail != nil {
			detail = *act.Detail
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", act.Action, act.Outcome, detail)
	}
	return w.Flush()
}

func runResolveOutcomes(cmd *cobra.Command, args []string) error {
	start, end, err := parseWindow(fromFlag, toFlag, 48*time.Hour)
	if err != nil {
		exitCode = exitMisconfigured
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cc, ok := a.cfg.Collector(collector.SourceMlbsched)
	if !ok || !cc.Enabled {
		exitCode = exitMisconfigured
		return fmt.Errorf("schedule collector %q must be enabled to resolve outcomes", collector.SourceMlbsched)
	}
	sched, err := collector.New(collector.SourceMlbsched, cc, nil, a.log)
	if err != nil {
		return err
	}

	rawZone := pipeline.NewRawProcessor(a.repos.RawRecord, &a.cfg.Pipeline, a.log)
	outcomes := pipeline.NewOutcomeResolver(sched, rawZone, a.repos.Game, a.repos.Line, a.log)

	res, err := outcomes.Resolve(ctx, start, end)
	if err != nil {
		exitCode = exitFailed
		return err
	}

	fmt.Printf("games seen:     %d\n", res.GamesSeen)
	fmt.Printf("resolved:       %d\n", res.Resolved)
	fmt.Printf("status updates: %d\n", res.StatusUpdates)
	return nil
}

func callServer(ctx context.Context, method, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s: %s", resp.Status, apiErr.Error)
		}
		return nil, fmt.Errorf("%s %s: %s", method, url, resp.Status)
	}
	return body, nil
}
