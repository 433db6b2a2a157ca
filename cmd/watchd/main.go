// Package main is the CLI entry point for watchd.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hamed0406/flatwatch/internal/config"
	"github.com/hamed0406/flatwatch/internal/domain"
	"github.com/hamed0406/flatwatch/internal/httpapi"
	"github.com/hamed0406/flatwatch/internal/hub"
	"github.com/hamed0406/flatwatch/internal/logging"
	"github.com/hamed0406/flatwatch/internal/notify"
	"github.com/hamed0406/flatwatch/internal/probe"
	"github.com/hamed0406/flatwatch/internal/repo"
	"github.com/hamed0406/flatwatch/internal/repo/jsonfile"
	"github.com/hamed0406/flatwatch/internal/repo/memory"
	"github.com/hamed0406/flatwatch/internal/repo/postgres"
	"github.com/hamed0406/flatwatch/internal/repo/sqlite"
	"github.com/hamed0406/flatwatch/internal/watch"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

var (
	configPath string
	noResume   bool
	apiBase    string
	logsLimit  int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "watchd",
	Short: "Housing-vacancy watch daemon",
	Long: `watchd watches a housing portal's vacancy search form. It submits the
search on a fixed cadence; when a vacancy shows up it notifies the
configured recipients with the captured evidence attached, then stands
down until started again.`,
	Version: Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the watch daemon with its HTTP API",
	RunE:  runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one check in-process and print the outcome",
	RunE:  runCheck,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the watch status of a running daemon",
	RunE:  runStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent check log entries from a running daemon",
	RunE:  runLogs,
}

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Validate configuration and storage before going live",
	RunE:  runPreflight,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("watchd %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "flatwatch.yaml", "path to the YAML configuration file")
	serveCmd.Flags().BoolVar(&noResume, "no-resume", false, "stay idle on boot even if the watch was running before the restart")
	statusCmd.Flags().StringVar(&apiBase, "api", "http://localhost:8080", "base URL of the running daemon")
	logsCmd.Flags().StringVar(&apiBase, "api", "http://localhost:8080", "base URL of the running daemon")
	logsCmd.Flags().IntVar(&logsLimit, "limit", 20, "number of entries to show")

	rootCmd.AddCommand(serveCmd, checkCmd, statusCmd, logsCmd, preflightCmd, versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, events, wasRunning, err := buildScheduler(cfg, logger, store)
	if err != nil {
		return err
	}
	defer events.Close()

	api := httpapi.NewServer(logger, sched, cfg.Probe.ArtifactDir)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(cfg.AllowedOrigins, cfg.RatePerMin, cfg.RateBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if wasRunning && cfg.Watch.Resume && !noResume {
		logger.Info("watch_resume")
		if err := sched.Start(ctx); err != nil {
			logger.Warn("watch_resume_failed", zap.Error(err))
		}
	}

	go func() {
		<-ctx.Done()
		// Halt, not Stop: the persisted status keeps saying "running" so
		// the next boot picks the watch back up.
		sched.Halt()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server_shutdown_error", zap.Error(err))
		}
	}()

	logger.Info("api_listen", zap.String("addr", cfg.Addr), zap.String("version", Version))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("shutdown_complete")
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewConsole(cfg.Debug)
	defer func() { _ = logger.Sync() }()

	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sched, events, _, err := buildScheduler(cfg, logger, store)
	if err != nil {
		return err
	}
	defer events.Close()

	if err := sched.RunOnce(cmd.Context()); err != nil {
		return err
	}
	st := sched.Status()
	fmt.Printf("result: %s\n", st.LastResult)
	fmt.Printf("checks recorded: %d\n", st.TotalChecks)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	var st domain.WatchStatus
	if err := getJSON(apiBase+"/api/status", &st); err != nil {
		return err
	}
	if st.Running {
		fmt.Println("watch: running")
	} else {
		fmt.Println("watch: idle")
	}
	fmt.Printf("total checks: %d\n", st.TotalChecks)
	if st.LastCheckTime != nil {
		fmt.Printf("last check: %s\n", st.LastCheckTime.Local().Format(time.RFC1123))
	}
	if st.LastResult != "" {
		fmt.Printf("last result: %s\n", st.LastResult)
	}
	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	var entries []domain.LogEntry
	url := fmt.Sprintf("%s/api/logs?limit=%d", apiBase, logsLimit)
	if err := getJSON(url, &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("no log entries")
		return nil
	}
	for _, e := range entries {
		mark := " "
		if e.Found {
			mark = "*"
		}
		line := fmt.Sprintf("%s %s  %s", mark, e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Message)
		if e.ArtifactRef != "" {
			line += "  [" + e.ArtifactRef + "]"
		}
		fmt.Println(line)
	}
	return nil
}

func runPreflight(cmd *cobra.Command, args []string) error {
	fail := func(msg string) error {
		fmt.Fprintln(os.Stderr, "✖", msg)
		return errors.New("preflight failed")
	}
	warn := func(msg string) { fmt.Fprintln(os.Stderr, "⚠", msg) }
	ok := func(msg string) { fmt.Println("✔", msg) }

	cfg, err := config.Load(configPath)
	if err != nil {
		return fail(err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return fail(err.Error())
	}
	ok("config valid: " + configPath)
	ok(fmt.Sprintf("watch: every %ds against %s", cfg.Watch.IntervalSeconds, cfg.Search.FormURL))
	ok(fmt.Sprintf("probe: %s (headless=%v)", cfg.Probe.Driver, cfg.Watch.Headless))

	if cfg.Notify.SMTP.Host == "" && cfg.Notify.WebhookURL == "" {
		warn("no notification channel configured — a found vacancy cannot be delivered, so the watch will keep running")
	}
	if cfg.Notify.SMTP.Host != "" {
		if cfg.Notify.SMTP.Password == "" {
			warn("smtp.password is empty (set SMTP_PASSWORD)")
		}
		ok(fmt.Sprintf("email: %d recipient(s) via %s", len(cfg.Notify.Recipients), cfg.Notify.SMTP.Host))
	}
	if cfg.Notify.WebhookURL != "" {
		ok("webhook configured")
	}

	if err := os.MkdirAll(cfg.Probe.ArtifactDir, 0o755); err != nil {
		return fail("artifact dir: " + err.Error())
	}
	ok("artifact dir writable: " + cfg.Probe.ArtifactDir)

	// Opening the store is the real test: it creates files, migrates
	// schemas, and pings Postgres.
	store, closeStore, err := openStore(cfg, zap.NewNop())
	if err != nil {
		return fail("storage: " + err.Error())
	}
	_ = store
	closeStore()
	ok("storage ready: " + cfg.Storage.Driver)

	ok("preflight passed")
	return nil
}

// buildScheduler wires state, probe, notifier, pipeline and scheduler around
// the persisted status. The returned bool reports whether the saved status
// said the watch was running; arming it again is the caller's decision.
func buildScheduler(cfg *config.Config, logger *zap.Logger, store repo.Store) (*watch.Scheduler, *hub.Hub, bool, error) {
	st, ok, err := store.LoadStatus(context.Background())
	if err != nil {
		logger.Warn("status_load_error", zap.Error(err))
	}
	wasRunning := ok && st.Running
	st.Running = false // nothing is armed yet

	prober, err := buildProber(cfg)
	if err != nil {
		return nil, nil, false, err
	}

	state := watch.NewState(st)
	events := hub.New(logger)
	pipe := watch.NewPipeline(logger, state, prober, buildNotifier(cfg), cfg.Notify.Recipients,
		store, store, events, cfg.CheckTimeout())
	sched := watch.NewScheduler(logger, state, cfg, pipe, store, store, events)
	return sched, events, wasRunning, nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (repo.Store, func(), error) {
	noop := func() {}
	switch cfg.Storage.Driver {
	case "memory":
		return memory.New(), noop, nil
	case "jsonfile":
		st, err := jsonfile.New(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("open jsonfile store: %w", err)
		}
		return st, noop, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, func() { _ = st.Close() }, nil
	case "postgres":
		st, err := postgres.New(context.Background(), cfg.Storage.DatabaseURL, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage.driver %q", cfg.Storage.Driver)
	}
}

func buildProber(cfg *config.Config) (probe.Prober, error) {
	switch cfg.Probe.Driver {
	case "form":
		return probe.NewForm(cfg.ProbeTimeout(), cfg.Probe.ArtifactDir), nil
	case "browser":
		return probe.NewBrowser(cfg.ProbeTimeout(), cfg.Probe.ArtifactDir), nil
	default:
		return nil, fmt.Errorf("unknown probe.driver %q", cfg.Probe.Driver)
	}
}

// buildNotifier assembles the configured channels. NewEmail and NewWebhook
// return nil pointers when unconfigured; a typed nil must not reach the
// slice or it would count as a channel.
func buildNotifier(cfg *config.Config) notify.Notifier {
	var multi notify.Multi
	if e := notify.NewEmail(cfg.Notify.SMTP.Host, cfg.Notify.SMTP.Port,
		cfg.Notify.SMTP.Username, cfg.Notify.SMTP.Password, cfg.Notify.SMTP.From); e != nil {
		multi = append(multi, e)
	}
	if w := notify.NewWebhook(cfg.Notify.WebhookURL); w != nil {
		multi = append(multi, w)
	}
	return multi
}

func getJSON(url string, v any) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("cannot reach the daemon (is it running?): %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
