package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taskhive/taskhive/internal/config"
	"github.com/taskhive/taskhive/internal/events"
	"github.com/taskhive/taskhive/internal/logging"
	"github.com/taskhive/taskhive/internal/metrics"
	"github.com/taskhive/taskhive/internal/notify"
	"github.com/taskhive/taskhive/internal/persistence"
	"github.com/taskhive/taskhive/internal/plan"
	"github.com/taskhive/taskhive/internal/scheduler"
	"github.com/taskhive/taskhive/internal/workerpool"
)

var (
	version = "0.1.0"

	configFlag   string
	planFlag     string
	dbFlag       string
	metricsFlag  string
	onceFlag     bool
	simDelayFlag time.Duration

	rootCmd = &cobra.Command{
		Use:   "taskhive",
		Short: "taskhive - a dependency-aware task scheduler",
		Long: "taskhive schedules tasks across a pool of capability-scored workers.\n" +
			"Tasks declare dependencies, soft preferences and file scopes; the\n" +
			"scheduler validates the graph, blocks what cannot run, and assigns\n" +
			"whatever is ready to the best-matching idle worker.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	checkCmd = &cobra.Command{
		Use:   "check [plan file]",
		Short: "Validate a plan file without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return check(args[0])
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of taskhive",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("taskhive version %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"Config file path (replaces the default ~/.taskhive and ./.taskhive search)")
	rootCmd.Flags().StringVar(&planFlag, "plan", "",
		"Plan file with tasks to submit at startup")
	rootCmd.Flags().StringVar(&dbFlag, "db", "",
		"SQLite database path (overrides config; in-memory when neither is set)")
	rootCmd.Flags().StringVar(&metricsFlag, "metrics-addr", "",
		"Prometheus listen address (overrides config; metrics server disabled when neither is set)")
	rootCmd.Flags().BoolVar(&onceFlag, "once", false,
		"Exit once every submitted task has settled instead of waiting for more work")
	rootCmd.Flags().DurationVar(&simDelayFlag, "sim-delay", 500*time.Millisecond,
		"Simulated execution time per task")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// Signal-aware context for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if dbFlag != "" {
		cfg.Storage.Path = dbFlag
	}
	if metricsFlag != "" {
		cfg.Metrics.Addr = metricsFlag
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()

	bus := events.NewEventBus()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	exporter, err := metrics.NewExporter(cfg.Metrics.Namespace, prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	notifier := notify.NewAsyncNotifier(16, func(_ context.Context, message string) error {
		fmt.Fprintln(os.Stderr, "advisory: "+message)
		return nil
	}, logger)
	notifier.Start(ctx)

	// The results closure closes over coord, which is created right after
	// the pool. No execution can start before AddTask, so the coordinator
	// is always set by the time the handler fires.
	var coord *scheduler.Coordinator
	pool := workerpool.New(ctx, workerpool.Options{
		Config:   cfg.Pool,
		Executor: workerpool.ExecutorFunc(simulateExecution),
		Results: func(taskID, workerID, result string, err error) {
			switch {
			case err == nil:
				if cerr := coord.CompleteTask(taskID); cerr != nil {
					logger.Warn("failed to record completion", zap.String("task", taskID), zap.Error(cerr))
				}
			case errors.Is(err, context.Canceled):
				// Shutdown interrupted the execution; the task stays
				// non-terminal and is requeued on the next start.
				logger.Info("execution interrupted", zap.String("task", taskID))
			default:
				if ferr := coord.FailTask(taskID, err); ferr != nil {
					logger.Warn("failed to record failure", zap.String("task", taskID), zap.Error(ferr))
				}
			}
		},
		Bus:    bus,
		Logger: logger,
	})

	coord = scheduler.NewCoordinator(scheduler.CoordinatorOptions{
		Config:   cfg.Scheduler,
		Pool:     pool,
		Bus:      bus,
		Metrics:  exporter,
		Notifier: notifier,
		Logger:   logger,
	})
	coord.Start(ctx)

	// The recorder runs on a background context so events buffered at
	// shutdown still drain into the store.
	recorder := persistence.NewRecorder(store, coord, pool, logger)
	recorder.Start(context.Background(), bus)

	if err := restoreState(ctx, store, coord, pool, cfg, logger); err != nil {
		return err
	}

	if planFlag != "" {
		if err := submitPlan(coord, planFlag, logger); err != nil {
			return err
		}
	}

	srv := startMetricsServer(cfg.Metrics, logger)

	logger.Info("taskhive started",
		zap.Int("workers", len(pool.Workers())),
		zap.String("storage", storageLabel(cfg.Storage)),
		zap.Bool("once", onceFlag))

	runErr := wait(ctx, coord, logger)
	logSummary(coord, logger)

	// Ordered shutdown: stop intake, drain executions, then flush
	// persistence before the process exits.
	stop()
	coord.Close()
	if cerr := pool.Close(); cerr != nil {
		logger.Warn("worker pool shutdown", zap.Error(cerr))
	}
	bus.Close()
	recorder.Close()
	notifier.Stop()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}

	logger.Info("shutdown complete")
	return runErr
}

// wait blocks until a shutdown signal, or in once mode until every task
// has settled. Settled means terminal or blocked; blocked tasks at exit
// turn into a non-zero exit code.
func wait(ctx context.Context, coord *scheduler.Coordinator, logger *zap.Logger) error {
	if !onceFlag {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		return nil
	}

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return nil
		case <-ticker.C:
			settled, blocked := tasksSettled(coord)
			if !settled {
				continue
			}
			if blocked > 0 {
				return fmt.Errorf("plan finished with %d tasks still blocked", blocked)
			}
			logger.Info("all tasks finished")
			return nil
		}
	}
}

// logSummary reports each task's final state once the run is over.
func logSummary(coord *scheduler.Coordinator, logger *zap.Logger) {
	for _, t := range coord.Tasks() {
		fields := []zap.Field{
			zap.String("task", t.ID),
			zap.String("title", t.Title),
			zap.String("status", t.Status.String()),
		}
		if t.AssignedWorker != "" {
			fields = append(fields, zap.String("worker", t.AssignedWorker))
		}
		if t.Err != nil {
			fields = append(fields, zap.Error(t.Err))
		}
		logger.Info("task summary", fields...)
	}
}

func tasksSettled(coord *scheduler.Coordinator) (settled bool, blocked int) {
	for _, t := range coord.Tasks() {
		if t.Status == scheduler.StatusBlocked {
			blocked++
			continue
		}
		if !t.Status.Terminal() {
			return false, 0
		}
	}
	return true, blocked
}

// restoreState rebuilds workers and tasks from the store. Workers that
// were mid-execution return as idle; non-terminal tasks re-enter the
// intake pipeline, and terminal tasks keep their status so dependents
// still see prior completions.
func restoreState(ctx context.Context, store persistence.Store, coord *scheduler.Coordinator, pool *workerpool.Pool, cfg *config.Config, logger *zap.Logger) error {
	workers, err := store.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persisted workers: %w", err)
	}

	restoredNames := make(map[string]bool)
	for _, w := range workers {
		if w.Status != scheduler.WorkerOffline {
			w.Status = scheduler.WorkerIdle
		}
		w.CurrentTask = ""
		if _, err := pool.RegisterWorker(w); err != nil {
			logger.Warn("failed to restore worker", zap.String("worker", w.ID), zap.Error(err))
			continue
		}
		restoredNames[w.Name] = true
	}

	// Config seeds without a fixed ID would re-register under a fresh ID
	// on every start; skip seeds whose name is already present.
	var fresh []config.WorkerSeed
	for _, seed := range cfg.Workers {
		if restoredNames[seed.Name] {
			continue
		}
		fresh = append(fresh, seed)
	}
	if err := pool.Seed(fresh); err != nil {
		return fmt.Errorf("failed to seed workers: %w", err)
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("failed to list persisted tasks: %w", err)
	}

	restored := 0
	for _, t := range tasks {
		if !t.Status.Terminal() {
			continue
		}
		if _, err := coord.RestoreTask(t); err != nil {
			logger.Warn("failed to restore task", zap.String("task", t.ID), zap.Error(err))
			continue
		}
		restored++
	}
	for _, t := range tasks {
		if t.Status.Terminal() {
			continue
		}
		if _, err := coord.RestoreTask(t); err != nil {
			logger.Warn("failed to restore task", zap.String("task", t.ID), zap.Error(err))
			continue
		}
		restored++
	}

	if restored > 0 {
		promoted := coord.RecheckBlocked()
		logger.Info("state restored",
			zap.Int("tasks", restored),
			zap.Int("workers", len(workers)),
			zap.Int("unblocked", promoted))
	}
	return nil
}

func submitPlan(coord *scheduler.Coordinator, path string, logger *zap.Logger) error {
	p, err := plan.Load(path)
	if err != nil {
		return err
	}

	for _, task := range p.SchedulerTasks() {
		stored, err := coord.AddTask(task)
		if err != nil {
			return fmt.Errorf("plan task %q rejected: %w", task.Title, err)
		}
		logger.Info("task submitted",
			zap.String("task", stored.ID),
			zap.String("title", stored.Title),
			zap.String("status", stored.Status.String()))
	}

	// Tasks listed before their dependencies blocked on submission; with
	// the full plan loaded they can be promoted.
	if promoted := coord.RecheckBlocked(); promoted > 0 {
		logger.Info("plan fully loaded", zap.Int("unblocked", promoted))
	}
	return nil
}

// check loads a plan into a detached scheduler (no workers, no
// persistence) and reports what would block and in which order the rest
// would run.
func check(path string) error {
	p, err := plan.Load(path)
	if err != nil {
		return err
	}

	cfg := config.DefaultConfig().Scheduler
	cfg.AutoAssign = false
	coord := scheduler.NewCoordinator(scheduler.CoordinatorOptions{Config: cfg})

	for _, task := range p.SchedulerTasks() {
		if _, err := coord.AddTask(task); err != nil {
			return fmt.Errorf("plan task %q rejected: %w", task.Title, err)
		}
	}
	coord.RecheckBlocked()

	blocked := coord.TasksByStatus(scheduler.StatusBlocked)
	if len(blocked) > 0 {
		for _, t := range blocked {
			fmt.Printf("blocked: %s (%s) blocked by [%s]\n", t.ID, t.Title, strings.Join(t.BlockedBy, ", "))
		}
		return fmt.Errorf("plan has %d blocked tasks", len(blocked))
	}

	order, err := coord.ExecutionOrder()
	if err != nil {
		return fmt.Errorf("plan has no valid execution order: %w", err)
	}

	fmt.Printf("plan ok: %d tasks\n", len(p.Tasks))
	fmt.Printf("execution order: %s\n", strings.Join(order, " -> "))
	return nil
}

// simulateExecution stands in for a real execution backend: it holds the
// worker for a configurable delay and reports success. Failure paths are
// exercised by tests, not by the CLI.
func simulateExecution(ctx context.Context, worker *scheduler.Worker, task *scheduler.Task) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(simDelayFlag):
	}
	return fmt.Sprintf("task %q simulated on %s", task.Title, worker.Name), nil
}

func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		return config.Load(configFlag, "")
	}
	return config.LoadDefault()
}

func openStore(ctx context.Context, sc config.StorageConfig) (persistence.Store, error) {
	if sc.Path == "" {
		return persistence.NewMemoryStore(ctx)
	}
	return persistence.NewSQLiteStore(ctx, sc.Path)
}

func storageLabel(sc config.StorageConfig) string {
	if sc.Path == "" {
		return "memory"
	}
	return sc.Path
}

func startMetricsServer(mc config.MetricsConfig, logger *zap.Logger) *http.Server {
	if mc.Addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: mc.Addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", mc.Addr))
	return srv
}
