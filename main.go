package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"docconvert/api"
	"docconvert/config"
	"docconvert/events"
	"docconvert/pandoc"
	"docconvert/storage"
	"docconvert/task"
)

func main() {
	drain := flag.Bool("drain", false, "run the polling drain worker instead of the HTTP server")
	once := flag.Bool("once", false, "with -drain, process pending tasks once and exit")
	poll := flag.Duration("poll", 0, "with -drain, poll interval (defaults to the configured value)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	layout, err := storage.NewLayout(cfg.DataRoot)
	if err != nil {
		logger.Error("failed to prepare data directories", "error", err)
		os.Exit(1)
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(layout.Root(), "tasks.db")
	}
	store, err := task.OpenStore(dbPath)
	if err != nil {
		logger.Error("failed to open task store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	runner, err := pandoc.NewRunner(cfg, layout, logger)
	if err != nil {
		logger.Error("failed to initialize pandoc runner", "error", err)
		os.Exit(1)
	}
	executor := task.NewExecutor(store, layout, runner, cfg.ConvertTimeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *drain {
		runDrain(ctx, executor, cfg, *once, *poll, logger)
		return
	}

	// The dispatcher is injected explicitly: with auto dispatch disabled no
	// handler is registered and submitted tasks stay pending until a drain
	// pass claims them. That drain pass must run inside this process: the
	// store holds an exclusive file lock, so a second process cannot open
	// it while the server is up.
	emitter := events.NewInMemoryEmitter(logger)
	dispatcher := task.NewDispatcher(executor, cfg.MaxConcurrency, logger)
	dispatcher.Start(ctx)
	drainDone := make(chan struct{})
	if cfg.AutoDispatch {
		emitter.RegisterHandler(dispatcher)
		close(drainDone)
	} else {
		logger.Info("automatic dispatch disabled, polling for pending tasks", "interval", cfg.PollInterval)
		go func() {
			defer close(drainDone)
			_ = executor.DrainLoop(ctx, cfg.PollInterval)
		}()
	}

	h := api.NewHandler(store, layout, emitter, cfg, logger)
	router := api.SetupRouter(h)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port, "data_root", layout.Root())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	dispatcher.Wait()
	<-drainDone

	logger.Info("server exiting")
}

func runDrain(ctx context.Context, executor *task.Executor, cfg *config.Config, once bool, poll time.Duration, logger *slog.Logger) {
	if poll <= 0 {
		poll = cfg.PollInterval
	}
	if once {
		n, err := executor.DrainOnce(ctx)
		if err != nil {
			logger.Error("drain failed", "error", err)
			os.Exit(1)
		}
		logger.Info("drain finished", "processed", n)
		return
	}
	logger.Info("starting drain worker", "interval", poll)
	_ = executor.DrainLoop(ctx, poll)
}
