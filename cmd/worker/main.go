package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"github.com/upb/authority-gate/app"
	"github.com/upb/authority-gate/config"
	"github.com/upb/authority-gate/internal/observability"
	"github.com/upb/authority-gate/routes"
	"github.com/upb/authority-gate/temporal"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	temporalAddress string
	namespace       string
	taskQueue       string
	opsAddr         string
	engineURL       string
	policyFile      string
	help            bool
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	opts := &options{}
	flagSet := pflag.NewFlagSet("worker", pflag.ContinueOnError)
	flagSet.StringVar(&opts.temporalAddress, "temporal-address", "", "Temporal frontend host:port (overrides TEMPORAL_ADDRESS)")
	flagSet.StringVar(&opts.namespace, "namespace", "", "Temporal namespace (overrides TEMPORAL_NAMESPACE)")
	flagSet.StringVar(&opts.taskQueue, "task-queue", "", "task queue to poll (overrides TEMPORAL_TASK_QUEUE)")
	flagSet.StringVar(&opts.opsAddr, "ops-addr", "", "listen address for health and cache endpoints (overrides WORKER_OPS_ADDR)")
	flagSet.StringVar(&opts.engineURL, "engine-url", "", "authorityd base URL; empty evaluates rules in-process (overrides GATE_ENGINE_URL)")
	flagSet.StringVar(&opts.policyFile, "policy-file", "", "rule set used for in-process evaluation (overrides GATE_POLICY_FILE)")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			opts.help = true
			return opts, flagSet, nil
		}
		return nil, flagSet, err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, flagSet, fmt.Errorf("unexpected argument: %s", rest[0])
	}
	return opts, flagSet, nil
}

func (o *options) apply(cfg *config.Config) error {
	if o.temporalAddress != "" {
		cfg.Temporal.HostPort = o.temporalAddress
	}
	if o.namespace != "" {
		cfg.Temporal.Namespace = o.namespace
	}
	if o.taskQueue != "" {
		cfg.Temporal.TaskQueue = o.taskQueue
	}
	if o.opsAddr != "" {
		cfg.Temporal.OpsAddr = o.opsAddr
	}
	if o.engineURL != "" {
		cfg.Gate.EngineURL = o.engineURL
	}
	if o.policyFile != "" {
		cfg.Policy.File = o.policyFile
	}
	return cfg.Validate()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `worker runs Temporal activities behind the authorization gate.

Every activity is authorized before it executes; denied activities fail
with a non-retryable AuthorizationDenied error.

Usage:
  worker [flags]

Flags:
%s`, flagSet.FlagUsages())
}

func run(args []string) error {
	opts, flagSet, err := parseFlags(args)
	if err != nil {
		return err
	}
	if opts.help {
		printHelp(flagSet)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := opts.apply(cfg); err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize dependencies", zap.Error(err))
		return err
	}
	defer deps.Close()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporal.NewLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to temporal: %w", err)
	}
	defer c.Close()

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		Interceptors: []interceptor.WorkerInterceptor{temporal.NewInterceptor(deps.Gate, logger)},
	})
	register(w)

	var ops *http.Server
	if cfg.Temporal.OpsAddr != "" {
		ops = &http.Server{
			Addr:         cfg.Temporal.OpsAddr,
			Handler:      routes.SetupWorkerRoutes(deps),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
		go func() {
			logger.Info("worker ops endpoints listening", zap.String("addr", ops.Addr))
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("ops server failed", zap.Error(err))
			}
		}()
	}

	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	logger.Info("worker started",
		zap.String("temporal", cfg.Temporal.HostPort),
		zap.String("namespace", cfg.Temporal.Namespace),
		zap.String("task_queue", cfg.Temporal.TaskQueue),
		zap.String("principal", cfg.Gate.Principal))

	<-ctx.Done()

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	w.Stop()
	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}
