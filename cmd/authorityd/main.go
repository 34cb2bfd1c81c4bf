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
	"go.uber.org/zap"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// options are command-line overrides applied on top of the environment
type options struct {
	policyFile string
	port       int
	watch      bool
	precedence string
	help       bool
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	opts := &options{}
	flagSet := pflag.NewFlagSet("authorityd", pflag.ContinueOnError)
	flagSet.StringVar(&opts.policyFile, "policy-file", "", "path to the JSON or YAML rule set (overrides GATE_POLICY_FILE)")
	flagSet.IntVar(&opts.port, "port", 0, "listen port (overrides PORT/SERVER_PORT)")
	flagSet.BoolVar(&opts.watch, "watch", false, "reload the rule set when the file changes")
	flagSet.StringVar(&opts.precedence, "precedence", "", "first_match or deny_overrides (overrides GATE_PRECEDENCE)")
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

// apply copies explicitly set flags over cfg and revalidates it
func (o *options) apply(cfg *config.Config) error {
	if o.policyFile != "" {
		cfg.Policy.File = o.policyFile
	}
	if o.port != 0 {
		cfg.Server.Port = o.port
	}
	if o.watch {
		cfg.Policy.Watch = true
	}
	if o.precedence != "" {
		cfg.Policy.Precedence = o.precedence
	}
	return cfg.Validate()
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `authorityd serves policy decisions and signed mandates over HTTP.

Configuration is read from the environment (and .env); flags override it.
Send SIGHUP to reload the rule set.

Usage:
  authorityd [flags]

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

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      routes.SetupRoutes(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go reloadOnSignal(ctx, hup, deps, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authorityd listening",
			zap.String("addr", srv.Addr),
			zap.String("environment", cfg.Environment),
			zap.String("policy_file", cfg.Policy.File))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// reloadOnSignal reloads the rule set on every SIGHUP. A failed reload
// keeps the current rule set.
func reloadOnSignal(ctx context.Context, hup <-chan os.Signal, deps *app.Dependencies, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := deps.Policies.Reload(); err != nil {
				logger.Error("SIGHUP policy reload failed", zap.Error(err))
			}
		}
	}
}
