package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/upb/authority-gate/config"
	"github.com/upb/authority-gate/internal/clock"
	"github.com/upb/authority-gate/models"
	"github.com/upb/authority-gate/repositories"
	"github.com/upb/authority-gate/repositories/postgres"
	"github.com/upb/authority-gate/repositories/redisstore"
	"github.com/upb/authority-gate/services/audit"
	"github.com/upb/authority-gate/services/gate"
	"github.com/upb/authority-gate/services/mandate"
	"github.com/upb/authority-gate/services/policy"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger
	Clock  clock.Clock

	// Optional persistence
	RepoFactory *postgres.RepositoryFactory
	DB          *postgres.DB
	AuditLogs   repositories.AuditRepository
	Audit       *audit.AuditService
	Redis       *redis.Client
	SharedStore *redisstore.MandateStore

	// Decision path
	Signer   mandate.Signer
	Issuer   *mandate.Issuer
	Policies *policy.Manager
	Engine   *gate.LocalEngine
	Cache    *mandate.Cache
	Gate     *gate.Gate

	stopCh chan struct{}
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
		Clock:  clock.Real(),
		stopCh: make(chan struct{}),
	}

	if err := deps.initIssuer(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize mandate issuer: %w", err)
	}

	if err := deps.initPolicies(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize policies: %w", err)
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initRedis(ctx, cfg); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	if err := deps.initGate(cfg); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize gate: %w", err)
	}

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initIssuer builds the signer and mandate issuer from the gate key material
func (d *Dependencies) initIssuer(cfg *config.Config) error {
	signer, err := mandate.NewSigner(cfg.Gate.SigningAlgorithm, cfg.Gate.SigningKey, cfg.Gate.KeyID)
	if err != nil {
		return err
	}
	issuer, err := mandate.NewIssuer(signer, cfg.Gate.MandateTTL, d.Clock, d.Logger)
	if err != nil {
		return err
	}

	d.Signer = signer
	d.Issuer = issuer
	d.Logger.Info("mandate issuer initialized",
		zap.String("algorithm", signer.Algorithm()),
		zap.String("key_id", signer.KeyID()),
		zap.Duration("default_ttl", issuer.DefaultTTL()))
	return nil
}

// initPolicies loads the rule set and starts the file watcher when enabled
func (d *Dependencies) initPolicies(cfg *config.Config) error {
	mode, err := policy.ParsePrecedence(cfg.Policy.Precedence)
	if err != nil {
		return err
	}

	manager, err := policy.NewManager(policy.NewFileLoader(cfg.Policy.File, d.Clock), policy.NewMatcher(mode, d.Clock), d.Logger)
	if err != nil {
		return err
	}
	d.Policies = manager
	d.Engine = gate.NewLocalEngine(manager, d.Issuer, d.Logger)

	if cfg.Policy.Watch {
		if err := manager.Watch(cfg.Policy.File, cfg.Policy.WatchDebounce, d.stopCh); err != nil {
			return err
		}
	}
	return nil
}

// initDatabase opens the audit database and starts the async audit writer
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	if cfg.Database == nil {
		d.Logger.Warn("no database configured, decision audit trail is log-only")
		return nil
	}

	factory, err := postgres.NewRepositoryFactory(*cfg.Database, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := factory.InitSchema(ctx); err != nil {
		return err
	}

	d.AuditLogs = factory.NewRepositories().AuditLogs
	d.Audit = audit.NewAuditService(d.AuditLogs, d.Logger, audit.Config{
		BufferSize:  cfg.Audit.BufferSize,
		WorkerCount: cfg.Audit.WorkerCount,
		BatchSize:   cfg.Audit.BatchSize,
	})
	return d.Audit.Start()
}

// initRedis connects the shared mandate store when REDIS_URL is set
func (d *Dependencies) initRedis(ctx context.Context, cfg *config.Config) error {
	if cfg.Redis.URL == "" {
		return nil
	}

	client, err := redisstore.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	d.Redis = client
	d.SharedStore = redisstore.NewMandateStore(client, cfg.Redis.KeyPrefix, d.Clock, d.Logger)
	d.Logger.Info("shared mandate store enabled")
	return nil
}

// initGate builds the in-process gate, local or remote
func (d *Dependencies) initGate(cfg *config.Config) error {
	d.Cache = mandate.NewCache(cfg.Gate.CacheMaxSize, d.Clock)
	if cfg.Gate.CacheCleanupInterval > 0 {
		go d.Cache.StartCleanupWorker(cfg.Gate.CacheCleanupInterval, d.stopCh)
	}

	// Entries keyed to the replaced version are unreachable; drop them
	d.Policies.OnReload(func(rs *policy.RuleSet) {
		d.Cache.Clear()
		d.Logger.Info("mandate cache cleared after policy reload", zap.String("version", rs.Version()))
	})

	opts := []gate.Option{
		gate.WithClock(d.Clock),
		gate.WithFingerprinter(mandate.NewFingerprinter(cfg.Gate.FingerprintFields...)),
	}

	var engine gate.DecisionEngine = d.Engine
	if cfg.Gate.EngineURL != "" {
		engine = gate.NewRemoteEngine(cfg.Gate.EngineURL, nil, d.Logger)
		d.Logger.Info("gate uses remote decision service", zap.String("url", cfg.Gate.EngineURL))
	} else {
		opts = append(opts, gate.WithRuleVersion(func() string {
			return d.Policies.RuleSet().Version()
		}))
	}
	if d.SharedStore != nil {
		opts = append(opts, gate.WithSharedStore(d.SharedStore))
	}
	if d.Audit != nil {
		opts = append(opts, gate.WithAudit(d.Audit))
	}

	g, err := gate.New(gate.Config{
		Principal: models.Principal{
			ID:        cfg.Gate.Principal,
			TenantID:  cfg.Gate.TenantID,
			SessionID: cfg.Gate.SessionID,
		},
		Resource:        cfg.Gate.Resource,
		DecisionTimeout: cfg.Gate.DecisionTimeout,
		MandateTTL:      cfg.Gate.MandateTTL,
	}, engine, d.Signer, d.Cache, d.Logger, opts...)
	if err != nil {
		return err
	}
	d.Gate = g
	return nil
}

// Close stops background workers and releases connections.
// Pending audit entries are flushed first.
func (d *Dependencies) Close() {
	select {
	case <-d.stopCh:
		return
	default:
		close(d.stopCh)
	}

	if d.Audit != nil {
		if err := d.Audit.Stop(10 * time.Second); err != nil {
			d.Logger.Warn("audit service did not stop cleanly", zap.Error(err))
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			d.Logger.Warn("failed to close database", zap.Error(err))
		}
	}
}
