package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valinor-ai/useradmin/internal/catalog"
	"github.com/valinor-ai/useradmin/internal/credential"
	"github.com/valinor-ai/useradmin/internal/directory"
	"github.com/valinor-ai/useradmin/internal/platform/config"
	"github.com/valinor-ai/useradmin/internal/platform/database"
	"github.com/valinor-ai/useradmin/internal/platform/metrics"
	"github.com/valinor-ai/useradmin/internal/platform/server"
	"github.com/valinor-ai/useradmin/internal/platform/telemetry"
	"github.com/valinor-ai/useradmin/internal/rbac"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("useradmin starting", "port", cfg.Server.Port, "database", cfg.Database.URL != "")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Without a database URL the directory lives in memory only.
	var pool *database.Pool
	if cfg.Database.URL != "" {
		if err := database.RunMigrations(ctx, cfg.Database.URL); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("migrations complete")

		pool, err = database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	dirCfg, err := buildDirectoryConfig(cfg.Directory)
	if err != nil {
		return err
	}

	credentials, err := buildCredentialStore(pool, cfg.Credentials)
	if err != nil {
		return err
	}

	loader := &adminRoleLoader{}
	evaluator := rbac.NewEvaluator(dirCfg.Permissions, rbac.WithRoleLoader(loader))

	opts := []directory.Option{
		directory.WithCredentialStore(credentials),
		directory.WithRoleReloader(evaluator),
		directory.WithLogger(telemetry.Component(logger, "directory")),
		directory.WithHaltFunc(haltProcess(logger, os.Exit)),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, directory.WithObserver(metrics.Observer{}))
	}

	var snap directory.Snapshot
	if pool != nil {
		store := directory.NewStore(pool)
		opts = append(opts, directory.WithPersister(store))
		if snap, err = store.Load(ctx); err != nil {
			return fmt.Errorf("loading directory: %w", err)
		}
	}

	admin, err := directory.NewAdmin(dirCfg, opts...)
	if err != nil {
		return err
	}
	loader.admin = admin
	if err := admin.Bootstrap(ctx, snap); err != nil {
		return fmt.Errorf("bootstrapping directory: %w", err)
	}

	deps := server.Dependencies{
		DirectoryHandler:   directory.NewHandler(admin),
		RoleHandler:        directory.NewRoleHandler(admin),
		UserHandler:        directory.NewUserHandler(admin, evaluator),
		Logger:             logger,
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
	}
	if pool != nil {
		deps.Pool = pool
	}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(admin); err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
		deps.Metrics = metrics.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}

	srv := server.New(cfg.Server.Addr(), deps)
	worker := buildRenewalWorker(admin, cfg.Workers, telemetry.Component(logger, "renewal-worker"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return worker.Run(gctx) })

	slog.Info("server ready", "addr", cfg.Server.Addr())
	return g.Wait()
}

func buildDirectoryConfig(cfg config.DirectoryConfig) (directory.Config, error) {
	perms, err := catalog.NewPermissions(cfg.Permissions)
	if err != nil {
		return directory.Config{}, err
	}
	depts, err := catalog.NewDepartments(cfg.Departments)
	if err != nil {
		return directory.Config{}, err
	}

	systemRoles := make([]directory.NewRole, 0, len(cfg.SystemRoles))
	for _, r := range cfg.SystemRoles {
		systemRoles = append(systemRoles, directory.NewRole{
			Name:        r.Name,
			Description: r.Description,
			Permissions: r.Permissions,
		})
	}

	return directory.Config{
		Permissions:          perms,
		Departments:          depts,
		PasswordExpiry:       time.Duration(cfg.PasswordExpiryDays) * 24 * time.Hour,
		RenewalThresholdDays: cfg.RenewalThresholdDays,
		SystemRoles:          systemRoles,
	}, nil
}

// haltProcess stops the service when the directory detects a broken
// invariant. exit is os.Exit outside tests.
func haltProcess(logger *slog.Logger, exit func(int)) func(error) {
	return func(err error) {
		logger.Error("halting: directory invariant violated", "error", err)
		exit(1)
	}
}

// buildCredentialStore keeps hashes next to the directory when a database
// is configured and in process memory otherwise.
func buildCredentialStore(pool *database.Pool, cfg config.CredentialsConfig) (*credential.Store, error) {
	hasher, err := credential.NewHasher(cfg.BcryptCost)
	if err != nil {
		return nil, err
	}
	var backend credential.Backend = credential.NewMemoryBackend()
	if pool != nil {
		backend = credential.NewPostgresBackend(pool)
	}
	return credential.NewStore(hasher, backend), nil
}

// adminRoleLoader feeds the evaluator from the directory's own roles. admin
// is set once the Admin exists, before its first reload.
type adminRoleLoader struct {
	admin *directory.Admin
}

func (l *adminRoleLoader) LoadRoles(context.Context) ([]rbac.RoleDef, error) {
	if l.admin == nil {
		return nil, errors.New("role loader not bound to a directory")
	}
	roles := l.admin.ListRoles()
	defs := make([]rbac.RoleDef, 0, len(roles))
	for _, r := range roles {
		defs = append(defs, rbac.RoleDef{Name: r.Name, Permissions: r.Permissions})
	}
	return defs, nil
}
