package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-admin/internal/crud"
	"github.com/odyssey-erp/odyssey-admin/internal/platform/db"
	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
	"github.com/odyssey-erp/odyssey-admin/jobs"
)

// PermissionSyncer creates missing permissions; *rbac.Service satisfies it.
type PermissionSyncer interface {
	SyncPermissions(ctx context.Context, names []string) (int, error)
}

// JobQueue is the part of the jobs client used by odysseyctl.
type JobQueue interface {
	EnqueuePurge(ctx context.Context, payload jobs.PurgePayload) (*asynq.TaskInfo, error)
	EnqueueSweep(ctx context.Context, payload jobs.SweepPayload) (*asynq.TaskInfo, error)
	Close() error
}

// deps opens external resources; tests replace them with fakes.
type deps struct {
	migrate func(dsn string, logger *slog.Logger) error
	syncer  func(ctx context.Context, dsn string, logger *slog.Logger) (PermissionSyncer, func(), error)
	queue   func(redisAddr string) JobQueue
	stats   func(redisAddr string) (jobs.QueueInspector, func(), error)
}

func defaultDeps() deps {
	return deps{
		migrate: db.Migrate,
		syncer: func(ctx context.Context, dsn string, logger *slog.Logger) (PermissionSyncer, func(), error) {
			pool, err := db.New(ctx, dsn, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return nil, nil, err
			}
			service := rbac.NewService(rbac.NewRepository(pool), nil, nil, nil, logger)
			return service, pool.Close, nil
		},
		queue: func(redisAddr string) JobQueue {
			return jobs.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
		},
		stats: func(redisAddr string) (jobs.QueueInspector, func(), error) {
			inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
			return inspector, func() { _ = inspector.Close() }, nil
		},
	}
}

func runMigrate(_ context.Context, args []string, out io.Writer, d deps) error {
	fs := newFlagSet("migrate", out)
	dsn := fs.String("dsn", envOr("PG_DSN", ""), "postgres connection string (default $PG_DSN)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dsn == "" {
		return fmt.Errorf("migrate: --dsn or PG_DSN is required")
	}
	if err := d.migrate(*dsn, cliLogger(out)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	fmt.Fprintln(out, "migrations applied")
	return nil
}

func runSyncPermissions(ctx context.Context, args []string, out io.Writer, d deps) error {
	fs := newFlagSet("sync-permissions", out)
	dsn := fs.String("dsn", envOr("PG_DSN", ""), "postgres connection string (default $PG_DSN)")
	entities := fs.String("entities", os.Getenv("ENTITY_CONFIG_PATH"), "YAML file with extra entity definitions")
	dryRun := fs.Bool("dry-run", false, "print the permission names without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	names, err := permissionNames(*entities)
	if err != nil {
		return fmt.Errorf("sync-permissions: %w", err)
	}
	if *dryRun {
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		return nil
	}
	if *dsn == "" {
		return fmt.Errorf("sync-permissions: --dsn or PG_DSN is required")
	}
	syncer, closeFn, err := d.syncer(ctx, *dsn, cliLogger(out))
	if err != nil {
		return fmt.Errorf("sync-permissions: %w", err)
	}
	defer closeFn()
	count, err := syncer.SyncPermissions(ctx, names)
	if err != nil {
		return fmt.Errorf("sync-permissions: %w", err)
	}
	fmt.Fprintf(out, "%d permissions in sync\n", count)
	return nil
}

// permissionNames lists the registry permissions followed by the core scopes.
func permissionNames(entitiesPath string) ([]string, error) {
	registry := crud.NewRegistry()
	for _, cfg := range crud.Builtins() {
		if err := registry.Register(cfg); err != nil {
			return nil, err
		}
	}
	if entitiesPath != "" {
		if err := registry.LoadFile(entitiesPath, crud.DefaultHooks()); err != nil {
			return nil, err
		}
	}
	registry.Seal()
	return append(registry.PermissionNames(), shared.CoreScopes()...), nil
}

func runJobs(ctx context.Context, args []string, out io.Writer, d deps) error {
	if len(args) == 0 {
		return fmt.Errorf("jobs: expected purge, sweep or stats")
	}
	fs := newFlagSet("jobs "+args[0], out)
	redisAddr := fs.String("redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "redis address (default $REDIS_ADDR)")
	limit := fs.Int("limit", 0, "maximum rows to process (0 uses the worker default)")
	grace := fs.Duration("grace", 0, "orphan age before sweeping (0 uses the worker default)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	switch args[0] {
	case "purge", "sweep":
		queue := d.queue(*redisAddr)
		defer queue.Close()
		var (
			info *asynq.TaskInfo
			err  error
		)
		if args[0] == "purge" {
			info, err = queue.EnqueuePurge(ctx, jobs.PurgePayload{Limit: *limit})
		} else {
			info, err = queue.EnqueueSweep(ctx, jobs.SweepPayload{Grace: *grace, Limit: *limit})
		}
		if err != nil {
			return fmt.Errorf("jobs %s: %w", args[0], err)
		}
		fmt.Fprintf(out, "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		inspector, closeFn, err := d.stats(*redisAddr)
		if err != nil {
			return fmt.Errorf("jobs stats: %w", err)
		}
		defer closeFn()
		for _, queue := range []string{jobs.QueueDefault, jobs.QueueAudit} {
			info, err := inspector.GetQueueInfo(queue)
			if err != nil {
				fmt.Fprintf(out, "%-8s unavailable: %v\n", queue, err)
				continue
			}
			fmt.Fprintf(out, "%-8s pending=%d active=%d retry=%d archived=%d processed=%d\n",
				queue, info.Pending, info.Active, info.Retry, info.Archived, info.Processed)
		}
		return nil
	default:
		return fmt.Errorf("jobs: unknown action %q (want %s)", args[0], strings.Join([]string{"purge", "sweep", "stats"}, ", "))
	}
}
