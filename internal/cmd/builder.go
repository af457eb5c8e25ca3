package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/AdguardTeam/golibs/contextutil"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/netutil"
	"github.com/AdguardTeam/golibs/osutil"
	"github.com/AdguardTeam/golibs/redisutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/AdguardTeam/rulesync/internal/confbuild"
	"github.com/AdguardTeam/rulesync/internal/debugsvc"
	"github.com/AdguardTeam/rulesync/internal/errcoll"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/filter/filterstorage"
	"github.com/AdguardTeam/rulesync/internal/filterload"
	"github.com/AdguardTeam/rulesync/internal/metrics"
	"github.com/AdguardTeam/rulesync/internal/notify"
	"github.com/AdguardTeam/rulesync/internal/reconcile"
	"github.com/AdguardTeam/rulesync/internal/registry"
	"github.com/AdguardTeam/rulesync/internal/remediate"
	"github.com/AdguardTeam/rulesync/internal/rscache"
	"github.com/AdguardTeam/rulesync/internal/ruleengine"
	"github.com/AdguardTeam/rulesync/internal/rulelimits"
	"github.com/AdguardTeam/rulesync/internal/rulewatch"
	"github.com/prometheus/client_golang/prometheus"
)

// builder contains the logic of configuring and combining together rulesync
// entities.
//
// NOTE:  Keep method definitions in the rough order in which they are intended
// to be called.
type builder struct {
	// The fields below are initialized immediately on construction.  Keep them
	// sorted.

	baseLogger     *slog.Logger
	cacheManager   *rscache.Manager
	conf           *configuration
	crashRep       *crashReporter
	debugRefrs     debugsvc.Refreshers
	env            *environment
	errColl        errcoll.Interface
	logger         *slog.Logger
	promRegisterer prometheus.Registerer
	sigHdlr        *service.SignalHandler

	// The fields below are initialized later by calling the builder's methods.
	// Keep them sorted.

	controller *reconcile.Controller
	engine     *ruleengine.Engine
	notifier   *notify.Broadcaster
	registry   *registry.Registry
	remediator *remediate.Remediator
	storage    filterstorage.Interface
	tracker    *rulelimits.Tracker
}

// builderConfig contains the initial configuration for the builder.
type builderConfig struct {
	// envs contains the environment variables for the builder.  It must be
	// valid and must not be nil.
	envs *environment

	// conf contains the configuration from the configuration file for the
	// builder.  It must be valid and must not be nil.
	conf *configuration

	// baseLogger is used to create loggers for other entities.  It should not
	// have a prefix and must not be nil.
	baseLogger *slog.Logger

	// crashRep is the crash reporter to start.  It must not be nil.
	crashRep *crashReporter

	// errColl is used to collect errors in the entities.  It must not be nil.
	errColl errcoll.Interface
}

// shutdownTimeout is the default shutdown timeout for all services.
const shutdownTimeout = 5 * time.Second

// newBuilder returns a new properly initialized builder.  c must not be nil.
func newBuilder(c *builderConfig) (b *builder) {
	return &builder{
		baseLogger:     c.baseLogger,
		cacheManager:   rscache.NewManager(),
		conf:           c.conf,
		crashRep:       c.crashRep,
		debugRefrs:     debugsvc.Refreshers{},
		env:            c.envs,
		errColl:        c.errColl,
		logger:         c.baseLogger.With(slogutil.KeyPrefix, "builder"),
		promRegisterer: prometheus.DefaultRegisterer,
		sigHdlr: service.NewSignalHandler(&service.SignalHandlerConfig{
			Logger:          c.baseLogger.With(slogutil.KeyPrefix, service.SignalHandlerPrefix),
			ShutdownTimeout: shutdownTimeout,
		}),
	}
}

// initCrashReporter starts the crash reporter.
func (b *builder) initCrashReporter(ctx context.Context) (err error) {
	err = b.crashRep.Start(ctx)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	b.sigHdlr.AddService(b.crashRep)

	b.logger.DebugContext(ctx, "initialized crash reporter")

	return nil
}

// dirPerm is the permission mode of the directories created by rulesync.
const dirPerm = 0o700

// initStorage initializes the content storage of the type set in the
// environment.
func (b *builder) initStorage(ctx context.Context) (err error) {
	maxSize := b.conf.Filters.MaxSize
	l := b.baseLogger.With(slogutil.KeyPrefix, filter.StoragePrefix)

	switch b.env.StorageType {
	case storageTypeFile:
		err = os.MkdirAll(b.env.FilterCachePath, dirPerm)
		if err != nil {
			return fmt.Errorf("creating filter cache dir: %w", err)
		}

		b.storage = filterstorage.NewFile(&filterstorage.FileConfig{
			Logger:  l,
			Dir:     b.env.FilterCachePath,
			MaxSize: maxSize,
		})
	case storageTypeRedis:
		var pool redisutil.Pool
		pool, err = b.newRedisPool()
		if err != nil {
			// Don't wrap the error, because it's informative enough as is.
			return err
		}

		b.storage = filterstorage.NewRedis(&filterstorage.RedisConfig{
			Logger:    l,
			Pool:      pool,
			KeyPrefix: b.env.RedisKeyPrefix,
			TTL:       time.Duration(b.conf.Redis.TTL),
			MaxSize:   maxSize,
		})
	default:
		panic(fmt.Errorf("storage type: %q: %w", b.env.StorageType, errors.ErrBadEnumValue))
	}

	b.logger.DebugContext(ctx, "initialized content storage", "type", b.env.StorageType)

	return nil
}

// newRedisPool returns a new Redis pool from the environment and the
// configuration.
func (b *builder) newRedisPool() (pool *redisutil.DefaultPool, err error) {
	c := b.conf.Redis

	dialer, err := redisutil.NewDefaultDialer(&redisutil.DefaultDialerConfig{
		Addr: &netutil.HostPort{
			Host: b.env.RedisAddr,
			Port: b.env.RedisPort,
		},
		DBIndex: c.DBIndex,
	})
	if err != nil {
		return nil, fmt.Errorf("creating redis dialer: %w", err)
	}

	pool, err = redisutil.NewDefaultPool(&redisutil.DefaultPoolConfig{
		Logger:          b.baseLogger.With(slogutil.KeyPrefix, "redis"),
		Dialer:          dialer,
		MaxConnLifetime: time.Duration(c.MaxConnLifetime),
		IdleTimeout:     time.Duration(c.IdleTimeout),
		MaxActive:       c.MaxActive,
		MaxIdle:         c.MaxIdle,
		Wait:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating redis pool: %w", err)
	}

	return pool, nil
}

// initRegistry initializes the registry with the settings and the allow-list
// from the configuration.
//
// [builder.initStorage] must be called before this method.
func (b *builder) initRegistry(ctx context.Context) {
	b.registry = registry.New(&registry.Config{
		Logger:   b.baseLogger.With(slogutil.KeyPrefix, "registry"),
		Storage:  b.storage,
		Clock:    timeutil.SystemClock{},
		Settings: b.conf.Settings.toInternal(),
	})

	al := b.conf.Allowlist
	b.registry.SetAllowlist(al.Domains, false)
	b.registry.SetAllowlist(al.InvertedDomains, true)

	b.logger.DebugContext(ctx, "initialized registry")
}

// initController initializes and starts the reconciliation controller along
// with the runtime and the other entities it uses.  It also adds the
// refresher with ID [debugsvc.RefresherIDReconcile] to the debug refreshers.
//
// [builder.initRegistry] must be called before this method.
func (b *builder) initController(ctx context.Context) (err error) {
	confBuildMtrc, err := metrics.NewConfBuild(metrics.Namespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("registering confbuild metrics: %w", err)
	}

	reconcileMtrc, err := metrics.NewReconcile(metrics.Namespace, b.promRegisterer)
	if err != nil {
		return fmt.Errorf("registering reconcile metrics: %w", err)
	}

	ceilings := b.conf.Limits.toInternal()
	b.engine = ruleengine.New(&ruleengine.Config{
		Logger:   b.baseLogger.With(slogutil.KeyPrefix, "ruleengine"),
		Storage:  b.storage,
		Ceilings: ceilings,
	})

	b.remediator = remediate.New(&remediate.Config{
		Logger:    b.baseLogger.With(slogutil.KeyPrefix, "remediate"),
		Registry:  b.registry,
		RecentTTL: time.Duration(b.conf.Remediation.RecentTTL),
	})

	b.notifier = notify.NewBroadcaster(b.baseLogger.With(slogutil.KeyPrefix, "notify"))
	b.notifier.Subscribe(notify.NewLogObserver(b.baseLogger.With(slogutil.KeyPrefix, "events")))

	b.tracker = rulelimits.NewTracker()

	c := b.conf.Reconcile
	b.controller = reconcile.New(&reconcile.Config{
		Logger:   b.baseLogger.With(slogutil.KeyPrefix, "reconcile"),
		Clock:    timeutil.SystemClock{},
		ErrColl:  b.errColl,
		Metrics:  reconcileMtrc,
		Registry: b.registry,
		Builder: confbuild.New(&confbuild.Config{
			Logger:  b.baseLogger.With(slogutil.KeyPrefix, "confbuild"),
			Storage: b.storage,
			Metrics: confBuildMtrc,
			CacheConf: &rscache.LRUConfig{
				Count: b.conf.Cache.CustomFilterCount,
			},
			CacheManager: b.cacheManager,
		}),
		Runtime:                   b.engine,
		Remediator:                b.remediator,
		Tracker:                   b.tracker,
		Notifier:                  b.notifier,
		Scheduler:                 reconcile.SystemScheduler{},
		Debounce:                  time.Duration(c.Debounce),
		UnrecoveredReportInterval: time.Duration(c.UnrecoveredReportInterval),
	})

	err = b.controller.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting controller: %w", err)
	}

	b.sigHdlr.AddService(b.controller)
	b.crashRep.setReconcile(b.controller, b.registry)

	b.debugRefrs[debugsvc.RefresherIDReconcile] = b.controller

	b.logger.DebugContext(ctx, "initialized controller", "ceilings", ceilings)

	return nil
}

// newSlogErrorHandler is a convenient wrapper around
// [service.NewSlogErrorHandler].
func newSlogErrorHandler(baseLogger *slog.Logger, prefix string) (h *service.SlogErrorHandler) {
	return service.NewSlogErrorHandler(
		baseLogger.With(slogutil.KeyPrefix, prefix),
		slog.LevelError,
		"refreshing",
	)
}

// initFilterLoader initializes the loader of the filter sources, loads them
// for the first time, and starts their periodic reloading.  It also adds the
// refresher with ID [debugsvc.RefresherIDFilters] to the debug refreshers.
//
// [builder.initController] must be called before this method.
func (b *builder) initFilterLoader(ctx context.Context) (err error) {
	c := b.conf.Filters
	refrTimeout := time.Duration(c.RefreshTimeout)

	loader, err := filterload.New(&filterload.Config{
		Logger:   b.baseLogger.With(slogutil.KeyPrefix, "filterload"),
		ErrColl:  b.errColl,
		Registry: b.registry,
		Updater:  b.controller,
		Sources:  c.Sources.toInternal(),
		Timeout:  refrTimeout,
		MaxSize:  c.MaxSize,
	})
	if err != nil {
		return fmt.Errorf("creating filter loader: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, refrTimeout)
	defer cancel()

	err = loader.RefreshInitial(initCtx)
	if err != nil {
		return fmt.Errorf("loading filters: %w", err)
	}

	refr := service.NewRefreshWorker(&service.RefreshWorkerConfig{
		ContextConstructor: contextutil.NewTimeoutConstructor(refrTimeout),
		ErrorHandler:       newSlogErrorHandler(b.baseLogger, "filterload_refresh"),
		Refresher:          loader,
		Schedule:           timeutil.NewConstSchedule(time.Duration(c.RefreshIvl)),
		RefreshOnShutdown:  false,
	})
	err = refr.Start(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("starting filter refresh: %w", err)
	}

	b.sigHdlr.AddService(refr)

	b.debugRefrs[debugsvc.RefresherIDFilters] = loader

	b.logger.DebugContext(ctx, "initialized filter loader", "sources", len(c.Sources))

	return nil
}

// initUserRules initializes and starts the watcher of the user-rules file.
//
// [builder.initController] must be called before this method.
func (b *builder) initUserRules(ctx context.Context) (err error) {
	w, err := rulewatch.New(&rulewatch.Config{
		Logger:   b.baseLogger.With(slogutil.KeyPrefix, "rulewatch"),
		ErrColl:  b.errColl,
		Registry: b.registry,
		Updater:  b.controller,
		Path:     b.env.UserRulesPath,
		MaxSize:  b.conf.Filters.UserRulesMaxSize,
	})
	if err != nil {
		return fmt.Errorf("creating user rules watcher: %w", err)
	}

	err = w.Start(ctx)
	if err != nil {
		return fmt.Errorf("starting user rules watcher: %w", err)
	}

	b.sigHdlr.AddService(w)

	b.logger.DebugContext(ctx, "initialized user rules watcher", "path", b.env.UserRulesPath)

	return nil
}

// performInitialUpdate waits for the first apply cycle.  A failed cycle isn't
// fatal, since the runtime keeps the empty state and the next update request
// retries it.  The wait is only bounded by ctx.
//
// All entities that request updates must be initialized before this method.
func (b *builder) performInitialUpdate(ctx context.Context) {
	err := b.controller.Update(ctx, &reconcile.UpdateOptions{})
	if err != nil {
		errcoll.Collect(ctx, b.errColl, b.logger, "initial update", err)

		return
	}

	b.logger.InfoContext(ctx, "initial update done", "active_rules", b.engine.ActiveRuleCount())
}

// mustInitDebugSvc initializes and starts the debug HTTP service.
//
// The following methods must be called before this one:
//   - [builder.initController]
//   - [builder.initFilterLoader]
func (b *builder) mustInitDebugSvc(ctx context.Context) {
	debugSvcConf := b.env.debugConf(b.baseLogger)
	debugSvcConf.Refreshers = b.debugRefrs
	debugSvcConf.CacheManager = b.cacheManager
	debugSvcConf.Controller = b.controller
	debugSvcConf.Tracker = b.tracker
	debugSvcConf.Remediator = b.remediator
	debugSvcConf.Checker = b.engine

	debugSvc := debugsvc.New(debugSvcConf)

	// The debug HTTP service is considered critical, so its Start method panics
	// instead of returning an error.
	_ = debugSvc.Start(context.WithoutCancel(ctx))

	b.sigHdlr.AddService(debugSvc)

	b.logger.DebugContext(
		ctx,
		"initialized debug",
		"refr_ids", slices.Sorted(maps.Keys(b.debugRefrs)),
		"cache_ids", b.cacheManager.IDs(),
	)
}

// handleSignals blocks and processes signals from the OS.  status is
// [osutil.ExitCodeSuccess] on success and [osutil.ExitCodeFailure] on error.
//
// handleSignals must not be called concurrently with any other methods.
func (b *builder) handleSignals(ctx context.Context) (code osutil.ExitCode) {
	code = b.sigHdlr.Handle(ctx)

	// Let the observers finish the delivery of the last events.
	b.notifier.Wait()

	return code
}
