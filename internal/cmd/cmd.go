// Package cmd is the rulesync entry point.  It contains the on-disk
// configuration file utilities, signal processing logic, and so on.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"runtime"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/sentryutil"
	"github.com/AdguardTeam/rulesync/internal/metrics"
	"github.com/AdguardTeam/rulesync/internal/version"
	"golang.org/x/sys/unix"
)

// Main is the entry point of application.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)

	envs := errors.Must(parseEnvironment())
	errors.Check(envs.Validate())

	lvl := errors.Must(slogutil.VerbosityToLevel(envs.Verbosity))
	baseLogger := slogutil.New(&slogutil.Config{
		// Don't use [slogutil.NewFormat] here, because the value is validated.
		Format:       slogutil.Format(envs.LogFormat),
		AddTimestamp: bool(envs.LogTimestamp),
		Level:        lvl,
	})

	sentryutil.SetDefaultLogger(baseLogger, "")

	mainLogger := baseLogger.With(slogutil.KeyPrefix, "main")

	// Signal service startup now that we have the logs set up.
	branch := version.Branch()
	commitTime := version.CommitTime()
	buildVersion := version.Version()
	revision := version.Revision()
	mainLogger.InfoContext(
		ctx,
		"rulesync starting",
		"version", buildVersion,
		"revision", revision,
		"branch", branch,
		"commit_time", commitTime,
	)

	errColl := errors.Must(envs.buildErrColl(baseLogger))

	crashRep := errors.Must(newCrashReporter(&crashReporterConfig{
		logger:  baseLogger.With(slogutil.KeyPrefix, "crash_reporter"),
		dirPath: envs.CrashOutputDir,
		prefix:  envs.CrashOutputPrefix,
		enabled: bool(envs.CrashOutputEnabled),
	}))

	defer crashRep.reportPanics(ctx, errColl)

	setMaxThreads(ctx, mainLogger, envs.MaxThreads)

	c := errors.Must(parseConfig(envs.ConfPath))

	errors.Check(c.Validate())

	errors.Check(envs.validateStorageConf(c))

	b := newBuilder(&builderConfig{
		envs:       envs,
		conf:       c,
		baseLogger: baseLogger,
		crashRep:   crashRep,
		errColl:    errColl,
	})

	errors.Check(b.initCrashReporter(ctx))

	errors.Check(b.initStorage(ctx))

	b.initRegistry(ctx)

	errors.Check(b.initController(ctx))

	errors.Check(b.initFilterLoader(ctx))

	errors.Check(b.initUserRules(ctx))

	b.performInitialUpdate(ctx)

	b.mustInitDebugSvc(ctx)

	// Signal that the server is started.
	errors.Check(metrics.SetUpGauge(
		metrics.Namespace,
		b.promRegisterer,
		buildVersion,
		commitTime,
		revision,
		runtime.Version(),
	))

	// Unregister the signal behavior for ctx.
	stop()
	ctx = context.WithoutCancel(ctx)

	os.Exit(b.handleSignals(ctx))
}
