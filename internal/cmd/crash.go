package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/rulesync/internal/errcoll"
	"github.com/AdguardTeam/rulesync/internal/reconcile"
	"github.com/AdguardTeam/rulesync/internal/registry"
	"github.com/AdguardTeam/rulesync/internal/version"
)

// reconcileStater returns the state of the reconciliation controller.
type reconcileStater interface {
	State() (s reconcile.State)
}

// snapshotter returns the snapshots of the filter registry.
type snapshotter interface {
	Snapshot() (snap *registry.Snapshot)
}

// crashReporter reports the panics in Main together with the state of the
// reconciliation at the time of the panic.  If enabled, it also sets a file for
// the Go runtime crash output, into which that state is written as well.
type crashReporter struct {
	logger *slog.Logger

	// mu protects file, controller, and registry.
	mu         *sync.Mutex
	file       *os.File
	controller reconcileStater
	registry   snapshotter

	dirPath string
	pattern string
	enabled bool
}

// crashReporterConfig is the configuration structure for a [crashReporter].
type crashReporterConfig struct {
	// logger is used to log the operation of the crash reporter.  It must not
	// be nil.
	logger *slog.Logger

	// dirPath is the path to the directory where the crash output file is
	// created.  If enabled is true, it must point to a directory.
	dirPath string

	// prefix is the prefix of the name of the crash output file.
	prefix string

	// enabled shows if a crash output file should be created.
	enabled bool
}

// newCrashReporter returns a new properly initialized crash reporter.  c must
// not be nil and must be valid.
func newCrashReporter(c *crashReporterConfig) (r *crashReporter, err error) {
	if c.enabled {
		err = validateDir(c.dirPath)
		if err != nil {
			return nil, fmt.Errorf("crash reporter: %w", err)
		}
	}

	return &crashReporter{
		logger: c.logger,
		mu:     &sync.Mutex{},
		// The version goes into the name, since the crash output must stay
		// empty unless something crashes.
		pattern: fmt.Sprintf(
			"%s_%s_%s_%07d_*.txt",
			c.prefix,
			version.Version(),
			time.Now().Format("20060102150405"),
			os.Getpid(),
		),
		dirPath: c.dirPath,
		enabled: c.enabled,
	}, nil
}

// setReconcile sets the entities the state of which is reported on a panic.
func (r *crashReporter) setReconcile(ctrl reconcileStater, reg snapshotter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.controller, r.registry = ctrl, reg
}

// reconcileContext returns the description of the state of the reconciliation.
func (r *crashReporter) reconcileContext() (desc string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.controller == nil || r.registry == nil {
		return "reconcile not initialized"
	}

	return fmt.Sprintf(
		"reconcile state %s, registry revision %d",
		r.controller.State(),
		r.registry.Snapshot().Revision,
	)
}

// reportPanics reports a panic in Main with the state of the reconciliation
// using the error collector and the crash output file, flushes the collector,
// and panics again.  It must be called in a defer directly.
func (r *crashReporter) reportPanics(ctx context.Context, errColl errcoll.Interface) {
	v := recover()
	if v == nil {
		return
	}

	err, ok := v.(error)
	if !ok {
		err = fmt.Errorf("%v", v)
	}

	desc := r.reconcileContext()
	err = fmt.Errorf("panic in main with %s: %w", desc, err)

	errColl.Collect(ctx, err)
	if f, isFlusher := errColl.(flusher); isFlusher {
		f.Flush()
	}

	r.logger.ErrorContext(ctx, "recovered from panic", slogutil.KeyError, err)

	r.mu.Lock()
	if r.file != nil {
		// The runtime appends the stack of the repanic below.
		_, _ = fmt.Fprintf(r.file, "%s\n", desc)
	}
	r.mu.Unlock()

	panic(v)
}

// type check
var _ service.Interface = (*crashReporter)(nil)

// Start implements the [service.Interface] for *crashReporter.  It creates the
// crash output file, if enabled.
func (r *crashReporter) Start(ctx context.Context) (err error) {
	if !r.enabled {
		return nil
	}

	defer func() { err = errors.Annotate(err, "starting crash reporter: %w") }()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.file, err = os.CreateTemp(r.dirPath, r.pattern)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is, and
		// there is already errors.Annotate here.
		return err
	}

	r.logger = r.logger.With("path", r.file.Name())

	err = debug.SetCrashOutput(r.file, debug.CrashOptions{})
	if err != nil {
		return fmt.Errorf("setting crash output: %w", err)
	}

	r.logger.InfoContext(ctx, "set crash output")

	return nil
}

// Shutdown implements the [service.Interface] for *crashReporter.  It removes
// the crash output file if nothing has been written into it.
func (r *crashReporter) Shutdown(ctx context.Context) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return nil
	}

	s, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("getting stat of crash file: %w", err)
	}

	if s.Size() > 0 {
		r.logger.InfoContext(ctx, "crash output is not empty; not removing")

		return nil
	}

	name := r.file.Name()
	err = r.file.Close()
	if err != nil {
		return fmt.Errorf("closing crash file: %w", err)
	}

	r.file = nil

	r.logger.DebugContext(ctx, "crash output is empty; removing")

	err = os.Remove(name)
	if err != nil {
		return fmt.Errorf("removing crash file: %w", err)
	}

	return nil
}
