package errcoll

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/version"
	"github.com/getsentry/sentry-go"
	"golang.org/x/sys/unix"
)

// SentryErrorCollector is an [Interface] implementation that sends errors to a
// Sentry-like HTTP API.
type SentryErrorCollector struct {
	logger *slog.Logger
	sentry *sentry.Client
}

// NewSentryErrorCollector returns a new SentryErrorCollector.  All arguments
// must not be nil.
func NewSentryErrorCollector(cli *sentry.Client, l *slog.Logger) (c *SentryErrorCollector) {
	return &SentryErrorCollector{
		logger: l,
		sentry: cli,
	}
}

// type check
var _ Interface = (*SentryErrorCollector)(nil)

// Collect implements the [Interface] interface for *SentryErrorCollector.
func (c *SentryErrorCollector) Collect(ctx context.Context, err error) {
	if !isReportable(err) {
		c.logger.DebugContext(ctx, "non-reportable error", slogutil.KeyError, err)

		return
	}

	scope := sentry.NewScope()
	scope.SetTags(tagsFromErr(err))

	_ = c.sentry.CaptureException(err, &sentry.EventHint{
		Context: ctx,
	}, scope)
}

// ErrorFlushCollector collects information about errors, possibly sending them
// to a remote location.  The collected errors should be flushed with the Flush.
type ErrorFlushCollector interface {
	Interface

	// Flush waits until the underlying transport sends any buffered events to
	// the sentry server, blocking for at most the predefined timeout.
	Flush()
}

// type check
var _ ErrorFlushCollector = (*SentryErrorCollector)(nil)

// flushTimeout is the timeout for flushing sentry errors.
const flushTimeout = 1 * time.Second

// Flush implements the [ErrorFlushCollector] interface for
// *SentryErrorCollector.
func (c *SentryErrorCollector) Flush() {
	_ = c.sentry.Flush(flushTimeout)
}

// SentryReportableError is the interface for errors and wrapper that can tell
// whether they should be reported or not.
type SentryReportableError interface {
	error

	IsSentryReportable() (ok bool)
}

// isReportable returns true if the error is worth reporting.  Canceled
// operations and broken connections to the storage aren't.
func isReportable(err error) (ok bool) {
	var sentryRepErr SentryReportableError
	if errors.As(err, &sentryRepErr) {
		return sentryRepErr.IsSentryReportable()
	}

	return !errors.Is(err, context.Canceled) && !isConnectionBreak(err)
}

// isConnectionBreak returns true if err is an error about connection breaking
// or timing out.
func isConnectionBreak(err error) (ok bool) {
	switch {
	case
		errors.Is(err, io.EOF),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, unix.ECONNREFUSED),
		errors.Is(err, unix.ECONNRESET),
		errors.Is(err, unix.EHOSTUNREACH),
		errors.Is(err, unix.ENETUNREACH),
		errors.Is(err, unix.EPIPE),
		errors.Is(err, unix.ETIMEDOUT):
		return true
	default:
		return false
	}
}

// sentryTags is a convenient alias for map[string]string.
type sentryTags = map[string]string

// tagsFromErr returns Sentry tags based on the information from err.
func tagsFromErr(err error) (tags sentryTags) {
	tags = sentryTags{
		"git_revision": version.Revision(),
	}

	unavailErr := &filter.SourceUnavailableError{}
	if errors.As(err, &unavailErr) {
		tags["source_id"] = string(unavailErr.ID)
	}

	if errors.As(err, new(*filter.RuntimeApplyError)) {
		tags["runtime_apply_failed"] = "1"
	}

	if errors.As(err, new(*filter.UnrecoveredRejectionError)) {
		tags["unrecovered_rejection"] = "1"
	}

	return tags
}
