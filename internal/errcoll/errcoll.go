// Package errcoll contains implementations of error collectors, most notably
// Sentry.
package errcoll

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Interface is the interface for error collectors that process information
// about errors, possibly sending them to a remote location.
type Interface interface {
	// Collect collects the error.  err must not be nil.
	Collect(ctx context.Context, err error)
}

// Collect is a helper for reporting non-critical errors.  It writes the
// resulting error into the log and also into errColl.
func Collect(ctx context.Context, errColl Interface, l *slog.Logger, msg string, err error) {
	l.ErrorContext(ctx, msg, slogutil.KeyError, err)
	errColl.Collect(ctx, fmt.Errorf("%s: %w", msg, err))
}

// caller returns the short path to the file and the line of the caller skip
// frames up the stack.
func caller(skip int) (pos string) {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "<unknown>"
	}

	dir, base := filepath.Split(file)

	return fmt.Sprintf("%s/%s:%d", filepath.Base(dir), base, line)
}
