// Package filterstorage defines an interface for a storage of the content of
// filter sources as well as its file and Redis implementations.
package filterstorage

import (
	"context"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/rulesync/internal/filter"
)

// Interface is the storage of filter contents.  All methods must be safe for
// concurrent use.
type Interface interface {
	// Content returns the rule lines of the filter with the given ID.  If the
	// content cannot be read, err is a *filter.SourceUnavailableError.
	Content(ctx context.Context, id filter.ID) (rules []filter.RuleText, err error)

	// SetContent replaces the content of the filter with the given ID.
	SetContent(ctx context.Context, id filter.ID, rules []filter.RuleText) (err error)

	// Delete removes the content of the filter with the given ID.  It must not
	// return an error if there is no such content.
	Delete(ctx context.Context, id filter.ID) (err error)
}

// ErrNotFound is returned, wrapped into a *filter.SourceUnavailableError, when
// there is no content for a filter.
const ErrNotFound errors.Error = "no content"

// newUnavailableError is a helper that wraps err into a
// *filter.SourceUnavailableError.
func newUnavailableError(id filter.ID, err error) (wrapped error) {
	return &filter.SourceUnavailableError{
		Err: err,
		ID:  id,
	}
}
