package rstest

import (
	"context"
	"slices"
	"sync"

	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/AdguardTeam/rulesync/internal/filter/filterstorage"
)

// type check
var _ filterstorage.Interface = (*ContentStorage)(nil)

// ContentStorage is a [filterstorage.Interface] for tests.
type ContentStorage struct {
	OnContent    func(ctx context.Context, id filter.ID) (rules []filter.RuleText, err error)
	OnSetContent func(ctx context.Context, id filter.ID, rules []filter.RuleText) (err error)
	OnDelete     func(ctx context.Context, id filter.ID) (err error)
}

// Content implements the [filterstorage.Interface] interface for
// *ContentStorage.
func (s *ContentStorage) Content(
	ctx context.Context,
	id filter.ID,
) (rules []filter.RuleText, err error) {
	return s.OnContent(ctx, id)
}

// SetContent implements the [filterstorage.Interface] interface for
// *ContentStorage.
func (s *ContentStorage) SetContent(
	ctx context.Context,
	id filter.ID,
	rules []filter.RuleText,
) (err error) {
	return s.OnSetContent(ctx, id, rules)
}

// Delete implements the [filterstorage.Interface] interface for
// *ContentStorage.
func (s *ContentStorage) Delete(ctx context.Context, id filter.ID) (err error) {
	return s.OnDelete(ctx, id)
}

// NewContentStorage returns a *ContentStorage that keeps the content in
// memory.  Content returns a *filter.SourceUnavailableError wrapping
// [filterstorage.ErrNotFound] for the missing content.
func NewContentStorage() (s *ContentStorage) {
	mu := &sync.Mutex{}
	data := map[filter.ID][]filter.RuleText{}

	return &ContentStorage{
		OnContent: func(_ context.Context, id filter.ID) (rules []filter.RuleText, err error) {
			mu.Lock()
			defer mu.Unlock()

			rules, ok := data[id]
			if !ok {
				return nil, &filter.SourceUnavailableError{
					Err: filterstorage.ErrNotFound,
					ID:  id,
				}
			}

			return slices.Clone(rules), nil
		},
		OnSetContent: func(_ context.Context, id filter.ID, rules []filter.RuleText) (err error) {
			mu.Lock()
			defer mu.Unlock()

			data[id] = slices.Clone(rules)

			return nil
		},
		OnDelete: func(_ context.Context, id filter.ID) (err error) {
			mu.Lock()
			defer mu.Unlock()

			delete(data, id)

			return nil
		},
	}
}
