package filterstorage

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/rulesync/internal/filter"
	"github.com/c2h5oh/datasize"
	renameio "github.com/google/renameio/v2"
)

// File is the storage of filter contents that keeps every filter in a separate
// text file.
type File struct {
	logger  *slog.Logger
	dir     string
	maxSize datasize.ByteSize
}

// NewFile returns a new properly initialized *File.  c must not be nil.
func NewFile(c *FileConfig) (s *File) {
	return &File{
		logger:  c.Logger,
		dir:     c.Dir,
		maxSize: c.MaxSize,
	}
}

// type check
var _ Interface = (*File)(nil)

// Content implements the [Interface] interface for *File.
func (s *File) Content(ctx context.Context, id filter.ID) (rules []filter.RuleText, err error) {
	defer func() {
		if err != nil {
			err = newUnavailableError(id, err)
		}
	}()

	f, err := os.Open(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}

		// Don't wrap the error, because it's informative enough as is.
		return nil, err
	}
	defer func() { err = errors.WithDeferred(err, f.Close()) }()

	// Read one more byte to detect the content that is too large.
	data, err := io.ReadAll(io.LimitReader(f, int64(s.maxSize)+1))
	if err != nil {
		return nil, fmt.Errorf("reading: %w", err)
	}

	if n := datasize.ByteSize(len(data)); n > s.maxSize {
		return nil, fmt.Errorf("content is too large: max %s", s.maxSize)
	}

	s.logger.DebugContext(ctx, "read content", "id", id, "bytes", len(data))

	return filter.RulesFromBytes(data), nil
}

// SetContent implements the [Interface] interface for *File.
func (s *File) SetContent(ctx context.Context, id filter.ID, rules []filter.RuleText) (err error) {
	defer func() { err = errors.Annotate(err, "setting content of %q: %w", id) }()

	data := filter.RulesToBytes(rules)
	if n := datasize.ByteSize(len(data)); n > s.maxSize {
		return fmt.Errorf("content is too large: got %s, max %s", n, s.maxSize)
	}

	err = renameio.WriteFile(s.path(id), data, 0o600)
	if err != nil {
		// Don't wrap the error, because it's informative enough as is.
		return err
	}

	s.logger.DebugContext(ctx, "wrote content", "id", id, "rules", len(rules))

	return nil
}

// Delete implements the [Interface] interface for *File.
func (s *File) Delete(ctx context.Context, id filter.ID) (err error) {
	err = os.Remove(s.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting content of %q: %w", id, err)
	}

	s.logger.DebugContext(ctx, "deleted content", "id", id)

	return nil
}

// path returns the path to the content file of the filter.
func (s *File) path(id filter.ID) (p string) {
	return filepath.Join(s.dir, string(id)+".txt")
}

