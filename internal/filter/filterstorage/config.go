package filterstorage

import (
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/redisutil"
	"github.com/c2h5oh/datasize"
)

// FileConfig is the configuration structure for the file-based storage.
type FileConfig struct {
	// Logger is used for logging the operation of the storage.  It must not
	// be nil.
	Logger *slog.Logger

	// Dir is the path to the directory where the content files are put.  It
	// must not be empty and the directory must exist.
	Dir string

	// MaxSize is the maximum size of the content of a single filter.  It must
	// be positive.
	MaxSize datasize.ByteSize
}

// RedisConfig is the configuration structure for the Redis-based storage.
type RedisConfig struct {
	// Logger is used for logging the operation of the storage.  It must not
	// be nil.
	Logger *slog.Logger

	// Pool maintains a pool of Redis connections.  It must not be nil.
	Pool redisutil.Pool

	// KeyPrefix is the prefix of the keys of the content.  It must not be
	// empty.
	KeyPrefix string

	// TTL defines, after how much time the content should expire.  If it is
	// zero, the content never expires.  Otherwise, it must be greater than or
	// equal to [MinTTL].
	TTL time.Duration

	// MaxSize is the maximum size of the content of a single filter.  It must
	// be positive.
	MaxSize datasize.ByteSize
}
