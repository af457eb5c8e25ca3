package rshttp_test

import (
	"time"

	"github.com/AdguardTeam/rulesync/internal/filter"
)

// testSrv is the common Server header value for tests.
const testSrv = "testServer/1.0"

// testID is the common filter source ID for tests.
const testID filter.ID = "custom_1"

// testTimeout is the common timeout for tests.
const testTimeout = 1 * time.Second
