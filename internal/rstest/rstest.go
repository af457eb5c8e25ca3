// Package rstest contains simple fakes for common interfaces and other test
// utilities.
package rstest

import (
	"time"
)

// Timeout is the common timeout for tests.
const Timeout = 1 * time.Second
