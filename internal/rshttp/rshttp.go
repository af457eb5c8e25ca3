// Package rshttp contains common constants, functions, and types for working
// with HTTP.
package rshttp

// HTTP header value constants.
const (
	HdrValApplicationJSON = "application/json"
	HdrValTextPlain       = "text/plain"
)
