// Package version contains the build information of the service.
package version

// These are set by the linker.  Constants can't be set during linking, so they
// are only exported through getters.
var (
	branch     string
	committime string
	revision   string
	version    string
)

// name is the name of the service.
const name = "rulesync"

// Branch returns the compiled-in value of the Git branch.
func Branch() (b string) {
	return branch
}

// CommitTime returns the compiled-in value of the commit time as a string.
func CommitTime() (t string) {
	return committime
}

// Revision returns the compiled-in value of the Git revision.
func Revision() (r string) {
	return revision
}

// Version returns the compiled-in value of the version as a string.  If it's
// not set, it returns "v0.0.0-dev".
func Version() (v string) {
	if version == "" {
		return "v0.0.0-dev"
	}

	return version
}

// Name returns the name of the service.
func Name() (n string) {
	return name
}

// UserAgent returns the User-Agent and Server header value of the service.
func UserAgent() (ua string) {
	return name + "/" + Version()
}
