package reconcile

import "fmt"

// ForbiddenPrefixes is the fixed set of paths the watch registry refuses to
// watch, regardless of zone configuration.
var ForbiddenPrefixes = []string{"/proc", "/sys", "/dev/pts"}

// MaxUserWatchesFile is the procfs file reporting the kernel's per-user
// inotify watch limit. Hosts can read it to size max_nodes before
// constructing an Engine.
const MaxUserWatchesFile = "/proc/sys/fs/inotify/max_user_watches"

// Synthetic watch-registry error codes, exposed to hosts per §6.
var (
	// ErrFakeFS is returned by AddPath for any path under ForbiddenPrefixes.
	ErrFakeFS = fmt.Errorf("reconcile: path is under a forbidden pseudo-filesystem prefix")
	// ErrWatchNotFound is returned when a slot or tag does not resolve to a
	// registered watch.
	ErrWatchNotFound = fmt.Errorf("reconcile: watch slot or tag not found")
)

// fatalWatchError reports whether err, returned from the watch registry's
// AddPath, is unrecoverable for the whole session (ENOSPC / ENOMEM /
// ENAMETOOLONG class failures) as opposed to a per-node failure such as
// EACCES that simply leaves one node unwatched. See §7.
type fatalWatchError struct {
	err error
}

func (e *fatalWatchError) Error() string { return e.err.Error() }
func (e *fatalWatchError) Unwrap() error { return e.err }

// Fatal wraps err so the engine treats it as abort-worthy. Watch registry
// implementations should use this for ENOSPC, ENOMEM, and ENAMETOOLONG.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalWatchError{err: err}
}

func isFatal(err error) bool {
	_, ok := err.(*fatalWatchError)
	return ok
}

// ConfigError reports a problem with a declarative call (AddZone, AddFile):
// the engine's state is left unchanged and the error is returned directly to
// the caller, never raised through OnAbort.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string { return e.msg }

func configErrorf(format string, args ...any) error {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}
