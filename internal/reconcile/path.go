package reconcile

import (
	"path"
	"strings"
)

// joinPath joins a parent directory path and a child name into a full path,
// handling the root "/" specially so it never produces a doubled separator.
func joinPath(parent, name string) string {
	if name == "" {
		return parent
	}
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// splitPath returns the parent directory and basename of p. For p == "/" it
// returns ("/", "").
func splitPath(p string) (parent, name string) {
	if p == "/" {
		return "/", ""
	}
	dir, base := path.Split(strings.TrimSuffix(p, "/"))
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		dir = "/"
	}
	return dir, base
}

// isCanonical reports whether p is an absolute path with no "." or ".."
// segments and no trailing slash (other than the root itself), matching the
// DirectoryZone.BasePath invariant.
func isCanonical(p string) bool {
	if !strings.HasPrefix(p, "/") {
		return false
	}
	if p != "/" && strings.HasSuffix(p, "/") {
		return false
	}
	if p == "/" {
		return true
	}
	for _, seg := range strings.Split(p[1:], "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// isAncestorOrSelf reports whether ancestor is a path-prefix of p at a
// directory-segment boundary (or equal to p).
func isAncestorOrSelf(ancestor, p string) bool {
	if ancestor == "/" {
		return true
	}
	if p == ancestor {
		return true
	}
	return strings.HasPrefix(p, ancestor+"/")
}

// depthUnder returns the number of path segments p has below base, or -1 if
// p is not base or a descendant of base.
func depthUnder(base, p string) int {
	if !isAncestorOrSelf(base, p) {
		return -1
	}
	if p == base {
		return 0
	}
	rest := strings.TrimPrefix(p, base)
	rest = strings.TrimPrefix(rest, "/")
	if rest == "" {
		return 0
	}
	return strings.Count(rest, "/") + 1
}

// parentPath returns the parent directory of p, or "/" if p is already root.
func parentPath(p string) string {
	parent, _ := splitPath(p)
	return parent
}
