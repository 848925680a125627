package reconcile

import (
	"fmt"
	"regexp"
)

// regexCache lazily compiles and caches the regexp.Regexp for a Regex-kind
// Filter. Filters are validated (and thus compiled) once at AddZone time, so
// this is populated eagerly in practice; the cache only guards against a
// Filter value being used before validation (e.g. constructed by hand in a
// test).
type regexCache struct {
	re *regexp.Regexp
}

// compile validates f and, for FilterRegex, compiles its pattern. It is
// called once per filter when a zone is added (component A's filters are
// immutable for the lifetime of a zone).
func (f *Filter) compile() error {
	switch f.Kind {
	case FilterExact:
		return nil
	case FilterRegex:
		// The pattern is compiled as Go RE2, which agrees with POSIX basic
		// regular expressions on literal characters, ., *, bracket classes
		// and anchors only: BRE's \( \) and \{ \} are not translated, and
		// + ? | ( ) { } are RE2 operators rather than literals. Anchoring
		// the pattern both ends enforces the "fully matches" semantic of
		// §4.A without requiring POSIX leftmost-longest matching, which Go's
		// regexp package does not implement natively.
		re, err := regexp.Compile("^(?:" + f.Text + ")$")
		if err != nil {
			return fmt.Errorf("reconcile: invalid filter regex %q: %w", f.Text, err)
		}
		f.compiled = &regexCache{re: re}
		return nil
	default:
		return fmt.Errorf("reconcile: unknown filter kind %d", f.Kind)
	}
}

// matches reports whether target (a basename or full path, depending on
// f.PathScoped) satisfies f.
func (f Filter) matches(target string) bool {
	switch f.Kind {
	case FilterExact:
		return target == f.Text
	case FilterRegex:
		if f.compiled == nil {
			// Defensive: should be unreachable once AddZone has run compile.
			re, err := regexp.Compile("^(?:" + f.Text + ")$")
			if err != nil {
				return false
			}
			return re.MatchString(target)
		}
		return f.compiled.re.MatchString(target)
	default:
		return false
	}
}

// filterTarget resolves the string a Filter should be tested against: the
// basename, unless the filter is path-scoped, in which case the full path.
func filterTarget(f Filter, name, fullPath string) string {
	if f.PathScoped {
		return fullPath
	}
	return name
}

// isFilteredOut implements §4.A: is_filtered_out(node, name, full_path, is_dir).
func (e *Engine) isFilteredOut(n *toWatchDir, name, fullPath string, isDir bool) bool {
	pinned := n.pinnedDirs
	if !isDir {
		pinned = n.pinnedFiles
	}
	if pinned[name] {
		return false
	}

	if n.ownerZone == noIndex {
		return true
	}
	zone := &e.zones[n.ownerZone]

	if zone.MightCrossForbidden {
		for _, prefix := range ForbiddenPrefixes {
			if isAncestorOrSelf(prefix, fullPath) {
				return true
			}
		}
	}

	var include, exclude []Filter
	if isDir {
		include, exclude = zone.SubdirInclude, zone.SubdirExclude
	} else {
		include, exclude = zone.FileInclude, zone.FileExclude
	}

	if len(include) > 0 {
		matched := false
		for _, f := range include {
			if f.matches(filterTarget(f, name, fullPath)) {
				matched = true
				break
			}
		}
		if !matched {
			return true
		}
	}

	for _, f := range exclude {
		if f.matches(filterTarget(f, name, fullPath)) {
			return true
		}
	}

	return false
}
