package reconcile

import "os"

// pathExists and readDirEntries are the minimal file-stat/directory-listing
// utilities the engine needs. SPEC_FULL.md treats stat/path utilities as an
// external collaborator the host may supply; here they are a thin, private
// os.Stat/os.ReadDir wrapper rather than a third-party dependency, since
// nothing in the example pack offers a richer abstraction over these two
// calls and the teacher's own watcher code (file.go, inotify_linux.go)
// reaches for os.Stat directly in the same way.

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

type dirEntry struct {
	name  string
	isDir bool
}

// readDirEntries lists the immediate children of dir. A non-existent or
// unreadable directory yields an empty slice rather than an error: the
// engine treats an inaccessible directory as simply having no observable
// children yet, consistent with the "transient-watch failure" error kind.
func readDirEntries(dir string) []dirEntry {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make([]dirEntry, 0, len(entries))
	for _, e := range entries {
		isDir := e.IsDir()
		if e.Type()&os.ModeSymlink != 0 {
			// Non-goal: following symlinks across zone boundaries. Treat a
			// symlink as a file-like leaf regardless of its target type.
			isDir = false
		}
		out = append(out, dirEntry{name: e.Name(), isDir: isDir})
	}
	return out
}
