package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// ListFiles returns the regular files directly inside dir whose extension
// matches one of exts, case-insensitively, sorted by name. Symlinks are
// followed; links to directories and dangling links are left out.
func ListFiles(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !isRegular(dir, e) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if slices.ContainsFunc(exts, func(x string) bool { return strings.EqualFold(x, ext) }) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

func isRegular(dir string, e os.DirEntry) bool {
	if e.Type()&os.ModeSymlink == 0 {
		return e.Type().IsRegular()
	}
	info, err := os.Stat(filepath.Join(dir, e.Name()))
	return err == nil && info.Mode().IsRegular()
}
