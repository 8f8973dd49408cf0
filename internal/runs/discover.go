package runs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DiscoverOutputs globs dir for files matching the given patterns and
// returns their absolute paths, de-duplicated and sorted. Directories are
// skipped even when a pattern matches them. A missing dir yields no files
// rather than an error, so discovery after a failed run stays quiet.
func DiscoverOutputs(dir string, patterns []string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("bad output pattern %q: %w", pattern, err)
		}
		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			if _, dup := seen[match]; dup {
				continue
			}
			seen[match] = struct{}{}
			files = append(files, match)
		}
	}

	sort.Strings(files)
	return files, nil
}
