package tail

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MuchTitan/go-log-shipper/internal/util"
)

var DefaultSuffixes = []string{".log", ".metrics"}

// Discover lists the regular files in dir whose name ends in one of suffixes and matches one of
// the include patterns. Paths are absolute and sorted. A missing directory yields no files.
func Discover(dir string, suffixes, include []string) ([]string, error) {
	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: list %s: %v", ErrFileAccess, absDir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !hasSuffix(name, suffixes) || !util.MatchAny(name, include) {
			continue
		}
		files = append(files, filepath.Join(absDir, name))
	}
	sort.Strings(files)
	return files, nil
}

func hasSuffix(name string, suffixes []string) bool {
	for _, s := range suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}
