package runner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InferNumClasses counts class directories for vision datasets laid out as
// <path>/train/<class>/. Without a train directory the top-level directories
// are counted, with a floor of 2. Other domains are treated as binary.
func InferNumClasses(path, domain string) int {
	if !strings.EqualFold(domain, "vision") {
		return 2
	}
	if n, ok := countDirs(filepath.Join(path, "train")); ok {
		return n
	}
	n, _ := countDirs(path)
	if n < 2 {
		return 2
	}
	return n
}

func countDirs(dir string) (int, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, false
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n, true
}

// FormatDuration renders whole seconds as "12s", "45m 32s" or "2h 15m".
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
	}
}
