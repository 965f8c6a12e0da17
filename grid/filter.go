package grid

import (
	"path"
	"strconv"
	"strings"
)

// matchName reports whether a display name satisfies all patterns. A
// pattern matches as a glob anywhere inside the name; a leading "!"
// negates it.
func matchName(name string, patterns []string) bool {
	for _, pattern := range patterns {
		neg := false
		if strings.HasPrefix(pattern, "!") {
			pattern = pattern[1:]
			neg = true
		}
		ok, err := path.Match("*"+pattern+"*", name)
		if err != nil {
			return false
		}
		if neg == ok {
			return false
		}
	}
	return true
}

// splitPatterns separates numeric index selectors from name patterns.
func splitPatterns(patterns []string) (indexes []int, rest []string) {
	for _, p := range patterns {
		if i, err := strconv.Atoi(p); err == nil {
			indexes = append(indexes, i)
			continue
		}
		rest = append(rest, p)
	}
	return indexes, rest
}
