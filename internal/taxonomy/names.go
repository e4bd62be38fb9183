package taxonomy

import (
	"fmt"
	"regexp"
	"strconv"
)

const (
	defaultName   = "new category"
	ungroupedName = "ungrouped"
)

// GenerateUniqueName returns base if no category uses it. Otherwise it
// returns "base (n)" with the smallest free n >= 2, where the bare base
// counts as index 1. If every index up to the number of used indices is
// taken, n is one past the largest.
func (e *Engine) GenerateUniqueName(base string) string {
	if base == "" {
		base = defaultName
	}
	if !e.tree.Contains(base) {
		return base
	}

	re := regexp.MustCompile(`^` + regexp.QuoteMeta(base) + ` \((\d+)\)$`)
	used := map[int]struct{}{1: {}}
	largest := 1
	for _, name := range e.tree.Names() {
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		used[n] = struct{}{}
		largest = max(largest, n)
	}

	for i := 2; i <= len(used); i++ {
		if _, ok := used[i]; !ok {
			return fmt.Sprintf("%s (%d)", base, i)
		}
	}
	return fmt.Sprintf("%s (%d)", base, largest+1)
}
