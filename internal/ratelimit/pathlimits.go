package ratelimit

import (
	"sort"
	"strings"

	"github.com/aman-churiwal/tenant-admission/internal/config"
)

// DefaultClass is the endpoint class for paths without a custom limit.
const DefaultClass = "default"

type pathLimit struct {
	prefix string
	base   int
}

// PathTable holds base per-minute limits for expensive path prefixes. The
// base is scaled by the plan's path multiplier.
type PathTable struct {
	entries []pathLimit
}

func NewPathTable(cfg []config.PathLimitConfig) *PathTable {
	entries := make([]pathLimit, 0, len(cfg))
	for _, p := range cfg {
		entries = append(entries, pathLimit{prefix: p.Prefix, base: p.Limit})
	}
	// Longest prefix wins.
	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].prefix) > len(entries[j].prefix)
	})
	return &PathTable{entries: entries}
}

// Resolve returns the per-minute limit and endpoint class for path. Custom
// prefixes yield base*multiplier; anything else gets planDefault.
func (t *PathTable) Resolve(path string, planDefault, multiplier int) (int, string) {
	if multiplier <= 0 {
		multiplier = 1
	}
	for _, e := range t.entries {
		if matchPrefix(path, e.prefix) {
			return e.base * multiplier, e.prefix
		}
	}
	return planDefault, DefaultClass
}

func matchPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	if len(path) == len(prefix) || strings.HasSuffix(prefix, "/") {
		return true
	}
	return path[len(prefix)] == '/'
}
