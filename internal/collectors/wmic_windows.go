//go:build windows

package collectors

import (
	"context"
	"strings"
)

// wmicList runs a wmic query and returns one map per instance.
func wmicList(ctx context.Context, class []string, props ...string) []map[string]string {
	args := append(append([]string{}, class...), "get", strings.Join(props, ","), "/format:list")
	out, err := runCommand(ctx, "wmic", args...)
	if err != nil {
		log.Warn("wmic query failed", "query", strings.Join(class, " "), "error", err)
		return nil
	}
	return parseWMICList(string(out))
}

// wmicGet returns one property of the first instance.
func wmicGet(ctx context.Context, class []string, prop string) string {
	recs := wmicList(ctx, class, prop)
	if len(recs) == 0 {
		return ""
	}
	return recs[0][prop]
}
