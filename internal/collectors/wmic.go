package collectors

import (
	"strings"
)

// parseWMICList parses "wmic ... get A,B /format:list" output: blocks of
// Key=Value lines separated by blank lines, one block per instance.
func parseWMICList(out string) []map[string]string {
	var records []map[string]string
	cur := map[string]string{}
	flush := func() {
		if len(cur) > 0 {
			records = append(records, cur)
			cur = map[string]string{}
		}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if _, dup := cur[k]; dup {
			flush()
		}
		cur[k] = strings.TrimSpace(v)
	}
	flush()
	return records
}
