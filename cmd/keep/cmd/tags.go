package cmd

import (
	"fmt"
	"strings"
)

// parseTags turns repeated "key=value" flag values into a tag map,
// matching the CLI's keyword-style tags flag (spec §6).
func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("invalid tag %q, expected key=value", p)
		}
		tags[key] = value
	}
	return tags, nil
}
