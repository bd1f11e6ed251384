package arbiter

import (
	"context"
	"strings"
)

// Judge answers a prompt under a system instruction. Implementations
// are asked for strict JSON; the arbiter parses and validates it.
type Judge interface {
	Name() string
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// cleanJSON strips markdown code fences and any prose around the first
// JSON object in s.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
