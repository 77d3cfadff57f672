package job

import "strings"

// extractJSONBlock returns the body of the first fenced ```json block in a
// model reply. Models occasionally fence without the language tag, so a bare
// ``` fence is accepted as a fallback.
func extractJSONBlock(reply string) (string, bool) {
	for _, fence := range []string{"```json", "```"} {
		start := strings.Index(reply, fence)
		if start == -1 {
			continue
		}
		rest := reply[start+len(fence):]
		end := strings.Index(rest, "```")
		if end == -1 {
			continue
		}
		block := strings.TrimSpace(rest[:end])
		if block != "" {
			return block, true
		}
	}
	return "", false
}

func countWords(s string) int {
	return len(strings.Fields(s))
}
