package agent

import (
	"regexp"
	"strings"
)

// Some models leak reasoning tags or repeat whole paragraphs when they
// downgrade tool calls to text. Replies are cleaned before they reach a
// thread or a channel.

var thinkingTagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<think>.*?</think>`),
	regexp.MustCompile(`(?is)<thinking>.*?</thinking>`),
	regexp.MustCompile(`(?is)<thought>.*?</thought>`),
}

func sanitizeReply(content string) string {
	if content == "" {
		return ""
	}
	content = stripThinkingTags(content)
	content = collapseDuplicateBlocks(content)
	return strings.TrimSpace(content)
}

func stripThinkingTags(content string) string {
	lower := strings.ToLower(content)
	if !strings.Contains(lower, "<think") && !strings.Contains(lower, "<thought") {
		return content
	}
	for _, pat := range thinkingTagPatterns {
		content = pat.ReplaceAllString(content, "")
	}
	return content
}

// collapseDuplicateBlocks drops a paragraph when it repeats the one
// immediately before it.
func collapseDuplicateBlocks(content string) string {
	blocks := strings.Split(content, "\n\n")
	if len(blocks) <= 1 {
		return content
	}
	var kept []string
	for _, block := range blocks {
		trimmed := strings.TrimSpace(block)
		if trimmed == "" {
			continue
		}
		if len(kept) > 0 && trimmed == strings.TrimSpace(kept[len(kept)-1]) {
			continue
		}
		kept = append(kept, block)
	}
	return strings.Join(kept, "\n\n")
}
