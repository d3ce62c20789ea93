package sieve

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// TurnMessage is one turn of a multi-turn ingest.
type TurnMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// minMessageChars is the per-message floor of the proportional budget.
const minMessageChars = 200

// window keeps the last contextMessages turns and shares maxChars
// across them proportionally to raw length, with a per-message floor so
// short replies are never truncated to nothing. Output is alternating
// [USER] / [ASSISTANT] blocks.
func window(messages []TurnMessage, contextMessages, maxChars int) string {
	if len(messages) == 0 {
		return ""
	}
	if len(messages) > contextMessages {
		messages = messages[len(messages)-contextMessages:]
	}

	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}

	var sb strings.Builder
	for _, m := range messages {
		content := Sanitize(m.Content)
		if content == "" {
			continue
		}

		budget := maxChars
		if total > maxChars && total > 0 {
			budget = maxChars * len(m.Content) / total
			if budget < minMessageChars {
				budget = minMessageChars
			}
		}
		content = truncate(content, budget)

		label := "[USER]"
		if strings.EqualFold(m.Role, "assistant") {
			label = "[ASSISTANT]"
		}
		fmt.Fprintf(&sb, "%s %s\n", label, content)
	}
	return strings.TrimSpace(sb.String())
}

// truncate cuts at a byte budget without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
