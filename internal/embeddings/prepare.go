package embeddings

import (
	"strings"
)

const (
	// messageBudget caps how much raw message text feeds one embedding.
	messageBudget = 2000

	// minPartial is the smallest budget remainder worth a truncated
	// message; below it the message is dropped instead.
	minPartial = 100
)

// BuildDocumentText assembles the text embedded for a conversation: title,
// topics, and summary sections followed by message content under a fixed
// character budget. When the budget runs out mid-message, the message is
// included truncated with an ellipsis only if at least minPartial characters
// remain, otherwise it and everything after it are dropped.
func BuildDocumentText(title string, topics []string, summary string, messages []string) string {
	var parts []string
	if title != "" {
		parts = append(parts, "Title: "+title)
	}
	if len(topics) > 0 {
		parts = append(parts, "Topics: "+strings.Join(topics, ", "))
	}
	if summary != "" {
		parts = append(parts, "Summary: "+summary)
	}

	var contents []string
	used := 0
	for _, m := range messages {
		if used+len(m) > messageBudget {
			remaining := messageBudget - used
			if remaining >= minPartial {
				contents = append(contents, m[:remaining]+"...")
			}
			break
		}
		contents = append(contents, m)
		used += len(m)
	}
	if len(contents) > 0 {
		parts = append(parts, "Content: "+strings.Join(contents, " "))
	}

	return strings.Join(parts, "\n\n")
}
