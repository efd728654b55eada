// Package normalizer turns raw parsed conversations into the canonical form
// the rest of the pipeline consumes: validated roles, whitespace-collapsed
// content, a bounded title, and a timestamp.
package normalizer

import (
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
	"github.com/fyrsmithlabs/cortexd/internal/parser"
)

const (
	maxTitleLen      = 200
	derivedTitleLen  = 50
	derivedTitleTrim = 47
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// Conversation is the normalized form.
type Conversation struct {
	Title     string
	Messages  []parser.Message
	CreatedAt time.Time
}

// Normalize cleans the parsed conversation. Messages with invalid roles or
// empty content are dropped; if nothing survives, an EMPTY_INPUT taxonomy
// error is returned. The fallback timestamp is now (UTC).
func Normalize(conv *parser.Conversation, now time.Time) (*Conversation, error) {
	cleaned := make([]parser.Message, 0, len(conv.Messages))
	for _, m := range conv.Messages {
		role := strings.ToLower(m.Role)
		switch role {
		case "user", "assistant", "system":
		default:
			continue
		}
		content := collapse(m.Content)
		if content == "" {
			continue
		}
		cleaned = append(cleaned, parser.Message{
			Role:     role,
			Content:  content,
			Sequence: len(cleaned),
		})
	}
	if len(cleaned) == 0 {
		return nil, apperr.New(apperr.KindEmptyInput, "no valid messages after cleaning")
	}

	createdAt := now.UTC()
	if conv.CreatedAt != nil {
		createdAt = conv.CreatedAt.UTC()
	}

	return &Conversation{
		Title:     Title(conv.Title, cleaned),
		Messages:  cleaned,
		CreatedAt: createdAt,
	}, nil
}

// Title picks the stored title: the existing one when present and not the
// vendor placeholder, otherwise the first user message truncated, otherwise
// "Untitled Conversation".
func Title(existing string, messages []parser.Message) string {
	if t := strings.TrimSpace(existing); t != "" && t != "Untitled" {
		if len(t) > maxTitleLen {
			return t[:maxTitleLen]
		}
		return t
	}

	for _, m := range messages {
		if m.Role != "user" {
			continue
		}
		content := collapse(m.Content)
		if len(content) > derivedTitleLen {
			return content[:derivedTitleTrim] + "..."
		}
		return content
	}
	return "Untitled Conversation"
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
