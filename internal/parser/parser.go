// Package parser turns vendor chat HTML exports into structured
// conversations. ChatGPT and Claude exports are supported; detection runs
// each vendor's heuristics in order and the first match wins.
package parser

import (
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/fyrsmithlabs/cortexd/internal/apperr"
)

// Message is one extracted turn.
type Message struct {
	Role     string
	Content  string
	Sequence int
}

// Conversation is the parse result for one export file.
type Conversation struct {
	Title     string
	Messages  []Message
	CreatedAt *time.Time
}

// Parser extracts a conversation from one vendor's export format.
type Parser interface {
	// Name identifies the vendor ("chatgpt", "claude").
	Name() string

	// Detect reports whether the document looks like this vendor's export.
	Detect(doc *html.Node) bool

	// Parse extracts the conversation.
	Parse(doc *html.Node) (*Conversation, error)
}

// parsers in detection order. ChatGPT first, matching the original factory.
func parsers() []Parser {
	return []Parser{&ChatGPTParser{}, &ClaudeParser{}}
}

// Parse detects the vendor format of raw HTML and extracts the conversation.
// Returns an UNSUPPORTED_FORMAT taxonomy error when no vendor matches and an
// EMPTY_INPUT error when the document parses to zero messages.
func Parse(raw string) (*Conversation, string, error) {
	doc, err := parseHTML(raw)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindInvalidInput, err, "failed to parse HTML")
	}

	for _, p := range parsers() {
		if !p.Detect(doc) {
			continue
		}
		conv, err := p.Parse(doc)
		if err != nil {
			return nil, p.Name(), err
		}
		if len(conv.Messages) == 0 {
			return nil, p.Name(), apperr.New(apperr.KindEmptyInput, "no messages found in conversation")
		}
		return conv, p.Name(), nil
	}
	return nil, "", apperr.New(apperr.KindUnsupportedFormat, "Unable to detect chat format")
}

// multiParser is implemented by vendors whose exports can carry more than
// one conversation per file.
type multiParser interface {
	ParseMany(doc *html.Node) ([]*Conversation, error)
}

// ParseAll detects the vendor format and extracts every conversation in the
// document. Vendors without multi-conversation exports yield one element.
// Conversations without messages are kept so callers can report them
// individually; the EMPTY_INPUT error fires only when no conversation in the
// document has any messages.
func ParseAll(raw string) ([]*Conversation, string, error) {
	doc, err := parseHTML(raw)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.KindInvalidInput, err, "failed to parse HTML")
	}

	for _, p := range parsers() {
		if !p.Detect(doc) {
			continue
		}

		var convs []*Conversation
		if mp, ok := p.(multiParser); ok {
			convs, err = mp.ParseMany(doc)
		} else {
			var conv *Conversation
			conv, err = p.Parse(doc)
			convs = []*Conversation{conv}
		}
		if err != nil {
			return nil, p.Name(), err
		}

		kept := convs[:0]
		withMessages := 0
		for _, c := range convs {
			if c == nil {
				continue
			}
			kept = append(kept, c)
			if len(c.Messages) > 0 {
				withMessages++
			}
		}
		if withMessages == 0 {
			return nil, p.Name(), apperr.New(apperr.KindEmptyInput, "no messages found in conversation")
		}
		return kept, p.Name(), nil
	}
	return nil, "", apperr.New(apperr.KindUnsupportedFormat, "Unable to detect chat format")
}

// normalizeRole maps vendor role spellings onto user/assistant/system.
// Unknown roles default to assistant.
func normalizeRole(role string) string {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "user", "human", "you":
		return "user"
	case "system":
		return "system"
	default:
		return "assistant"
	}
}

// titleFromFirstUserMessage derives a title when the export carries none.
func titleFromFirstUserMessage(messages []Message) string {
	const maxLen = 50
	for _, m := range messages {
		if m.Role != "user" || m.Content == "" {
			continue
		}
		title := cleanText(m.Content)
		if len(title) > maxLen {
			return title[:maxLen] + "..."
		}
		return title
	}
	return "Untitled Conversation"
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	"2006-01-02",
	"January 2, 2006",
	"Jan 2, 2006",
}

// parseTimestamp tries the known export timestamp layouts.
func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}

// extractTimestamp finds a conversation timestamp in meta tags, <time>
// elements, or date-classed containers.
func extractTimestamp(doc *html.Node) *time.Time {
	for _, m := range findAll(doc, func(n *html.Node) bool { return n.Data == "meta" }) {
		name, _ := attr(m, "name")
		if !strings.Contains(strings.ToLower(name), "date") && !strings.Contains(strings.ToLower(name), "created") {
			continue
		}
		if content, ok := attr(m, "content"); ok {
			if t := parseTimestamp(content); t != nil {
				return t
			}
		}
	}

	if tt := findFirst(doc, func(n *html.Node) bool { return n.Data == "time" }); tt != nil {
		if dt, ok := attr(tt, "datetime"); ok {
			if t := parseTimestamp(dt); t != nil {
				return t
			}
		}
		if t := parseTimestamp(cleanText(innerText(tt))); t != nil {
			return t
		}
	}

	for _, el := range findAll(doc, func(n *html.Node) bool {
		return isTag(n, "header", "footer", "div") && classMatches(n, dateClassRe)
	}) {
		if t := parseTimestamp(cleanText(innerText(el))); t != nil {
			return t
		}
	}
	return nil
}
