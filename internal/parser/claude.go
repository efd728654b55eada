package parser

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	claudeClassRe     = regexp.MustCompile(`(?i)claude`)
	testidMessageRe   = regexp.MustCompile(`(?i)message|conversation-turn|conversation`)
	claudeTitlePrefix = regexp.MustCompile(`(?i)^(Claude\s*-\s*|Conversation\s+with\s+Claude\s*-?\s*)`)
	roleClassRe       = regexp.MustCompile(`(?i)role|author`)
)

// ClaudeParser handles Claude HTML exports, which are React DOM dumps marked
// up with data-testid attributes.
type ClaudeParser struct{}

func (p *ClaudeParser) Name() string { return "claude" }

func (p *ClaudeParser) Detect(doc *html.Node) bool {
	if strings.Contains(strings.ToLower(documentTitle(doc)), "claude") {
		return true
	}
	if findFirst(doc, func(n *html.Node) bool {
		v, ok := attr(n, "data-testid")
		return ok && testidMessageRe.MatchString(v)
	}) != nil {
		return true
	}
	if findFirst(doc, func(n *html.Node) bool { return classMatches(n, claudeClassRe) }) != nil {
		return true
	}
	return metaContains(doc, "anthropic") || metaContains(doc, "claude")
}

func (p *ClaudeParser) Parse(doc *html.Node) (*Conversation, error) {
	title := p.extractTitle(doc)
	messages := p.extractMessages(doc)
	if title == "" || title == "Untitled Conversation" {
		title = titleFromFirstUserMessage(messages)
	}
	return &Conversation{
		Title:     title,
		Messages:  messages,
		CreatedAt: extractTimestamp(doc),
	}, nil
}

func (p *ClaudeParser) extractTitle(doc *html.Node) string {
	if title := documentTitle(doc); title != "" {
		title = cleanText(claudeTitlePrefix.ReplaceAllString(title, ""))
		lower := strings.ToLower(title)
		if title != "" && lower != "claude" && lower != "anthropic" {
			return title
		}
	}
	if h := findFirst(doc, func(n *html.Node) bool {
		return isTag(n, "h1", "h2") && classMatches(n, titleClassRe)
	}); h != nil {
		if title := cleanText(innerText(h)); title != "" {
			return title
		}
	}
	if el := findFirst(doc, func(n *html.Node) bool { return hasAttr(n, "data-conversation-title") }); el != nil {
		v, _ := attr(el, "data-conversation-title")
		return cleanText(v)
	}
	return "Untitled Conversation"
}

func (p *ClaudeParser) extractMessages(doc *html.Node) []Message {
	var messages []Message

	for _, el := range findAll(doc, func(n *html.Node) bool {
		v, ok := attr(n, "data-testid")
		return ok && testidMessageRe.MatchString(v) && !strings.EqualFold(v, "conversation")
	}) {
		content := extractMessageContent(el)
		if content == "" {
			continue
		}
		messages = append(messages, Message{
			Role:     p.roleOf(el),
			Content:  content,
			Sequence: len(messages),
		})
	}
	if len(messages) > 0 {
		return messages
	}

	for _, el := range findAll(doc, func(n *html.Node) bool {
		return isTag(n, "div", "article") && classMatches(n, messageClassRe)
	}) {
		content := extractMessageContent(el)
		if content == "" {
			continue
		}
		messages = append(messages, Message{
			Role:     p.roleOf(el),
			Content:  content,
			Sequence: len(messages),
		})
	}
	if len(messages) > 0 {
		return messages
	}

	return paragraphFallback(doc)
}

// roleOf determines a turn's speaker from testid, data attributes, class
// names, or an embedded role label. Ambiguous turns default to assistant.
func (p *ClaudeParser) roleOf(el *html.Node) string {
	if testid, ok := attr(el, "data-testid"); ok {
		lower := strings.ToLower(testid)
		if strings.Contains(lower, "user") || strings.Contains(lower, "human") {
			return "user"
		}
		if strings.Contains(lower, "assistant") || strings.Contains(lower, "claude") {
			return "assistant"
		}
	}
	if v, ok := attr(el, "data-author-role"); ok {
		return normalizeRole(v)
	}
	if v, ok := attr(el, "data-message-author"); ok {
		return normalizeRole(v)
	}

	classes := classAttr(el)
	for _, term := range []string{"user", "human", "you"} {
		if strings.Contains(classes, term) {
			return "user"
		}
	}
	for _, term := range []string{"assistant", "claude", "bot", "ai"} {
		if strings.Contains(classes, term) {
			return "assistant"
		}
	}

	if roleEl := findFirst(el, func(n *html.Node) bool {
		return n != el && classMatches(n, roleClassRe)
	}); roleEl != nil {
		return normalizeRole(cleanText(innerText(roleEl)))
	}
	return "assistant"
}
