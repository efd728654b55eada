package parser

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var (
	conversationClassRe = regexp.MustCompile(`(?i)conversation`)
	chatgptClassRe      = regexp.MustCompile(`(?i)chatgpt`)
	messageClassRe      = regexp.MustCompile(`(?i)message|chat-message|conversation-turn`)
	contentClassRe      = regexp.MustCompile(`(?i)content|text|body|prose`)
	titleClassRe        = regexp.MustCompile(`(?i)title|heading`)
	dateClassRe         = regexp.MustCompile(`(?i)date|time|timestamp`)

	chatgptTitlePrefix = regexp.MustCompile(`(?i)^ChatGPT\s*-\s*`)
	jsonDataRe         = regexp.MustCompile(`(?:var\s+jsonData|const\s+conversations|var\s+conversations)\s*=\s*\[`)
)

// ChatGPTParser handles ChatGPT HTML exports. Newer exports embed the full
// conversation tree as JSON inside a script tag; older ones are scraped from
// the rendered DOM.
type ChatGPTParser struct{}

func (p *ChatGPTParser) Name() string { return "chatgpt" }

func (p *ChatGPTParser) Detect(doc *html.Node) bool {
	if strings.Contains(strings.ToLower(documentTitle(doc)), "chatgpt") {
		return true
	}
	if findFirst(doc, func(n *html.Node) bool { return hasAttr(n, "data-message-author-role") }) != nil {
		return true
	}
	if findFirst(doc, func(n *html.Node) bool {
		return classMatches(n, conversationClassRe) || classMatches(n, chatgptClassRe)
	}) != nil {
		return true
	}
	return metaContains(doc, "openai")
}

func (p *ChatGPTParser) Parse(doc *html.Node) (*Conversation, error) {
	if convs := p.parseEmbeddedJSON(doc); len(convs) > 0 {
		for _, conv := range convs {
			if len(conv.Messages) > 0 {
				return conv, nil
			}
		}
		return convs[0], nil
	}

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

// Embedded JSON structures in newer ChatGPT exports.

type chatgptExport struct {
	Title      string                 `json:"title"`
	CreateTime float64                `json:"create_time"`
	Mapping    map[string]chatgptNode `json:"mapping"`
}

type chatgptNode struct {
	Parent   *string     `json:"parent"`
	Children []string    `json:"children"`
	Message  *chatgptMsg `json:"message"`
}

type chatgptMsg struct {
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content    json.RawMessage `json:"content"`
	CreateTime float64         `json:"create_time"`
}

// ParseMany extracts every conversation in the document. Newer exports can
// bundle several conversations in one embedded JSON array; DOM exports carry
// exactly one.
func (p *ChatGPTParser) ParseMany(doc *html.Node) ([]*Conversation, error) {
	if convs := p.parseEmbeddedJSON(doc); len(convs) > 0 {
		return convs, nil
	}
	conv, err := p.Parse(doc)
	if err != nil {
		return nil, err
	}
	return []*Conversation{conv}, nil
}

func (p *ChatGPTParser) parseEmbeddedJSON(doc *html.Node) []*Conversation {
	for _, script := range findAll(doc, func(n *html.Node) bool { return n.Data == "script" }) {
		text := innerText(script)
		loc := jsonDataRe.FindStringIndex(text)
		if loc == nil {
			continue
		}
		raw := extractJSONArray(text[loc[1]-1:])
		if raw == "" {
			continue
		}
		var exports []chatgptExport
		if err := json.Unmarshal([]byte(raw), &exports); err != nil || len(exports) == 0 {
			continue
		}
		// Empty conversations are kept so callers can report them; the
		// script only counts as a match when something in it has messages.
		convs := make([]*Conversation, 0, len(exports))
		withMessages := 0
		for _, exp := range exports {
			conv := p.fromExport(exp)
			convs = append(convs, conv)
			if len(conv.Messages) > 0 {
				withMessages++
			}
		}
		if withMessages > 0 {
			return convs
		}
	}
	return nil
}

// extractJSONArray returns the complete bracket-balanced JSON array starting
// at text[0] == '['.
func extractJSONArray(text string) string {
	depth := 0
	inString := false
	escaped := false
	for i, r := range text {
		if escaped {
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '"':
			inString = !inString
		case '[', '{':
			if !inString {
				depth++
			}
		case ']', '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[:i+1]
				}
			}
		}
	}
	return ""
}

func (p *ChatGPTParser) fromExport(exp chatgptExport) *Conversation {
	conv := &Conversation{Title: exp.Title}
	if conv.Title == "" {
		conv.Title = "Untitled Conversation"
	}
	if exp.CreateTime > 0 {
		t := time.Unix(int64(exp.CreateTime), 0).UTC()
		conv.CreatedAt = &t
	}

	rootID := ""
	for id, node := range exp.Mapping {
		if node.Parent == nil || id == "client-created-root" {
			rootID = id
			break
		}
	}
	if rootID != "" {
		conv.Messages = traverseMapping(exp.Mapping, rootID, nil)
	}
	if len(conv.Messages) == 0 {
		conv.Messages = flatMapping(exp.Mapping)
	}
	for i := range conv.Messages {
		conv.Messages[i].Sequence = i
	}
	return conv
}

func traverseMapping(mapping map[string]chatgptNode, id string, acc []Message) []Message {
	node, ok := mapping[id]
	if !ok {
		return acc
	}
	if content, role, ok := messageFromNode(node); ok && role != "system" {
		acc = append(acc, Message{Role: role, Content: content})
	}
	for _, child := range node.Children {
		acc = traverseMapping(mapping, child, acc)
	}
	return acc
}

func flatMapping(mapping map[string]chatgptNode) []Message {
	type timed struct {
		msg Message
		at  float64
	}
	var out []timed
	for _, node := range mapping {
		content, role, ok := messageFromNode(node)
		if !ok || role == "system" {
			continue
		}
		at := 0.0
		if node.Message != nil {
			at = node.Message.CreateTime
		}
		out = append(out, timed{msg: Message{Role: role, Content: content}, at: at})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at < out[j].at })

	msgs := make([]Message, 0, len(out))
	for _, t := range out {
		msgs = append(msgs, t.msg)
	}
	return msgs
}

// messageFromNode flattens a mapping node's content parts to text.
func messageFromNode(node chatgptNode) (content, role string, ok bool) {
	if node.Message == nil {
		return "", "", false
	}
	role = normalizeRole(node.Message.Author.Role)

	var parts []string
	var obj struct {
		Parts []json.RawMessage `json:"parts"`
	}
	if err := json.Unmarshal(node.Message.Content, &obj); err == nil && len(obj.Parts) > 0 {
		for _, raw := range obj.Parts {
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				parts = append(parts, s)
				continue
			}
			var structured struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(raw, &structured); err == nil && structured.Text != "" {
				parts = append(parts, structured.Text)
			}
		}
	} else {
		var s string
		if err := json.Unmarshal(node.Message.Content, &s); err == nil {
			parts = append(parts, s)
		}
	}

	content = strings.TrimSpace(strings.Join(parts, "\n"))
	return content, role, content != ""
}

func (p *ChatGPTParser) extractTitle(doc *html.Node) string {
	if title := documentTitle(doc); title != "" {
		title = cleanText(chatgptTitlePrefix.ReplaceAllString(title, ""))
		if title != "" && !strings.EqualFold(title, "chatgpt") {
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

func (p *ChatGPTParser) extractMessages(doc *html.Node) []Message {
	var messages []Message

	// Newer exports mark each turn with data-message-author-role.
	for _, el := range findAll(doc, func(n *html.Node) bool { return hasAttr(n, "data-message-author-role") }) {
		role, _ := attr(el, "data-message-author-role")
		content := extractMessageContent(el)
		if content == "" {
			continue
		}
		messages = append(messages, Message{
			Role:     normalizeRole(role),
			Content:  content,
			Sequence: len(messages),
		})
	}
	if len(messages) > 0 {
		return messages
	}

	// Older exports use message-classed containers; role comes from class
	// names, alternating user/assistant when ambiguous.
	for _, el := range findAll(doc, func(n *html.Node) bool {
		return isTag(n, "div", "article") && classMatches(n, messageClassRe)
	}) {
		classes := classAttr(el)
		var role string
		switch {
		case strings.Contains(classes, "user"), strings.Contains(classes, "human"):
			role = "user"
		case strings.Contains(classes, "assistant"), strings.Contains(classes, "gpt"), strings.Contains(classes, "ai"):
			role = "assistant"
		default:
			role = alternatingRole(len(messages))
		}
		content := extractMessageContent(el)
		if content == "" {
			continue
		}
		messages = append(messages, Message{Role: role, Content: content, Sequence: len(messages)})
	}
	if len(messages) > 0 {
		return messages
	}

	return paragraphFallback(doc)
}

// extractMessageContent pulls the content area out of a message container.
func extractMessageContent(el *html.Node) string {
	content := el
	if inner := findFirst(el, func(n *html.Node) bool {
		return n != el && classMatches(n, contentClassRe)
	}); inner != nil {
		content = inner
	}
	return structuredText(content)
}

// paragraphFallback treats bare paragraphs as alternating turns. Very short
// paragraphs are navigation chrome, not conversation.
func paragraphFallback(doc *html.Node) []Message {
	var messages []Message
	for _, pEl := range findAll(doc, func(n *html.Node) bool { return n.Data == "p" }) {
		content := cleanText(innerText(pEl))
		if len(content) <= 10 {
			continue
		}
		messages = append(messages, Message{
			Role:     alternatingRole(len(messages)),
			Content:  content,
			Sequence: len(messages),
		})
	}
	return messages
}

func alternatingRole(i int) string {
	if i%2 == 0 {
		return "user"
	}
	return "assistant"
}
