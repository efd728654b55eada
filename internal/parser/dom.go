package parser

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Small DOM query layer over x/net/html. The vendor exports are scraped with
// heuristics, so everything here is predicate-driven rather than selector
// based.

func parseHTML(raw string) (*html.Node, error) {
	return html.Parse(strings.NewReader(raw))
}

// walk visits every element node until visit returns false.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if n.Type == html.ElementNode {
		if !visit(n) {
			return false
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walk(c, visit) {
			return false
		}
	}
	return true
}

// findFirst returns the first element satisfying pred in document order.
func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	var found *html.Node
	walk(root, func(n *html.Node) bool {
		if pred(n) {
			found = n
			return false
		}
		return true
	})
	return found
}

// findAll returns every element satisfying pred in document order.
func findAll(root *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	walk(root, func(n *html.Node) bool {
		if pred(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, name string) bool {
	_, ok := attr(n, name)
	return ok
}

func isTag(n *html.Node, names ...string) bool {
	for _, name := range names {
		if n.Data == name {
			return true
		}
	}
	return false
}

func classAttr(n *html.Node) string {
	v, _ := attr(n, "class")
	return strings.ToLower(v)
}

func classMatches(n *html.Node, re *regexp.Regexp) bool {
	return re.MatchString(classAttr(n))
}

var collapseWS = regexp.MustCompile(`\s+`)

// cleanText collapses all whitespace runs to single spaces and trims.
func cleanText(s string) string {
	return strings.TrimSpace(collapseWS.ReplaceAllString(s, " "))
}

// innerText returns the raw concatenated text of a subtree.
func innerText(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
	}
	rec(n)
	return b.String()
}

// structuredText extracts text treating <br> and block boundaries as
// newlines and rendering <pre>/<code> blocks as fenced code.
func structuredText(n *html.Node) string {
	var b strings.Builder
	var rec func(*html.Node)
	rec = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.Data {
			case "br":
				b.WriteString("\n")
				return
			case "button", "svg", "img", "script", "style":
				return
			case "pre":
				lang := "text"
				if c := findFirst(n, func(m *html.Node) bool { return m.Data == "code" }); c != nil {
					if cls := classAttr(c); cls != "" {
						lang = strings.TrimPrefix(strings.Fields(cls)[0], "language-")
					}
				}
				b.WriteString("\n```" + lang + "\n")
				b.WriteString(strings.TrimRight(innerText(n), "\n"))
				b.WriteString("\n```\n")
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			rec(c)
		}
		if n.Type == html.ElementNode && isTag(n, "p", "div", "li", "h1", "h2", "h3", "h4") {
			b.WriteString("\n")
		}
	}
	rec(n)

	text := b.String()
	// Collapse horizontal whitespace per line but keep the line structure
	// that code fences and paragraphs introduced.
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	inFence := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			out = append(out, strings.TrimSpace(line))
			continue
		}
		if inFence {
			out = append(out, line)
			continue
		}
		if t := cleanText(line); t != "" {
			out = append(out, t)
		}
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// documentTitle returns the cleaned contents of the <title> element.
func documentTitle(root *html.Node) string {
	if t := findFirst(root, func(n *html.Node) bool { return n.Data == "title" }); t != nil {
		return cleanText(innerText(t))
	}
	return ""
}

// metaContains reports whether any <meta> attribute value contains needle
// (case-insensitive).
func metaContains(root *html.Node, needle string) bool {
	needle = strings.ToLower(needle)
	for _, m := range findAll(root, func(n *html.Node) bool { return n.Data == "meta" }) {
		for _, a := range m.Attr {
			if strings.Contains(strings.ToLower(a.Val), needle) {
				return true
			}
		}
	}
	return false
}
