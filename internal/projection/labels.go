package projection

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// clusterColors mirrors the palette the visualization frontend renders with.
var clusterColors = []string{
	"#9333ea", // purple
	"#3b82f6", // blue
	"#10b981", // green
	"#f59e0b", // orange
	"#ef4444", // red
	"#8b5cf6", // violet
	"#06b6d4", // cyan
	"#84cc16", // lime
	"#f97316", // deep orange
	"#ec4899", // pink
}

// ColorFor returns the display color for a cluster. Colors cycle when there
// are more clusters than palette entries.
func ColorFor(clusterID int) string {
	if clusterID < 0 {
		clusterID = -clusterID
	}
	return clusterColors[clusterID%len(clusterColors)]
}

var labelStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"about": true, "into": true, "over": true, "this": true, "that": true,
	"what": true, "when": true, "where": true, "which": true, "while": true,
	"how": true, "why": true, "who": true, "can": true, "could": true,
	"should": true, "would": true, "does": true, "did": true, "has": true,
	"have": true, "had": true, "are": true, "was": true, "were": true,
	"will": true, "not": true, "but": true, "you": true, "your": true,
	"our": true, "their": true, "there": true, "here": true, "them": true,
	"get": true, "use": true, "using": true, "new": true, "make": true,
	"need": true, "help": true, "want": true, "chat": true, "conversation": true,
}

// clusterNames derives a display name per cluster from the titles of its
// members: the two most common meaningful title words, joined with "&".
// Clusters whose titles yield nothing fall back to their members' topics,
// and finally to "Cluster k".
func clusterNames(assign []int, k int, titles []string, topics [][]string) []string {
	names := make([]string, k)
	for c := 0; c < k; c++ {
		counts := map[string]int{}
		for i, a := range assign {
			if a != c {
				continue
			}
			for _, tok := range titleTokens(titles[i]) {
				counts[tok]++
			}
		}
		if name := topTwoName(counts); name != "" {
			names[c] = name
			continue
		}

		counts = map[string]int{}
		for i, a := range assign {
			if a != c {
				continue
			}
			for _, t := range topics[i] {
				t = strings.ToLower(strings.TrimSpace(t))
				if t != "" {
					counts[t]++
				}
			}
		}
		if name := topTwoName(counts); name != "" {
			names[c] = name
			continue
		}
		names[c] = fmt.Sprintf("Cluster %d", c)
	}
	return names
}

// titleTokens lowercases a title, splits on whitespace and hyphens, strips
// punctuation, and keeps words of three letters or more that are not
// stopwords.
func titleTokens(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return unicode.IsSpace(r) || r == '-'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len(f) < 3 || labelStopwords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// topTwoName title-cases the two most frequent tokens and joins them with
// "&". Frequency ties break alphabetically.
func topTwoName(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	toks := make([]string, 0, len(counts))
	for t := range counts {
		toks = append(toks, t)
	}
	sort.Slice(toks, func(a, b int) bool {
		if counts[toks[a]] != counts[toks[b]] {
			return counts[toks[a]] > counts[toks[b]]
		}
		return toks[a] < toks[b]
	})
	if len(toks) == 1 {
		return titleCase(toks[0])
	}
	return titleCase(toks[0]) + " & " + titleCase(toks[1])
}

func titleCase(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
