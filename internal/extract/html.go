package extract

import (
	"strings"

	"golang.org/x/net/html"
)

var lineBreakTags = map[string]bool{
	"br": true, "p": true, "div": true, "tr": true, "td": true, "th": true,
	"li": true, "table": true, "h1": true, "h2": true, "h3": true, "h4": true,
	"h5": true, "h6": true,
}

var droppedTags = map[string]bool{
	"head":   true,
	"style":  true,
	"script": true,
}

// HTMLToText flattens an HTML body for pattern matching. Block-level tags
// start and end a line, head, style and script content is dropped and entities are
// decoded by the tokenizer.
func HTMLToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))

	var b strings.Builder
	dropping := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return tidy(b.String())

		case html.TextToken:
			if dropping == 0 {
				b.Write(z.Text())
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if droppedTags[tag] && tt == html.StartTagToken {
				dropping++
				continue
			}
			if tag == "br" {
				b.WriteByte('\n')
			} else if lineBreakTags[tag] {
				breakLine(&b)
			}

		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if droppedTags[tag] {
				if dropping > 0 {
					dropping--
				}
				continue
			}
			if lineBreakTags[tag] && tag != "br" {
				breakLine(&b)
			}
		}
	}
}

// breakLine ends the current line unless the output is empty or already at
// the start of a line.
func breakLine(b *strings.Builder) {
	s := strings.TrimRight(b.String(), " \t\r")
	if s == "" || strings.HasSuffix(s, "\n") {
		return
	}
	b.WriteByte('\n')
}

// tidy turns non-breaking spaces into plain ones, trims each line and
// collapses runs of blank lines.
func tidy(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
