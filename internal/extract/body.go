package extract

import "strings"

// Part is one MIME body part in traversal order.
type Part struct {
	MIMEType string
	Content  string
}

// ComposeBody concatenates every text part of a message: plain text verbatim,
// HTML converted with HTMLToText. Other parts are ignored. The result is a
// superset blob; it can repeat the same sentence when a message carries both
// alternatives.
func ComposeBody(parts []Part) string {
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		var text string
		switch mediaType(p.MIMEType) {
		case "text/plain":
			text = p.Content
		case "text/html":
			text = HTMLToText(p.Content)
		default:
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			chunks = append(chunks, text)
		}
	}
	return strings.Join(chunks, "\n")
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
