package gmail

import (
	"encoding/base64"
	"io"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"time"

	"github.com/dvloznov/settlement-ledger/internal/extract"
	gmailapi "google.golang.org/api/gmail/v1"
)

var wordDecoder = new(mime.WordDecoder)

// walkParts flattens a MIME tree depth-first into decoded parts.
func walkParts(p *gmailapi.MessagePart, out []extract.Part) []extract.Part {
	if p == nil {
		return out
	}
	if p.Body != nil && p.Body.Data != "" {
		if content, ok := decodeBody(p.Body.Data); ok {
			if isQuotedPrintable(p.Headers) {
				content = decodeQuotedPrintable(content)
			}
			out = append(out, extract.Part{MIMEType: p.MimeType, Content: content})
		}
	}
	for _, child := range p.Parts {
		out = walkParts(child, out)
	}
	return out
}

func composeBody(payload *gmailapi.MessagePart) string {
	return extract.ComposeBody(walkParts(payload, nil))
}

// decodeBody decodes Gmail's base64url part data, with or without padding.
func decodeBody(data string) (string, bool) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func isQuotedPrintable(headers []*gmailapi.MessagePartHeader) bool {
	return strings.EqualFold(strings.TrimSpace(header(headers, "Content-Transfer-Encoding")), "quoted-printable")
}

// decodeQuotedPrintable undoes a quoted-printable transfer encoding left on a
// part. Malformed input is returned unchanged.
func decodeQuotedPrintable(s string) string {
	b, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(s)))
	if err != nil {
		return s
	}
	return string(b)
}

func header(headers []*gmailapi.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// decodeHeader expands RFC 2047 encoded words. Undecodable input is returned
// as-is.
func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

func parseDate(v string) (time.Time, bool) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, false
	}
	t, err := mail.ParseDate(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
