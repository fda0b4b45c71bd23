package gmail

import (
	"encoding/base64"
	"strings"
)

// Message is one outbound HTML email. It is built per send request and
// never persisted.
type Message struct {
	To      string
	Subject string
	Body    string // HTML
	Cc      string
	Bcc     string
}

// Raw renders the message as an RFC 2822 style header block, a blank line
// and the HTML body, joined with CRLF line endings as the Gmail API
// expects.
func (m Message) Raw() string {
	headers := []string{
		"To: " + m.To,
		"Subject: " + m.Subject,
		"Content-Type: text/html; charset=utf-8",
		"MIME-Version: 1.0",
	}
	if m.Cc != "" {
		headers = append(headers, "Cc: "+m.Cc)
	}
	if m.Bcc != "" {
		headers = append(headers, "Bcc: "+m.Bcc)
	}

	lines := append(headers, "", m.Body)
	return strings.Join(lines, "\r\n")
}

// Encode returns the URL-safe base64 encoding of the raw message, the
// transport encoding required by the Gmail API. Padding is kept.
func (m Message) Encode() string {
	return base64.URLEncoding.EncodeToString([]byte(m.Raw()))
}
