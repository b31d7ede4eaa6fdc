package mailer

import (
	"fmt"
	"strings"
	"time"
)

// Message is a read-only snapshot of a fetched message.
type Message struct {
	Ref        string
	MessageID  string
	From       []Address
	Subject    string
	DateHeader string
	Date       time.Time // zero when DateHeader is absent or unparseable
	BodyParts  []BodySegment
}

type BodySegment struct {
	MIMEType string
	Charset  string
	Text     string
	Raw      bool // decoding failed, Text holds the undecoded bytes
}

type Address struct {
	Address string
	Name    string
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

// Sender returns the From header as a single line.
func (m *Message) Sender() string {
	addrs := make([]string, 0, len(m.From))
	for _, addr := range m.From {
		addrs = append(addrs, addr.String())
	}

	return strings.Join(addrs, ", ")
}

// Body concatenates the text of all body parts.
func (m *Message) Body() string {
	texts := make([]string, 0, len(m.BodyParts))
	for _, part := range m.BodyParts {
		if text := strings.TrimSpace(part.Text); text != "" {
			texts = append(texts, text)
		}
	}

	return strings.Join(texts, "\n\n")
}

// ClassifierInput assembles the text blob sent to the classifier.
// The body is cut to maxBody bytes when maxBody is positive.
func (m *Message) ClassifierInput(maxBody int) string {
	body := m.Body()
	if maxBody > 0 && len(body) > maxBody {
		body = truncateUTF8(body, maxBody)
	}

	return fmt.Sprintf("From: %s\nSubject: %s\nBody: %s", m.Sender(), m.Subject, body)
}

// SentOn reports whether the message date falls on the same calendar day
// as now. The comparison happens in the message's own time zone. Messages
// without a usable date never match.
func (m *Message) SentOn(now time.Time) bool {
	if m.Date.IsZero() {
		return false
	}

	y1, m1, d1 := m.Date.Date()
	y2, m2, d2 := now.In(m.Date.Location()).Date()

	return y1 == y2 && m1 == m2 && d1 == d2
}

func truncateUTF8(s string, n int) string {
	if n >= len(s) {
		return s
	}

	for n > 0 && n < len(s) && !isRuneStart(s[n]) {
		n--
	}

	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
