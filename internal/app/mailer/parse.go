package mailer

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"jaytaylor.com/html2text"
)

var htmlToTextOpts = html2text.Options{TextOnly: true}

// Parse reduces a raw RFC 5322 message to a Message. It never fails:
// parts which cannot be decoded are kept as undecoded text and marked Raw,
// and a message which cannot be parsed at all becomes a single raw part.
func Parse(ref string, raw []byte) *Message {
	msg := &Message{Ref: ref}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if mr == nil {
		msg.BodyParts = []BodySegment{rawSegment(raw)}
		return msg
	}
	defer func() {
		_ = mr.Close()
	}()

	msg.From = parseAddress(mr.Header, "From")
	msg.Subject, _ = mr.Header.Subject()
	msg.MessageID, _ = mr.Header.MessageID()
	msg.DateHeader = mr.Header.Get("Date")
	if msg.DateHeader != "" {
		msg.Date, _ = mr.Header.Date()
	}

	if err != nil && !message.IsUnknownCharset(err) {
		msg.BodyParts = []BodySegment{rawSegment(raw)}
		return msg
	}
	degraded := err != nil

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if part == nil {
			// Structure is broken past this point, keep what was decoded.
			if len(msg.BodyParts) == 0 {
				msg.BodyParts = []BodySegment{rawSegment(raw)}
			}
			break
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		segment, ok := parseBodyPart(part, header, degraded || err != nil)
		if ok {
			msg.BodyParts = append(msg.BodyParts, segment)
		}
	}

	return msg
}

func parseBodyPart(part *mail.Part, header *mail.InlineHeader, undecoded bool) (BodySegment, bool) {
	mimeType, params, err := header.ContentType()
	if err != nil || mimeType == "" {
		mimeType = "text/plain"
	}
	if !strings.HasPrefix(mimeType, "text/") {
		return BodySegment{}, false
	}

	segment := BodySegment{
		MIMEType: mimeType,
		Charset:  params["charset"],
		Raw:      undecoded,
	}

	body, err := io.ReadAll(part.Body)
	if err != nil {
		segment.Raw = true
	}

	segment.Text = string(body)
	if mimeType == "text/html" {
		if text, err := html2text.FromString(segment.Text, htmlToTextOpts); err == nil {
			segment.Text = text
		}
	}

	return segment, true
}

func rawSegment(raw []byte) BodySegment {
	return BodySegment{
		MIMEType: "text/plain",
		Text:     string(raw),
		Raw:      true,
	}
}

func parseAddress(header mail.Header, addressListName string) []Address {
	addrList, err := header.AddressList(addressListName)
	if err != nil && len(addrList) == 0 {
		if v := header.Get(addressListName); v != "" {
			return []Address{{Address: v}}
		}
	}

	addrs := make([]Address, 0, len(addrList))
	for _, addr := range addrList {
		addrs = append(addrs, Address{
			Name:    addr.Name,
			Address: addr.Address,
		})
	}

	return addrs
}
