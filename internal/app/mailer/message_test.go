package mailer

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartMessage = "From: Jane Doe <jane@example.com>\r\n" +
	"To: me@example.com\r\n" +
	"Subject: Weekly digest\r\n" +
	"Date: Tue, 15 Oct 2024 09:30:00 +0200\r\n" +
	"Message-Id: <digest-42@example.com>\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=outer\r\n" +
	"\r\n" +
	"--outer\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Plain part\r\n" +
	"--outer\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>HTML <b>part</b></p>\r\n" +
	"--outer\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=report.pdf\r\n" +
	"\r\n" +
	"%PDF-1.4\r\n" +
	"--outer--\r\n"

func TestParse(t *testing.T) {
	msg := Parse("7", []byte(multipartMessage))

	assert.Equal(t, "7", msg.Ref)
	assert.Equal(t, "Jane Doe <jane@example.com>", msg.Sender())
	assert.Equal(t, "Weekly digest", msg.Subject)
	assert.Equal(t, "digest-42@example.com", msg.MessageID)
	assert.Equal(t, "Tue, 15 Oct 2024 09:30:00 +0200", msg.DateHeader)

	require.Len(t, msg.BodyParts, 2)
	assert.Equal(t, "text/plain", msg.BodyParts[0].MIMEType)
	assert.Equal(t, "text/html", msg.BodyParts[1].MIMEType)
	assert.Contains(t, msg.Body(), "Plain part")
	assert.Contains(t, msg.Body(), "HTML part")
	assert.NotContains(t, msg.Body(), "<b>")
	assert.NotContains(t, msg.Body(), "PDF")
}

func TestParseUnknownCharset(t *testing.T) {
	raw := "From: a@example.com\r\n" +
		"Subject: odd\r\n" +
		"Content-Type: text/plain; charset=x-made-up\r\n" +
		"\r\n" +
		"still readable\r\n"

	msg := Parse("1", []byte(raw))

	require.Len(t, msg.BodyParts, 1)
	assert.True(t, msg.BodyParts[0].Raw)
	assert.Contains(t, msg.Body(), "still readable")
}

func TestParseGarbage(t *testing.T) {
	msg := Parse("1", []byte("not a message at all"))

	require.NotEmpty(t, msg.BodyParts)
	assert.Contains(t, msg.Body(), "not a message at all")
}

func TestClassifierInput(t *testing.T) {
	msg := &Message{
		From:    []Address{{Address: "news@example.com"}},
		Subject: "Hello",
		BodyParts: []BodySegment{
			{MIMEType: "text/plain", Text: "first"},
			{MIMEType: "text/plain", Text: "  "},
			{MIMEType: "text/plain", Text: "second"},
		},
	}

	assert.Equal(t, "From: news@example.com\nSubject: Hello\nBody: first\n\nsecond", msg.ClassifierInput(0))
	assert.Equal(t, "From: news@example.com\nSubject: Hello\nBody: fir", msg.ClassifierInput(3))
}

func TestTruncateUTF8(t *testing.T) {
	s := "héllo"

	assert.Equal(t, "h", truncateUTF8(s, 2))
	assert.Equal(t, "hé", truncateUTF8(s, 3))
	assert.Equal(t, s, truncateUTF8(s, 100))
}

func TestSentOn(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*60*60)
	now := time.Date(2024, time.October, 15, 23, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		date time.Time
		want bool
	}{
		{"same day utc", time.Date(2024, time.October, 15, 1, 0, 0, 0, time.UTC), true},
		{"previous day utc", time.Date(2024, time.October, 14, 23, 59, 0, 0, time.UTC), false},
		// 23:30 UTC is already the 16th in Tokyo.
		{"sender zone ahead", time.Date(2024, time.October, 16, 7, 0, 0, 0, tokyo), true},
		{"sender zone previous day", time.Date(2024, time.October, 15, 7, 0, 0, 0, tokyo), false},
		{"no date", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{Date: tt.date}
			assert.Equal(t, tt.want, msg.SentOn(now))
		})
	}
}

func TestSentOnParsedHeader(t *testing.T) {
	raw := "From: a@example.com\r\nDate: Tue, 15 Oct 2024 09:30:00 +0200\r\n\r\nhi\r\n"
	msg := Parse("1", []byte(raw))

	assert.True(t, msg.SentOn(time.Date(2024, time.October, 15, 20, 0, 0, 0, time.UTC)))

	noDate := Parse("2", []byte(strings.Replace(raw, "Date: Tue, 15 Oct 2024 09:30:00 +0200\r\n", "", 1)))
	assert.Empty(t, noDate.DateHeader)
	assert.False(t, noDate.SentOn(time.Now()))
}
