package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hickar/mailtriage/internal/app/config"
	"github.com/hickar/mailtriage/internal/app/journal"
	"github.com/hickar/mailtriage/internal/app/mailstore"
	"github.com/hickar/mailtriage/internal/app/mover"
)

type listingSession struct {
	mailstore.Session
	lines     []string
	loggedOut bool
}

func (s *listingSession) Login(string, string) error { return nil }

func (s *listingSession) List() ([]string, error) { return s.lines, nil }

func (s *listingSession) Logout() error {
	s.loggedOut = true
	return nil
}

func TestPrintFolders(t *testing.T) {
	session := &listingSession{lines: []string{
		`(\HasNoChildren) "/" "INBOX"`,
		`(\HasNoChildren) "/" "Newsletters"`,
		`(\HasNoChildren \Junk) "/" "Spam"`,
	}}
	store := mailstore.NewClient("imap.example.com:993",
		mailstore.Credentials{Login: "me", Password: "secret"},
		mailstore.DialerFunc(func(string) (mailstore.Session, error) { return session, nil }),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	var out bytes.Buffer
	require.NoError(t, printFolders(context.Background(), &out, store))

	assert.Equal(t, "INBOX\nNewsletters\nSpam\n", out.String())
	assert.True(t, session.loggedOut)
	assert.False(t, store.Connected())
}

func TestPrintJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := journal.Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, j.Record(ctx, journal.Entry{RunID: "r1", Folder: "INBOX", Ref: "7", Outcome: journal.OutcomeMoved, Subject: "fine"}))
	require.NoError(t, j.Record(ctx, journal.Entry{RunID: "r1", Folder: "INBOX", Ref: "8", Outcome: journal.OutcomeDuplicated, Target: "Spam", Subject: "twice"}))
	require.NoError(t, j.Close())

	var out bytes.Buffer
	require.NoError(t, printJournal(ctx, &out, path, 10))

	assert.Contains(t, out.String(), "duplicated")
	assert.Contains(t, out.String(), "twice")
	assert.NotContains(t, out.String(), "fine")
}

func TestPrintJournalNotConfigured(t *testing.T) {
	err := printJournal(context.Background(), io.Discard, "", 10)
	assert.EqualError(t, err, "journal_path is not configured")
}

func TestMoveMessagesUnknownFolder(t *testing.T) {
	prev := *moveTo
	*moveTo = "Receipts"
	t.Cleanup(func() { *moveTo = prev })

	session := &listingSession{}
	store := mailstore.NewClient("imap.example.com:993",
		mailstore.Credentials{Login: "me", Password: "secret"},
		mailstore.DialerFunc(func(string) (mailstore.Session, error) { return session, nil }),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	err := moveMessages(context.Background(), config.Config{}, store, journal.Nop{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.ErrorIs(t, err, mover.ErrUnknownFolder)
	assert.False(t, store.Connected())
}

func TestMoveMessagesInvalidPattern(t *testing.T) {
	prev := *subjectMatch
	*subjectMatch = "(unclosed"
	t.Cleanup(func() { *subjectMatch = prev })

	err := moveMessages(context.Background(), config.Config{}, nil, journal.Nop{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.ErrorContains(t, err, "subject pattern")
}
