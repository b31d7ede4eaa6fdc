package mailstore

import (
	"errors"
	"io"
	"log/slog"
	"slices"

	"github.com/emersion/go-imap/v2"
)

var errRejected = errors.New("NO [AUTHENTICATIONFAILED] invalid credentials")

// fakeSession keeps folder contents in memory and records every command.
type fakeSession struct {
	folders  map[string][]string
	deleted  map[string]bool
	selected string

	listing  []string
	failOn   map[string]error
	commands []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		folders: map[string][]string{
			"INBOX":       {"1", "2", "3"},
			"Newsletters": {},
			"Spam":        {},
		},
		deleted: make(map[string]bool),
		listing: []string{
			`(\HasNoChildren) "/" "INBOX"`,
			`(\HasNoChildren) "/" "Newsletters"`,
			`(\HasNoChildren) "/" "Spam"`,
		},
		failOn: make(map[string]error),
	}
}

func (s *fakeSession) record(cmd string) error {
	s.commands = append(s.commands, cmd)
	return s.failOn[cmd]
}

func (s *fakeSession) Login(_, _ string) error {
	return s.record("LOGIN")
}

func (s *fakeSession) List() ([]string, error) {
	if err := s.record("LIST"); err != nil {
		return nil, err
	}
	return s.listing, nil
}

func (s *fakeSession) Select(folder string) error {
	if err := s.record("SELECT"); err != nil {
		return err
	}
	if _, ok := s.folders[folder]; !ok {
		return &ProtocolError{Command: "SELECT", Err: errors.New("NO mailbox does not exist")}
	}

	s.selected = folder
	return nil
}

func (s *fakeSession) Search(_ *imap.SearchCriteria) ([]string, error) {
	if err := s.record("SEARCH"); err != nil {
		return nil, err
	}
	return slices.Clone(s.folders[s.selected]), nil
}

func (s *fakeSession) Fetch(ref string) ([]byte, error) {
	if err := s.record("FETCH"); err != nil {
		return nil, err
	}
	if !slices.Contains(s.folders[s.selected], ref) {
		return nil, &ProtocolError{Command: "FETCH", Err: errors.New("no such message")}
	}
	return []byte("Subject: message " + ref + "\r\n\r\nbody"), nil
}

func (s *fakeSession) Copy(ref, folder string) error {
	if err := s.record("COPY"); err != nil {
		return err
	}
	if _, ok := s.folders[folder]; !ok {
		return &ProtocolError{Command: "COPY", Err: errors.New("NO [TRYCREATE] no such mailbox")}
	}

	s.folders[folder] = append(s.folders[folder], ref)
	return nil
}

func (s *fakeSession) MarkDeleted(ref string) error {
	if err := s.record("STORE"); err != nil {
		return err
	}

	s.deleted[ref] = true
	return nil
}

func (s *fakeSession) Expunge() error {
	if err := s.record("EXPUNGE"); err != nil {
		return err
	}

	s.folders[s.selected] = slices.DeleteFunc(s.folders[s.selected], func(ref string) bool {
		return s.deleted[ref]
	})
	clear(s.deleted)
	return nil
}

func (s *fakeSession) Logout() error {
	return s.record("LOGOUT")
}

func (s *fakeSession) ran(cmd string) bool {
	return slices.Contains(s.commands, cmd)
}

func newTestClient(session *fakeSession) *Client {
	dialer := DialerFunc(func(string) (Session, error) {
		return session, nil
	})

	return NewClient("imap.example.com:993", Credentials{Login: "user", Password: "secret"}, dialer, discardLogger())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
