package mailstore

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
)

type ImapDialerFunc func(string, *imapclient.Options) (*imapclient.Client, error)

// NewIMAPDialer returns a Dialer producing go-imap backed sessions.
// dial is usually imapclient.DialTLS or imapclient.DialStartTLS.
func NewIMAPDialer(dial ImapDialerFunc, options *imapclient.Options) Dialer {
	return DialerFunc(func(address string) (Session, error) {
		client, err := dial(address, options)
		if err != nil {
			return nil, err
		}

		return &imapSession{client: client}, nil
	})
}

// imapSession issues UID commands, so message references are UIDs
// rendered in decimal.
type imapSession struct {
	client *imapclient.Client
}

func (s *imapSession) Login(login, password string) error {
	if s.client.Caps().Has(imap.AuthCap(sasl.Plain)) {
		err := s.client.Authenticate(sasl.NewPlainClient("", login, password))
		return statusErr("AUTHENTICATE", err)
	}

	return statusErr("LOGIN", s.client.Login(login, password).Wait())
}

func (s *imapSession) List() ([]string, error) {
	mailboxes, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return nil, statusErr("LIST", err)
	}

	lines := make([]string, 0, len(mailboxes))
	for _, mbox := range mailboxes {
		lines = append(lines, formatListLine(mbox))
	}

	return lines, nil
}

func (s *imapSession) Select(folder string) error {
	_, err := s.client.Select(folder, nil).Wait()
	return statusErr("SELECT", err)
}

func (s *imapSession) Search(criteria *imap.SearchCriteria) ([]string, error) {
	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, statusErr("UID SEARCH", err)
	}

	uids := data.AllUIDs()
	refs := make([]string, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, strconv.FormatUint(uint64(uid), 10))
	}

	return refs, nil
}

func (s *imapSession) Fetch(ref string) ([]byte, error) {
	uids, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	fetchCmd := s.client.Fetch(uids, fetchOptions)
	defer func() {
		_ = fetchCmd.Close()
	}()

	msg := fetchCmd.Next()
	if msg == nil {
		if err = fetchCmd.Close(); err != nil {
			return nil, statusErr("UID FETCH", err)
		}
		return nil, &ProtocolError{Command: "UID FETCH", Err: fmt.Errorf("no message with UID %s", ref)}
	}

	for {
		item := msg.Next()
		if item == nil {
			break
		}

		section, ok := item.(imapclient.FetchItemDataBodySection)
		if !ok || section.Literal == nil {
			continue
		}

		body, err := io.ReadAll(section.Literal)
		if err != nil {
			return nil, fmt.Errorf("read body section: %w", err)
		}

		return body, nil
	}

	return nil, &ProtocolError{Command: "UID FETCH", Err: errors.New("message body section is missing")}
}

func (s *imapSession) Copy(ref, folder string) error {
	uids, err := parseRef(ref)
	if err != nil {
		return err
	}

	_, err = s.client.Copy(uids, folder).Wait()
	return statusErr("UID COPY", err)
}

func (s *imapSession) MarkDeleted(ref string) error {
	uids, err := parseRef(ref)
	if err != nil {
		return err
	}

	err = s.client.Store(uids, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
	return statusErr("UID STORE", err)
}

func (s *imapSession) Expunge() error {
	return statusErr("EXPUNGE", s.client.Expunge().Close())
}

func (s *imapSession) Logout() error {
	err := s.client.Logout().Wait()
	if closeErr := s.client.Close(); err == nil {
		err = closeErr
	}

	return statusErr("LOGOUT", err)
}

// statusErr marks errors carrying a server status response as
// protocol errors; transport errors pass through unchanged.
func statusErr(command string, err error) error {
	if err == nil {
		return nil
	}

	var imapErr *imap.Error
	if errors.As(err, &imapErr) {
		return &ProtocolError{Command: command, Err: err}
	}

	return err
}

func parseRef(ref string) (imap.UIDSet, error) {
	uid, err := strconv.ParseUint(ref, 10, 32)
	if err != nil || uid == 0 {
		return nil, &ProtocolError{Command: "UID", Err: fmt.Errorf("invalid message reference %q", ref)}
	}

	return imap.UIDSetNum(imap.UID(uid)), nil
}

// formatListLine renders a LIST response in its wire form.
func formatListLine(data *imap.ListData) string {
	attrs := make([]string, 0, len(data.Attrs))
	for _, attr := range data.Attrs {
		attrs = append(attrs, string(attr))
	}

	delim := "NIL"
	if data.Delim != 0 {
		delim = quoteAtom(string(data.Delim))
	}

	return fmt.Sprintf("(%s) %s %s", strings.Join(attrs, " "), delim, quoteAtom(data.Mailbox))
}

var fetchOptions = &imap.FetchOptions{
	UID:         true,
	BodySection: []*imap.FetchItemBodySection{{Peek: true}},
}
