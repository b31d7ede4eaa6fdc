package mailstore

import (
	"github.com/emersion/go-imap/v2"
)

// Session is a single authenticated, stateful connection to the mail store.
//
// Every method is one round trip. Implementations return *ProtocolError
// when the server answered with a non-OK status and a plain error when the
// transport itself failed. Message references are opaque strings which are
// only meaningful inside the currently selected folder.
type Session interface {
	Login(login, password string) error
	// List returns the raw folder listing lines, one per folder,
	// in the form `(<flags>) "<separator>" "<folder name>"`.
	List() ([]string, error)
	Select(folder string) error
	Search(criteria *imap.SearchCriteria) ([]string, error)
	Fetch(ref string) ([]byte, error)
	Copy(ref, folder string) error
	MarkDeleted(ref string) error
	Expunge() error
	Logout() error
}

// Dialer opens the transport to the mail store.
type Dialer interface {
	Dial(address string) (Session, error)
}

type DialerFunc func(address string) (Session, error)

func (f DialerFunc) Dial(address string) (Session, error) {
	return f(address)
}
