package mailstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedClient(t *testing.T, session *fakeSession) *Client {
	t.Helper()

	c := newTestClient(session)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SelectFolder(context.Background(), "INBOX"))

	return c
}

func TestConnect(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticates", func(t *testing.T) {
		c := newTestClient(newFakeSession())

		require.NoError(t, c.Connect(ctx))
		assert.True(t, c.Connected())
	})

	t.Run("rejected credentials", func(t *testing.T) {
		session := newFakeSession()
		session.failOn["LOGIN"] = &ProtocolError{Command: "LOGIN", Err: errRejected}
		c := newTestClient(session)

		err := c.Connect(ctx)

		var authErr *AuthError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "user", authErr.Login)
		assert.False(t, c.Connected())
		assert.True(t, session.ran("LOGOUT"), "rejected session must be closed")
	})

	t.Run("transport failure", func(t *testing.T) {
		c := NewClient("imap.example.com:993", Credentials{}, DialerFunc(func(string) (Session, error) {
			return nil, errors.New("connection refused")
		}), discardLogger())

		err := c.Connect(ctx)

		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "imap.example.com:993", connErr.Address)
		assert.False(t, c.Connected())
	})

	t.Run("connection dropped during login", func(t *testing.T) {
		session := newFakeSession()
		session.failOn["LOGIN"] = errors.New("EOF")
		c := newTestClient(session)

		var connErr *ConnectionError
		require.ErrorAs(t, c.Connect(ctx), &connErr)
		assert.False(t, c.Connected())
	})

	t.Run("opens a single session", func(t *testing.T) {
		dials := 0
		c := NewClient("imap.example.com:993", Credentials{}, DialerFunc(func(string) (Session, error) {
			dials++
			return newFakeSession(), nil
		}), discardLogger())

		require.NoError(t, c.Connect(ctx))
		require.NoError(t, c.Connect(ctx))
		assert.Equal(t, 1, dials)
	})
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()

	t.Run("twice in a row", func(t *testing.T) {
		c := connectedClient(t, newFakeSession())

		c.Disconnect(ctx)
		assert.False(t, c.Connected())
		assert.Empty(t, c.Selected())

		c.Disconnect(ctx)
		assert.False(t, c.Connected())
	})

	t.Run("failed logout still clears state", func(t *testing.T) {
		session := newFakeSession()
		c := connectedClient(t, session)
		session.failOn["LOGOUT"] = errors.New("broken pipe")

		c.Disconnect(ctx)
		assert.False(t, c.Connected())
	})

	t.Run("never connected", func(t *testing.T) {
		c := newTestClient(newFakeSession())

		c.Disconnect(ctx)
		assert.False(t, c.Connected())
	})
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	session := newFakeSession()
	c := newTestClient(session)

	folders, err := c.ListFolders(ctx)
	require.NoError(t, err)
	assert.Empty(t, folders)

	refs, err := c.Search(ctx, "ALL")
	require.NoError(t, err)
	assert.Empty(t, refs)

	assert.ErrorIs(t, c.SelectFolder(ctx, "INBOX"), ErrNotConnected)

	_, err = c.Fetch(ctx, "1")
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.ErrorIs(t, c.Move(ctx, "1", "Spam"), ErrNotConnected)

	assert.Empty(t, session.commands, "no command may reach the server without a session")
}

func TestListFolders(t *testing.T) {
	session := newFakeSession()
	session.listing = []string{
		`(\HasNoChildren) "/" "INBOX"`,
		`(\HasChildren \Noselect) "/" "[Gmail]"`,
		`(\HasNoChildren) "/" "INBOX/Important"`,
		`garbage without flags`,
		`(\HasNoChildren) "/" "Unterminated`,
		`(\HasNoChildren) NIL Archives`,
	}
	c := connectedClient(t, session)

	folders, err := c.ListFolders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"INBOX", "[Gmail]", "INBOX/Important", "Archives"}, folders)
}

func TestSelectFolder(t *testing.T) {
	ctx := context.Background()
	c := connectedClient(t, newFakeSession())

	require.NoError(t, c.SelectFolder(ctx, "Spam"))
	assert.Equal(t, "Spam", c.Selected())

	err := c.SelectFolder(ctx, "Missing")
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Empty(t, c.Selected())

	refs, err := c.Search(ctx, "ALL")
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	c := connectedClient(t, newFakeSession())

	refs, err := c.Search(ctx, "UNSEEN")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, refs)

	_, err = c.Search(ctx, "FROM == 'unterminated")
	assert.Error(t, err)
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	c := connectedClient(t, newFakeSession())

	body, err := c.Fetch(ctx, "2")
	require.NoError(t, err)
	assert.Contains(t, string(body), "message 2")

	body, err = c.Fetch(ctx, "42")
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Nil(t, body)
}

func TestMove(t *testing.T) {
	ctx := context.Background()

	t.Run("all steps succeed", func(t *testing.T) {
		session := newFakeSession()
		c := connectedClient(t, session)

		require.NoError(t, c.Move(ctx, "2", "Newsletters"))

		assert.Equal(t, []string{"1", "3"}, session.folders["INBOX"])
		assert.Equal(t, []string{"2"}, session.folders["Newsletters"])
		assert.Equal(t, []string{"LOGIN", "SELECT", "COPY", "STORE", "EXPUNGE"}, session.commands)
	})

	t.Run("copy fails", func(t *testing.T) {
		session := newFakeSession()
		session.failOn["COPY"] = &ProtocolError{Command: "COPY", Err: errors.New("NO over quota")}
		c := connectedClient(t, session)

		err := c.Move(ctx, "2", "Newsletters")

		var moveErr *MoveError
		require.ErrorAs(t, err, &moveErr)
		assert.Equal(t, StageCopy, moveErr.Stage)
		assert.False(t, moveErr.Duplicated)
		assert.False(t, session.ran("STORE"))
		assert.False(t, session.ran("EXPUNGE"))
		assert.Equal(t, []string{"1", "2", "3"}, session.folders["INBOX"])
		assert.Empty(t, session.folders["Newsletters"])
	})

	t.Run("store fails leaves duplicate", func(t *testing.T) {
		session := newFakeSession()
		session.failOn["STORE"] = &ProtocolError{Command: "STORE", Err: errors.New("NO permission denied")}
		c := connectedClient(t, session)

		err := c.Move(ctx, "2", "Newsletters")

		var moveErr *MoveError
		require.ErrorAs(t, err, &moveErr)
		assert.Equal(t, StageStore, moveErr.Stage)
		assert.True(t, moveErr.Duplicated)
		assert.False(t, session.ran("EXPUNGE"))
		assert.Contains(t, session.folders["INBOX"], "2")
		assert.Contains(t, session.folders["Newsletters"], "2")
		assert.False(t, session.deleted["2"])
	})

	t.Run("expunge fails without rollback", func(t *testing.T) {
		session := newFakeSession()
		session.failOn["EXPUNGE"] = errors.New("connection reset")
		c := connectedClient(t, session)

		err := c.Move(ctx, "2", "Newsletters")

		var moveErr *MoveError
		require.ErrorAs(t, err, &moveErr)
		assert.Equal(t, StageExpunge, moveErr.Stage)
		assert.False(t, moveErr.Duplicated)
		assert.True(t, session.deleted["2"], "deletion flag stays set for a later expunge")
		assert.Contains(t, session.folders["INBOX"], "2")
		assert.Equal(t, []string{"2"}, session.folders["Newsletters"])
		assert.Equal(t, []string{"LOGIN", "SELECT", "COPY", "STORE", "EXPUNGE"}, session.commands)

		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
		assert.Equal(t, "EXPUNGE", protoErr.Command)
	})

	t.Run("requires selected folder", func(t *testing.T) {
		session := newFakeSession()
		c := newTestClient(session)
		require.NoError(t, c.Connect(ctx))

		assert.ErrorIs(t, c.Move(ctx, "2", "Spam"), ErrNoFolderSelected)
		assert.False(t, session.ran("COPY"))
	})
}
