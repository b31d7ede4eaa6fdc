package mailstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type Credentials struct {
	Login    string
	Password string
}

// Client owns a single Session for the duration of a run and exposes the
// store operations the triage loop needs. It is not safe for concurrent use:
// the protocol does not allow multiplexed commands on one connection.
type Client struct {
	address string
	creds   Credentials
	dialer  Dialer
	logger  *slog.Logger

	session  Session
	selected string
}

func NewClient(address string, creds Credentials, dialer Dialer, logger *slog.Logger) *Client {
	return &Client{
		address: address,
		creds:   creds,
		dialer:  dialer,
		logger:  logger,
	}
}

// Connected reports whether the client holds an authenticated session.
func (c *Client) Connected() bool {
	return c.session != nil
}

// Selected returns the active folder, or an empty string.
func (c *Client) Selected() string {
	return c.selected
}

// Connect dials the server and authenticates. Calling it on a connected
// client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.session != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	session, err := c.dialer.Dial(c.address)
	if err != nil {
		return &ConnectionError{Address: c.address, Err: err}
	}

	if err = session.Login(c.creds.Login, c.creds.Password); err != nil {
		if logoutErr := session.Logout(); logoutErr != nil {
			c.logger.DebugContext(ctx, "closing rejected session", slog.Any("error", logoutErr))
		}

		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			return &AuthError{Login: c.creds.Login, Err: err}
		}
		return &ConnectionError{Address: c.address, Err: err}
	}

	c.session = session
	c.selected = ""
	c.logger.InfoContext(ctx, "connected to mail store", slog.String("address", c.address))

	return nil
}

// Disconnect logs out and clears the session. A failed logout is logged,
// never returned. Safe to call repeatedly.
func (c *Client) Disconnect(ctx context.Context) {
	session := c.session
	c.session = nil
	c.selected = ""

	if session == nil {
		return
	}

	if err := session.Logout(); err != nil {
		c.logger.WarnContext(ctx, "logout was not acknowledged", slog.Any("error", err))
		return
	}

	c.logger.DebugContext(ctx, "disconnected from mail store")
}

// ListFolders returns folder names in server order. Listing lines of an
// unexpected shape are skipped. Without a session the result is empty.
func (c *Client) ListFolders(ctx context.Context) ([]string, error) {
	folders := []string{}

	if c.session == nil {
		c.logger.DebugContext(ctx, "list folders skipped", slog.Any("error", ErrNotConnected))
		return folders, nil
	}
	if err := ctx.Err(); err != nil {
		return folders, err
	}

	lines, err := c.session.List()
	if err != nil {
		return folders, protocolErr("LIST", err)
	}

	for _, line := range lines {
		folder, ok := ParseListLine(line)
		if !ok {
			c.logger.DebugContext(ctx, "skipping unrecognized listing line", slog.String("line", line))
			continue
		}

		folders = append(folders, folder.Name)
	}

	return folders, nil
}

// SelectFolder makes name the active folder. On failure no folder
// remains selected.
func (c *Client) SelectFolder(ctx context.Context, name string) error {
	if c.session == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.selected = ""
	if err := c.session.Select(name); err != nil {
		return protocolErr("SELECT", err)
	}

	c.selected = name
	return nil
}

// Search returns references of messages in the active folder matching the
// criteria expression (see ParseFilter), in server order. Without a session
// or an active folder the result is empty.
func (c *Client) Search(ctx context.Context, criteria string) ([]string, error) {
	refs := []string{}

	if c.session == nil || c.selected == "" {
		c.logger.DebugContext(ctx, "search skipped",
			slog.Bool("connected", c.session != nil),
			slog.String("folder", c.selected),
		)
		return refs, nil
	}
	if err := ctx.Err(); err != nil {
		return refs, err
	}

	parsed, err := ParseFilter(criteria)
	if err != nil {
		return refs, fmt.Errorf("parse search criteria %q: %w", criteria, err)
	}

	found, err := c.session.Search(parsed)
	if err != nil {
		return refs, protocolErr("SEARCH", err)
	}

	return append(refs, found...), nil
}

// Fetch returns the raw message for ref. Stale or unknown references
// surface as *ProtocolError.
func (c *Client) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}

	body, err := c.session.Fetch(ref)
	if err != nil {
		return nil, protocolErr("FETCH", err)
	}

	return body, nil
}

// Move relocates ref from the active folder into destination.
//
// The protocol offers no atomic move, so it is performed as three round
// trips: COPY, STORE +FLAGS (\Deleted), EXPUNGE. The first failing step
// stops the sequence and is reported through *MoveError; nothing is rolled
// back. A nil result means all three steps succeeded.
func (c *Client) Move(ctx context.Context, ref, destination string) error {
	if err := c.ready(ctx); err != nil {
		return err
	}

	logger := c.logger.With(slog.String("ref", ref), slog.String("destination", destination))

	if err := c.session.Copy(ref, destination); err != nil {
		return &MoveError{Ref: ref, Destination: destination, Stage: StageCopy, Err: protocolErr("COPY", err)}
	}
	logger.DebugContext(ctx, "message copied")

	if err := c.session.MarkDeleted(ref); err != nil {
		logger.WarnContext(ctx, "message copied but not flagged for deletion, duplicate left in both folders")
		return &MoveError{Ref: ref, Destination: destination, Stage: StageStore, Duplicated: true, Err: protocolErr("STORE", err)}
	}
	logger.DebugContext(ctx, "original flagged as deleted")

	if err := c.session.Expunge(); err != nil {
		logger.WarnContext(ctx, "original flagged as deleted but not expunged")
		return &MoveError{Ref: ref, Destination: destination, Stage: StageExpunge, Err: protocolErr("EXPUNGE", err)}
	}

	return nil
}

func (c *Client) ready(ctx context.Context) error {
	if c.session == nil {
		return ErrNotConnected
	}
	if c.selected == "" {
		return ErrNoFolderSelected
	}

	return ctx.Err()
}

func protocolErr(command string, err error) error {
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return err
	}

	return &ProtocolError{Command: command, Err: err}
}
