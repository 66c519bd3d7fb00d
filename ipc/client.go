package ipc

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"os/user"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/m4xw311/conch/errors"
	"github.com/m4xw311/conch/shell"
)

// Client talks to conchd over a websocket carried on a unix domain socket.
// One request is in flight at a time; a failed or timed-out exchange tears
// the connection down and the next request redials, which also discards any
// late reply still sitting on the old connection.
type Client struct {
	socket  string
	timeout time.Duration
	logger  *log.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	sessionID string
	motd      string
}

// NewClient builds a client for the daemon socket. Nothing is dialed until
// Setup or the first request.
func NewClient(socket string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Client{socket: socket, timeout: timeout, logger: logger}
}

// Setup dials the daemon and performs the session handshake, returning the
// daemon's message of the day.
func (c *Client) Setup(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ensureSession(ctx); err != nil {
		return "", err
	}
	return c.motd, nil
}

// SessionID returns the id assigned by the daemon, empty before Setup.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Generate asks the daemon for a suggestion. It satisfies shell.Assistant.
func (c *Client) Generate(ctx context.Context, query string, records []shell.Record) (*shell.Suggestion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	req, err := NewMessage(TypeGenerate, GeneratePayload{
		SessionID: c.sessionID,
		Query:     query,
		Records:   EncodeRecords(records),
	})
	if err != nil {
		return nil, errors.WithKind(errors.KindChannel, err)
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		return nil, err
	}
	var p GenerateOKPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		return nil, errors.WithKind(errors.KindChannel, errors.Wrapf(err, "decoding %s payload", resp.Type))
	}
	return &shell.Suggestion{
		Text:       p.Suggestion.Text,
		Commands:   p.Suggestion.Commands,
		Executable: p.Suggestion.Executable,
	}, nil
}

// Close tells the daemon the session is over and drops the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	if c.sessionID != "" {
		if msg, err := NewMessage(TypeExit, ExitPayload{SessionID: c.sessionID}); err == nil {
			c.conn.WriteJSON(msg)
		}
	}
	err := c.conn.Close()
	c.conn = nil
	c.sessionID = ""
	return err
}

// ensureSession dials and re-runs the handshake if the previous connection
// was torn down. Callers hold c.mu.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", c.socket)
		},
		HandshakeTimeout: c.timeout,
	}
	conn, _, err := dialer.DialContext(ctx, "ws://conchd/session", nil)
	if err != nil {
		return errors.WithKind(errors.KindChannel, errors.Wrapf(err, "dialing %s", c.socket))
	}
	c.conn = conn

	req, err := NewMessage(TypeSetup, SetupPayload{User: currentUser(), APIVersion: APIVersion})
	if err != nil {
		c.teardown()
		return errors.WithKind(errors.KindChannel, err)
	}
	resp, err := c.roundTrip(ctx, req)
	if err != nil {
		c.teardown()
		return err
	}
	var p SetupOKPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		c.teardown()
		return errors.WithKind(errors.KindChannel, errors.Wrapf(err, "decoding %s payload", resp.Type))
	}
	c.sessionID = p.SessionID
	c.motd = p.MOTD
	return nil
}

// roundTrip sends req and waits for the reply carrying its correlation id.
// Replies with other ids are leftovers from abandoned exchanges and are
// skipped. Callers hold c.mu.
func (c *Client) roundTrip(ctx context.Context, req *Message) (*Message, error) {
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		c.teardown()
		return nil, errors.WithKind(errors.KindChannel, errors.Wrapf(err, "sending %s", req.Type))
	}
	c.conn.SetReadDeadline(deadline)
	for {
		var resp Message
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.teardown()
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil, errors.WithKind(errors.KindTimeout, errors.Wrapf(err, "no reply to %s", req.Type))
			}
			return nil, errors.WithKind(errors.KindChannel, errors.Wrapf(err, "reading reply to %s", req.Type))
		}
		if resp.ID != req.ID {
			c.logger.Printf("ipc: skipping stale reply %s (id %s)", resp.Type, resp.ID)
			continue
		}
		if resp.Type == TypeError {
			var p ErrorPayload
			if err := json.Unmarshal(resp.Payload, &p); err != nil {
				return nil, errors.WithKind(errors.KindChannel, errors.Wrapf(err, "decoding error payload"))
			}
			return nil, errors.WithKind(errors.KindChannel, errors.New("%s: %s", p.Code, p.Message))
		}
		return &resp, nil
	}
}

// teardown drops the connection so the next request redials. Callers hold
// c.mu.
func (c *Client) teardown() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.sessionID = ""
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
