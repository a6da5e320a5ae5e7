package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/connor15mcc/patchpal/internal/protocol"
)

// SubmitRefusedError is a server-side rejection of a submission. The
// connection is still usable after a duplicate refusal.
type SubmitRefusedError struct {
	Kind            protocol.ErrorKind
	Detail          string
	ExistingPatchID uint64
}

func (e *SubmitRefusedError) Error() string {
	if e.Kind == protocol.ErrKindDuplicateSubmission {
		return fmt.Sprintf("duplicate submission: patch %d is already outstanding", e.ExistingPatchID)
	}
	return fmt.Sprintf("submission refused (%s): %s", e.Kind, e.Detail)
}

// ErrServerClosed is returned from Await when the server closes the
// connection cleanly.
var ErrServerClosed = errors.New("server closed the connection")

// Client is the client side of the wire protocol: one persistent
// connection, submissions, and the per-session decision stream.
// Not safe for concurrent use; the CLI drives it sequentially.
type Client struct {
	conn          *websocket.Conn
	heartbeatStop chan struct{}
}

// Dial connects to a patchpald server, e.g. "ws://127.0.0.1:8443/ws",
// and starts the keepalive heartbeat.
func Dial(ctx context.Context, addr string, heartbeatInterval time.Duration) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &Client{
		conn:          conn,
		heartbeatStop: make(chan struct{}),
	}
	go c.heartbeatLoop(heartbeatInterval)
	return c, nil
}

func (c *Client) heartbeatLoop(interval time.Duration) {
	frame, err := protocol.Encode(protocol.Heartbeat{})
	if err != nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.heartbeatStop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := c.conn.Write(ctx, websocket.MessageBinary, frame)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) write(ctx context.Context, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.conn.Write(ctx, websocket.MessageBinary, frame)
}

// read returns the next non-heartbeat message from the server
func (c *Client) read(ctx context.Context) (protocol.Message, error) {
	for {
		typ, frame, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil, ErrServerClosed
			}
			return nil, err
		}
		if typ != websocket.MessageBinary {
			return nil, &protocol.ProtocolError{Detail: "non-binary frame from server"}
		}
		msg, err := protocol.Decode(frame)
		if err != nil {
			return nil, err
		}
		if msg.Type() == protocol.MsgHeartbeat {
			continue
		}
		return msg, nil
	}
}

// Submit sends one patch and waits for the server's verdict
func (c *Client) Submit(ctx context.Context, repoRef, metadata string, hunks []protocol.HunkContent) (*protocol.SubmitResponse, error) {
	req := &protocol.SubmitRequest{RepoRef: repoRef, Metadata: metadata, Hunks: hunks}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := c.write(ctx, req); err != nil {
		return nil, fmt.Errorf("send submission: %w", err)
	}

	for {
		msg, err := c.read(ctx)
		if err != nil {
			return nil, err
		}
		switch resp := msg.(type) {
		case *protocol.SubmitResponse:
			return resp, nil
		case *protocol.SubmitError:
			return nil, &SubmitRefusedError{
				Kind:            resp.Kind,
				Detail:          resp.Detail,
				ExistingPatchID: resp.ExistingPatchID,
			}
		case *protocol.DecisionNotification:
			// A decision for an earlier patch can race the response;
			// the CLI submits one patch per connection so this is a
			// server bug, not a client state problem
			return nil, &protocol.ProtocolError{Detail: "decision notification before submit response"}
		default:
			return nil, &protocol.ProtocolError{Detail: "unexpected " + msg.Type().String()}
		}
	}
}

// Await blocks for the next decision notification
func (c *Client) Await(ctx context.Context) (*protocol.DecisionNotification, error) {
	msg, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	dn, ok := msg.(*protocol.DecisionNotification)
	if !ok {
		return nil, &protocol.ProtocolError{Detail: "expected decision notification, got " + msg.Type().String()}
	}
	return dn, nil
}

// Close ends the session cleanly
func (c *Client) Close() error {
	close(c.heartbeatStop)
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
