package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// WSClient is a JSON websocket test client for integration testing.
type WSClient struct {
	conn *websocket.Conn
	t    *testing.T
}

// NewWSClient dials the given ws:// URL and returns a test client. origin, when
// non-empty, is sent as the Origin header.
//
// Precondition: url must name a listening websocket endpoint.
// Postcondition: Returns a connected WSClient or fails the test.
func NewWSClient(t *testing.T, url, origin string) *WSClient {
	t.Helper()
	start := time.Now()

	conn, err := DialWS(url, origin)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", url, err, time.Since(start))
	}

	t.Cleanup(func() {
		conn.Close(websocket.StatusNormalClosure, "")
	})

	t.Logf("websocket client connected to %s [%s]", url, time.Since(start))
	return &WSClient{conn: conn, t: t}
}

// DialWS dials url without failing the test, for asserting rejected handshakes.
func DialWS(url, origin string) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var opts *websocket.DialOptions
	if origin != "" {
		opts = &websocket.DialOptions{HTTPHeader: http.Header{"Origin": []string{origin}}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	return conn, err
}

// Send writes v as one JSON text frame.
//
// Postcondition: v is written to the connection, or the test fails.
func (c *WSClient) Send(v any) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, v); err != nil {
		c.t.Fatalf("sending %v: %v", v, err)
	}
}

// SendRaw writes data as one text frame without encoding it.
func (c *WSClient) SendRaw(data string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(data)); err != nil {
		c.t.Fatalf("sending %q: %v", data, err)
	}
}

// Read decodes the next frame into a JSON object, failing on timeout.
func (c *WSClient) Read(timeout time.Duration) map[string]any {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var m map[string]any
	if err := wsjson.Read(ctx, c.conn, &m); err != nil {
		c.t.Fatalf("reading frame: %v", err)
	}
	return m
}

// ReadType reads frames until one with the given type tag arrives.
//
// Postcondition: Returns the matching frame, or fails on timeout.
func (c *WSClient) ReadType(typ string, timeout time.Duration) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.t.Fatalf("no %q frame within %s", typ, timeout)
		}
		m := c.Read(remaining)
		if m["type"] == typ {
			return m
		}
	}
}

// ExpectSilence asserts that no frame arrives within d. The read deadline closes
// the connection, so this must be the client's last call.
func (c *WSClient) ExpectSilence(d time.Duration) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	var m map[string]any
	if err := wsjson.Read(ctx, c.conn, &m); err == nil {
		c.t.Fatalf("expected no frame, got %v", m)
	}
}

// Close closes the underlying connection.
func (c *WSClient) Close() {
	c.conn.Close(websocket.StatusNormalClosure, "")
}
