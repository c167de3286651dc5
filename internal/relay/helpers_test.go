package relay

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/chatrelay/internal/chat"
	"github.com/cory-johannsen/chatrelay/internal/storage/memory"
)

// fakeGateway counts persistence calls and can inject failures.
type fakeGateway struct {
	*memory.Store
	chatCalls    atomic.Int32
	privateCalls atomic.Int32
	chatErr      error
	privateErr   error
	blockErr     error
	userErr      error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{Store: memory.NewStore()}
}

func (g *fakeGateway) AddChatMessage(ctx context.Context, m chat.NewChatMessage) (chat.ChatMessage, error) {
	g.chatCalls.Add(1)
	if g.chatErr != nil {
		return chat.ChatMessage{}, g.chatErr
	}
	return g.Store.AddChatMessage(ctx, m)
}

func (g *fakeGateway) AddPrivateMessage(ctx context.Context, m chat.NewPrivateMessage) (chat.PrivateMessage, error) {
	g.privateCalls.Add(1)
	if g.privateErr != nil {
		return chat.PrivateMessage{}, g.privateErr
	}
	return g.Store.AddPrivateMessage(ctx, m)
}

func (g *fakeGateway) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	if g.blockErr != nil {
		return false, g.blockErr
	}
	return g.Store.IsBlocked(ctx, a, b)
}

func (g *fakeGateway) GetUser(ctx context.Context, id string) (chat.User, error) {
	if g.userErr != nil {
		return chat.User{}, g.userErr
	}
	return g.Store.GetUser(ctx, id)
}

type fixture struct {
	hub     *Hub
	router  *Router
	gateway *fakeGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	hub := NewHub(logger)
	gw := newFakeGateway()
	return &fixture{
		hub:     hub,
		router:  NewRouter(hub, gw, 0, logger),
		gateway: gw,
	}
}

// connect registers a fresh connection.
func (f *fixture) connect(t *testing.T) *Conn {
	t.Helper()
	c := NewConn("test", 32)
	require.NoError(t, f.hub.Register(c))
	return c
}

// login registers, authenticates and drains the auth ack.
func (f *fixture) login(t *testing.T, userID, username string) *Conn {
	t.Helper()
	c := f.connect(t)
	f.send(c, AuthFrame{UserID: userID, Username: username})
	got := drain(t, c)
	require.Len(t, got, 1)
	require.Equal(t, TypeAuthSuccess, got[0]["type"])
	return c
}

// enter logs in and joins roomID, draining the join ack.
func (f *fixture) enter(t *testing.T, userID, username, roomID string) *Conn {
	t.Helper()
	c := f.login(t, userID, username)
	f.send(c, JoinRoomFrame{RoomID: roomID})
	got := drain(t, c)
	require.Len(t, got, 1)
	require.Equal(t, TypeRoomJoined, got[0]["type"])
	return c
}

func (f *fixture) send(c *Conn, frame Frame) {
	f.router.Handle(context.Background(), c, frame)
}

func (f *fixture) sendRaw(c *Conn, raw string) {
	f.router.HandleRaw(context.Background(), c, []byte(raw))
}

// drain returns every queued outbound frame decoded as a JSON object.
func drain(t require.TestingT, c *Conn) []map[string]any {
	var out []map[string]any
	for {
		select {
		case data, ok := <-c.Outbound():
			if !ok {
				return out
			}
			var m map[string]any
			require.NoError(t, json.Unmarshal(data, &m))
			out = append(out, m)
		default:
			return out
		}
	}
}

func types(frames []map[string]any) []string {
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f["type"].(string))
	}
	return out
}

func message(t *testing.T, frame map[string]any) map[string]any {
	t.Helper()
	m, ok := frame["message"].(map[string]any)
	require.True(t, ok, "frame has no message object: %v", frame)
	return m
}
