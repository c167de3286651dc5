package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cory-johannsen/chatrelay/internal/chat"
)

func TestRouter_AuthSuccess(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "u1", "alice")

	userID, username, ok := c.Identity()
	assert.True(t, ok)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, "alice", username)
	assert.Len(t, f.hub.FindByIdentity("u1"), 1)
}

func TestRouter_AuthInvalid(t *testing.T) {
	for name, frame := range map[string]AuthFrame{
		"empty user id":  {Username: "alice"},
		"empty username": {UserID: "u1"},
		"blank username": {UserID: "u1", Username: "   "},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			c := f.connect(t)
			f.send(c, frame)

			got := drain(t, c)
			require.Len(t, got, 1)
			assert.Equal(t, TypeError, got[0]["type"])
			assert.Equal(t, "invalid auth data", got[0]["message"])
			_, _, ok := c.Identity()
			assert.False(t, ok)
		})
	}
}

func TestRouter_SecondAuthRejected(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "u1", "alice")

	f.send(c, AuthFrame{UserID: "u2", Username: "bob"})

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "already authenticated", got[0]["message"])
	userID, _, _ := c.Identity()
	assert.Equal(t, "u1", userID)
}

func TestRouter_JoinBeforeAuth(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	f.send(c, JoinRoomFrame{RoomID: "r1"})

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "not authenticated", got[0]["message"])
	assert.Empty(t, f.hub.MembersOf("r1"))
}

func TestRouter_JoinAfterUnregister(t *testing.T) {
	tests := []struct {
		name  string
		close func(f *fixture, c *Conn)
	}{
		{name: "unregistered", close: func(f *fixture, c *Conn) { f.hub.Unregister(c) }},
		{name: "hub shut down", close: func(f *fixture, _ *Conn) { f.hub.Shutdown() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.login(t, "u1", "alice")
			tt.close(f, c)

			err := f.router.dispatch(context.Background(), c, JoinRoomFrame{RoomID: "r1"})

			assert.NoError(t, err)
			assert.Empty(t, f.hub.MembersOf("r1"))
		})
	}
}

func TestRouter_JoinEmptyRoom(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "u1", "alice")
	f.send(c, JoinRoomFrame{RoomID: ""})

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "invalid room id", got[0]["message"])
}

func TestRouter_JoinNotifiesExistingMembers(t *testing.T) {
	f := newFixture(t)
	alice := f.enter(t, "u1", "alice", "r1")
	bob := f.login(t, "u2", "bob")

	f.send(bob, JoinRoomFrame{RoomID: "r1"})

	toAlice := drain(t, alice)
	require.Len(t, toAlice, 1)
	assert.Equal(t, TypeUserJoined, toAlice[0]["type"])
	assert.Equal(t, "u2", toAlice[0]["userId"])
	assert.Equal(t, "bob", toAlice[0]["username"])

	toBob := drain(t, bob)
	assert.Equal(t, []string{TypeRoomJoined}, types(toBob))
	assert.Equal(t, "r1", toBob[0]["roomId"])
}

func TestRouter_SwitchingRoomsNotifiesOldRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.enter(t, "u1", "alice", "A")
	bob := f.enter(t, "u2", "bob", "A")
	drain(t, alice)

	f.send(bob, JoinRoomFrame{RoomID: "B"})

	toAlice := drain(t, alice)
	require.Len(t, toAlice, 1)
	assert.Equal(t, TypeUserLeft, toAlice[0]["type"])
	assert.Equal(t, "u2", toAlice[0]["userId"])
	assert.Equal(t, []*Conn{alice}, f.hub.MembersOf("A"))
	assert.Equal(t, []*Conn{bob}, f.hub.MembersOf("B"))
	assert.Equal(t, []string{TypeRoomJoined}, types(drain(t, bob)))
}

func TestRouter_RejoinSameRoomOnlyAcks(t *testing.T) {
	f := newFixture(t)
	alice := f.enter(t, "u1", "alice", "r1")
	bob := f.enter(t, "u2", "bob", "r1")
	drain(t, alice)

	f.send(bob, JoinRoomFrame{RoomID: "r1"})

	assert.Empty(t, drain(t, alice))
	assert.Equal(t, []string{TypeRoomJoined}, types(drain(t, bob)))
	assert.Len(t, f.hub.MembersOf("r1"), 2)
}

func TestRouter_LeaveRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.enter(t, "u1", "alice", "r1")
	bob := f.enter(t, "u2", "bob", "r1")
	drain(t, alice)

	f.send(bob, LeaveRoomFrame{})

	assert.Equal(t, "", bob.Room())
	assert.Equal(t, []string{TypeUserLeft}, types(drain(t, alice)))
	assert.Empty(t, drain(t, bob))

	f.send(alice, LeaveRoomFrame{RoomID: "r1"})
	assert.Equal(t, 0, f.hub.RoomCount())
}

func TestRouter_ChatMessageDeliveredToWholeRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.enter(t, "u1", "alice", "r1")
	bob := f.enter(t, "u2", "bob", "r1")
	drain(t, alice)

	f.send(alice, ChatMessageFrame{Content: "  hi  "})

	for _, c := range []*Conn{alice, bob} {
		got := drain(t, c)
		require.Len(t, got, 1)
		assert.Equal(t, TypeChatMessage, got[0]["type"])
		m := message(t, got[0])
		assert.Equal(t, "hi", m["content"])
		assert.Equal(t, "r1", m["roomId"])
		assert.Equal(t, "u1", m["userId"])
		assert.Equal(t, "alice", m["username"])
		assert.Nil(t, m["avatarImageUrl"])
		assert.NotEmpty(t, m["id"])
	}

	persisted := f.gateway.ChatMessages("r1")
	require.Len(t, persisted, 1)
	assert.Equal(t, "hi", persisted[0].Content)
}

func TestRouter_ChatMessageOrderPreservedPerRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.enter(t, "u1", "alice", "r1")
	bob := f.enter(t, "u2", "bob", "r1")
	drain(t, alice)

	for _, text := range []string{"one", "two", "three"} {
		f.send(alice, ChatMessageFrame{Content: text})
	}

	var contents []string
	for _, frame := range drain(t, bob) {
		contents = append(contents, message(t, frame)["content"].(string))
	}
	assert.Equal(t, []string{"one", "two", "three"}, contents)
}

func TestRouter_ChatMessageNotInRoom(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "u1", "alice")

	f.send(c, ChatMessageFrame{Content: "hello"})

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "not in a room", got[0]["message"])
	assert.Zero(t, f.gateway.chatCalls.Load())
}

func TestRouter_ChatMessageBeforeAuth(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	f.send(c, ChatMessageFrame{Content: "hello"})

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "not in a room", got[0]["message"])
	assert.Zero(t, f.gateway.chatCalls.Load())
}

func TestRouter_ChatMessageBlankIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.enter(t, "u1", "alice", "r1")

	f.send(c, ChatMessageFrame{Content: " \t\n"})

	assert.Empty(t, drain(t, c))
	assert.Zero(t, f.gateway.chatCalls.Load())
}

func TestRouter_ChatMessagePersistenceFailure(t *testing.T) {
	f := newFixture(t)
	alice := f.enter(t, "u1", "alice", "r1")
	bob := f.enter(t, "u2", "bob", "r1")
	drain(t, alice)
	f.gateway.chatErr = errors.New("connection reset")

	f.send(alice, ChatMessageFrame{Content: "hi"})

	got := drain(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, "failed to send message", got[0]["message"])
	assert.Empty(t, drain(t, bob))
}

func TestRouter_ChatMessageAvatar(t *testing.T) {
	f := newFixture(t)
	f.gateway.PutUser(chat.User{ID: "u1", Username: "alice", ActiveAvatarID: "av1"})
	f.gateway.PutStoreItem(chat.StoreItem{ID: "av1", Name: "Cat", ImageURL: "https://img/cat.png", ItemType: "avatar"})
	alice := f.enter(t, "u1", "alice", "r1")

	f.send(alice, ChatMessageFrame{Content: "meow"})

	got := drain(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, "https://img/cat.png", message(t, got[0])["avatarImageUrl"])
}

func TestRouter_ChatMessageAvatarLookupFailureStillDelivers(t *testing.T) {
	f := newFixture(t)
	alice := f.enter(t, "u1", "alice", "r1")
	f.gateway.userErr = errors.New("timeout")

	f.send(alice, ChatMessageFrame{Content: "hi"})

	got := drain(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, TypeChatMessage, got[0]["type"])
	assert.Nil(t, message(t, got[0])["avatarImageUrl"])
}

func TestRouter_ChatMessageAvatarMissingItem(t *testing.T) {
	f := newFixture(t)
	f.gateway.PutUser(chat.User{ID: "u1", Username: "alice", ActiveAvatarID: "gone"})
	alice := f.enter(t, "u1", "alice", "r1")

	f.send(alice, ChatMessageFrame{Content: "hi"})

	got := drain(t, alice)
	require.Len(t, got, 1)
	assert.Nil(t, message(t, got[0])["avatarImageUrl"])
}

func TestRouter_PrivateMessageDeliveredToAllRecipientConnections(t *testing.T) {
	f := newFixture(t)
	conv := f.gateway.CreateConversation("c1", "u1", "u2")
	alice := f.login(t, "u1", "alice")
	bob1 := f.login(t, "u2", "bob")
	bob2 := f.login(t, "u2", "bob")
	carol := f.login(t, "u3", "carol")

	f.send(alice, PrivateMessageFrame{ConversationID: conv.ID, RecipientID: "u2", Content: " hey "})

	for _, c := range []*Conn{alice, bob1, bob2} {
		got := drain(t, c)
		require.Len(t, got, 1)
		assert.Equal(t, TypePrivateMessage, got[0]["type"])
		m := message(t, got[0])
		assert.Equal(t, "hey", m["content"])
		assert.Equal(t, "c1", m["conversationId"])
		assert.Equal(t, "u1", m["senderId"])
		assert.Equal(t, "alice", m["username"])
	}
	assert.Empty(t, drain(t, carol))
	assert.Len(t, f.gateway.PrivateMessages("c1"), 1)
}

func TestRouter_PrivateMessageSenderOtherConnectionsOnlyIfRecipient(t *testing.T) {
	f := newFixture(t)
	f.gateway.CreateConversation("c1", "u1", "u2")
	alice1 := f.login(t, "u1", "alice")
	alice2 := f.login(t, "u1", "alice")
	f.login(t, "u2", "bob")

	f.send(alice1, PrivateMessageFrame{ConversationID: "c1", RecipientID: "u2", Content: "hey"})

	assert.Len(t, drain(t, alice1), 1)
	assert.Empty(t, drain(t, alice2))
}

func TestRouter_PrivateMessageBlankIgnored(t *testing.T) {
	f := newFixture(t)
	f.gateway.CreateConversation("c1", "u1", "u2")
	alice := f.login(t, "u1", "alice")
	bob := f.login(t, "u2", "bob")

	f.send(alice, PrivateMessageFrame{ConversationID: "c1", RecipientID: "u2", Content: "   "})

	assert.Empty(t, drain(t, alice))
	assert.Empty(t, drain(t, bob))
	assert.Zero(t, f.gateway.privateCalls.Load())
}

func TestRouter_PrivateMessageBlockedEitherDirection(t *testing.T) {
	for name, block := range map[string][2]string{
		"sender blocked recipient": {"u1", "u2"},
		"recipient blocked sender": {"u2", "u1"},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.gateway.CreateConversation("c1", "u1", "u2")
			f.gateway.Block(block[0], block[1])
			alice := f.login(t, "u1", "alice")
			bob := f.login(t, "u2", "bob")

			f.send(alice, PrivateMessageFrame{ConversationID: "c1", RecipientID: "u2", Content: "hey"})

			got := drain(t, alice)
			require.Len(t, got, 1)
			assert.Equal(t, "cannot message this user", got[0]["message"])
			assert.Empty(t, drain(t, bob))
			assert.Zero(t, f.gateway.privateCalls.Load())
		})
	}
}

func TestRouter_PrivateMessageRecipientMustBeCounterpart(t *testing.T) {
	tests := []struct {
		name        string
		recipientID string
	}{
		{name: "third party", recipientID: "u3"},
		{name: "sender", recipientID: "u1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.gateway.CreateConversation("c1", "u1", "u2")
			f.gateway.Block("u2", "u1")
			alice := f.login(t, "u1", "alice")
			bob := f.login(t, "u2", "bob")
			carol := f.login(t, "u3", "carol")

			f.send(alice, PrivateMessageFrame{ConversationID: "c1", RecipientID: tt.recipientID, Content: "hey"})

			got := drain(t, alice)
			require.Len(t, got, 1)
			assert.Equal(t, TypeError, got[0]["type"])
			assert.Equal(t, "conversation not found", got[0]["message"])
			assert.Empty(t, drain(t, bob))
			assert.Empty(t, drain(t, carol))
			assert.Empty(t, f.gateway.PrivateMessages("c1"))
		})
	}
}

func TestRouter_PrivateMessageBlockCheckFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.CreateConversation("c1", "u1", "u2")
	f.gateway.blockErr = errors.New("db down")
	alice := f.login(t, "u1", "alice")
	bob := f.login(t, "u2", "bob")

	f.send(alice, PrivateMessageFrame{ConversationID: "c1", RecipientID: "u2", Content: "hey"})

	got := drain(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, "failed to send message", got[0]["message"])
	assert.Empty(t, drain(t, bob))
	assert.Zero(t, f.gateway.privateCalls.Load())
}

func TestRouter_PrivateMessageMissingIDs(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "u1", "alice")

	f.send(alice, PrivateMessageFrame{RecipientID: "u2", Content: "hey"})

	got := drain(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, "invalid private message", got[0]["message"])
}

func TestRouter_PrivateMessageConversationNotFound(t *testing.T) {
	f := newFixture(t)
	f.gateway.CreateConversation("c1", "u2", "u3")
	alice := f.login(t, "u1", "alice")
	bob := f.login(t, "u2", "bob")

	f.send(alice, PrivateMessageFrame{ConversationID: "c1", RecipientID: "u2", Content: "hey"})

	got := drain(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, "conversation not found", got[0]["message"])
	assert.Empty(t, drain(t, bob))
}

func TestRouter_PrivateMessagePersistenceFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.CreateConversation("c1", "u1", "u2")
	f.gateway.privateErr = errors.New("disk full")
	alice := f.login(t, "u1", "alice")
	bob := f.login(t, "u2", "bob")

	f.send(alice, PrivateMessageFrame{ConversationID: "c1", RecipientID: "u2", Content: "hey"})

	got := drain(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, "failed to send message", got[0]["message"])
	assert.Empty(t, drain(t, bob))
}

func TestRouter_PrivateMessageBeforeAuth(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	f.send(c, PrivateMessageFrame{ConversationID: "c1", RecipientID: "u2", Content: "hey"})

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "not authenticated", got[0]["message"])
}

func TestRouter_TypingInRoomExcludesSender(t *testing.T) {
	f := newFixture(t)
	alice := f.enter(t, "u1", "alice", "r1")
	bob := f.enter(t, "u2", "bob", "r1")
	drain(t, alice)

	f.send(alice, TypingFrame{RoomID: "r1"})

	assert.Empty(t, drain(t, alice))
	got := drain(t, bob)
	require.Len(t, got, 1)
	assert.Equal(t, TypeTyping, got[0]["type"])
	assert.Equal(t, "u1", got[0]["userId"])
	assert.Equal(t, "alice", got[0]["username"])
	_, hasConv := got[0]["conversationId"]
	assert.False(t, hasConv)
}

func TestRouter_TypingForOtherRoomWithoutConversationIgnored(t *testing.T) {
	f := newFixture(t)
	alice := f.enter(t, "u1", "alice", "r1")
	bob := f.enter(t, "u2", "bob", "r2")

	f.send(alice, TypingFrame{RoomID: "r2"})

	assert.Empty(t, drain(t, alice))
	assert.Empty(t, drain(t, bob))
}

func TestRouter_TypingStaleRoomFallsBackToConversation(t *testing.T) {
	tests := []struct {
		name      string
		aliceRoom string
		roomID    string
	}{
		{name: "not in any room", roomID: "r1"},
		{name: "in another room", aliceRoom: "r2", roomID: "r1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var alice *Conn
			if tt.aliceRoom != "" {
				alice = f.enter(t, "u1", "alice", tt.aliceRoom)
			} else {
				alice = f.login(t, "u1", "alice")
			}
			bob := f.enter(t, "u2", "bob", tt.roomID)
			drain(t, alice)

			f.send(alice, TypingFrame{RoomID: tt.roomID, ConversationID: "c1", RecipientID: "u2"})

			got := drain(t, bob)
			require.Len(t, got, 1)
			assert.Equal(t, TypeTyping, got[0]["type"])
			assert.Equal(t, "c1", got[0]["conversationId"])
			assert.Equal(t, "u1", got[0]["userId"])
			assert.Empty(t, drain(t, alice))
		})
	}
}

func TestRouter_TypingInConversation(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "u1", "alice")
	bob := f.login(t, "u2", "bob")

	f.send(alice, TypingFrame{ConversationID: "c1", RecipientID: "u2"})

	got := drain(t, bob)
	require.Len(t, got, 1)
	assert.Equal(t, TypeTyping, got[0]["type"])
	assert.Equal(t, "c1", got[0]["conversationId"])
	assert.Empty(t, drain(t, alice))
}

func TestRouter_TypingBlockedDroppedSilently(t *testing.T) {
	f := newFixture(t)
	f.gateway.Block("u2", "u1")
	alice := f.login(t, "u1", "alice")
	bob := f.login(t, "u2", "bob")

	f.send(alice, TypingFrame{ConversationID: "c1", RecipientID: "u2"})

	assert.Empty(t, drain(t, alice))
	assert.Empty(t, drain(t, bob))
}

func TestRouter_TypingBeforeAuthIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	f.send(c, TypingFrame{RoomID: "r1"})
	assert.Empty(t, drain(t, c))
}

func TestRouter_UnknownTypeIgnored(t *testing.T) {
	f := newFixture(t)
	c := f.enter(t, "u1", "alice", "r1")

	f.sendRaw(c, `{"type":"dance","moves":3}`)

	assert.Empty(t, drain(t, c))
	assert.Equal(t, "r1", c.Room())
}

func TestRouter_MalformedFrame(t *testing.T) {
	f := newFixture(t)
	c := f.login(t, "u1", "alice")

	for _, raw := range []string{`{not json`, `[1,2]`, `{"type":"join_room","roomId":7}`} {
		f.sendRaw(c, raw)
		got := drain(t, c)
		require.Len(t, got, 1, raw)
		assert.Equal(t, "malformed frame", got[0]["message"], raw)
	}
	assert.False(t, c.IsClosed())
}

func TestRouter_RateLimited(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	f.router.RateLimited(c)

	got := drain(t, c)
	require.Len(t, got, 1)
	assert.Equal(t, "rate limit exceeded", got[0]["message"])
}

func TestRouter_DisconnectNotifiesRoom(t *testing.T) {
	f := newFixture(t)
	alice := f.enter(t, "u1", "alice", "r1")
	bob := f.enter(t, "u2", "bob", "r1")
	drain(t, alice)

	f.hub.Unregister(bob)

	got := drain(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, TypeUserLeft, got[0]["type"])
	assert.Equal(t, "bob", got[0]["username"])
}
