package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rentline/rentchat/internal/api"
	"github.com/rentline/rentchat/internal/auth"
)

var nolog = zerolog.Nop()

type harness struct {
	srv     *Server
	ts      *httptest.Server
	aliceID string
	bobID   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := OpenDB("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv := New(db, "test-secret", time.Hour, nolog)
	aliceID, err := srv.CreateUser("alice", "Alice Renter", "pw-alice")
	require.NoError(t, err)
	bobID, err := srv.CreateUser("bob", "Bob Owner", "pw-bob")
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &harness{srv: srv, ts: ts, aliceID: aliceID, bobID: bobID}
}

func (h *harness) login(t *testing.T, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(h.ts.URL+"/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func (h *harness) client(t *testing.T, username, password string) *api.Client {
	return api.NewClient(h.ts.URL, auth.StaticToken(h.login(t, username, password)), nolog)
}

// dialWS opens a websocket as one user, authenticated via query token.
func (h *harness) dialWS(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev wireEvent
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func writeFrame(t *testing.T, conn *websocket.Conn, ev wireEvent) {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func TestLoginRejectsBadPassword(t *testing.T) {
	h := newHarness(t)

	body, _ := json.Marshal(map[string]string{"username": "alice", "password": "wrong"})
	resp, err := http.Post(h.ts.URL+"/login", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	h.login(t, "alice", "pw-alice")
}

func TestRESTConversationLifecycle(t *testing.T) {
	h := newHarness(t)
	alice := h.client(t, "alice", "pw-alice")
	bob := h.client(t, "bob", "pw-bob")
	ctx := context.Background()

	sent, err := alice.Send(ctx, api.SendRequest{
		SenderID: h.aliceID, ReceiverID: h.bobID, Content: "Is the flat still available?",
	})
	require.NoError(t, err)
	require.NotEmpty(t, sent.ID)
	assert.Equal(t, h.aliceID, sent.Sender.ID)

	// receiver sees the conversation with one unread
	convs, err := bob.Conversations(ctx, h.bobID, 1, 50)
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "Alice Renter", convs[0].Other.Name)
	assert.Equal(t, 1, convs[0].UnreadCount)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, sent.ID, convs[0].LastMessage.ID)

	// opening the thread returns the history oldest-first
	snap, err := bob.OpenConversation(ctx, h.bobID, h.aliceID, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, sent.ConversationID, snap.ConversationID)
	assert.Equal(t, h.aliceID, snap.OtherUser.ID)
	require.Len(t, snap.Messages, 1)
	assert.False(t, snap.Messages[0].IsRead)

	// reading clears the unread counter
	require.NoError(t, bob.MarkRead(ctx, sent.ID))
	convs, err = bob.Conversations(ctx, h.bobID, 1, 50)
	require.NoError(t, err)
	assert.Equal(t, 0, convs[0].UnreadCount)

	snap, err = bob.OpenConversation(ctx, h.bobID, h.aliceID, 1, 50)
	require.NoError(t, err)
	assert.True(t, snap.Messages[0].IsRead)
	require.NotNil(t, snap.Messages[0].ReadAt)
}

func TestSearchMatchesNameAndContent(t *testing.T) {
	h := newHarness(t)
	alice := h.client(t, "alice", "pw-alice")
	ctx := context.Background()

	_, err := alice.Send(ctx, api.SendRequest{
		SenderID: h.aliceID, ReceiverID: h.bobID, Content: "about the deposit",
	})
	require.NoError(t, err)

	byName, err := alice.Search(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, byName, 1)

	byContent, err := alice.Search(ctx, "deposit")
	require.NoError(t, err)
	require.Len(t, byContent, 1)

	none, err := alice.Search(ctx, "penthouse")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListIsForbiddenForOtherUsers(t *testing.T) {
	h := newHarness(t)
	alice := h.client(t, "alice", "pw-alice")

	_, err := alice.Conversations(context.Background(), h.bobID, 1, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestSocketDeliveryOnRESTSend(t *testing.T) {
	h := newHarness(t)
	alice := h.client(t, "alice", "pw-alice")
	bobConn := h.dialWS(t, h.login(t, "bob", "pw-bob"))

	sent, err := alice.Send(context.Background(), api.SendRequest{
		SenderID: h.aliceID, ReceiverID: h.bobID, Content: "hello bob",
	})
	require.NoError(t, err)

	ev := readFrame(t, bobConn)
	require.Equal(t, "new_message", ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, sent.ID, ev.Message.ID)
	assert.Equal(t, "hello bob", ev.Message.Content)

	ev = readFrame(t, bobConn)
	require.Equal(t, "message_notification", ev.Type)
	assert.Equal(t, sent.ConversationID, ev.ConversationID)
	assert.Equal(t, 1, ev.UnreadCount)
}

func TestSocketSendEchoesAndPersists(t *testing.T) {
	h := newHarness(t)
	aliceTok := h.login(t, "alice", "pw-alice")
	aliceConn := h.dialWS(t, aliceTok)

	writeFrame(t, aliceConn, wireEvent{
		Type: "send_message", SenderID: h.aliceID, ReceiverID: h.bobID, Content: "over the socket",
	})

	// sender's own copy comes back as the confirmation
	ev := readFrame(t, aliceConn)
	require.Equal(t, "new_message", ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "over the socket", ev.Message.Content)
	assert.Equal(t, h.aliceID, ev.Message.Sender.ID)

	// and it is durable
	aliceAPI := api.NewClient(h.ts.URL, auth.StaticToken(aliceTok), nolog)
	snap, err := aliceAPI.OpenConversation(context.Background(), h.aliceID, h.bobID, 1, 50)
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, ev.Message.ID, snap.Messages[0].ID)
}

func TestTypingRelayAndSnapshotVisibility(t *testing.T) {
	h := newHarness(t)
	alice := h.client(t, "alice", "pw-alice")
	bobTok := h.login(t, "bob", "pw-bob")
	bobConn := h.dialWS(t, bobTok)
	aliceConn := h.dialWS(t, h.login(t, "alice", "pw-alice"))
	ctx := context.Background()

	sent, err := alice.Send(ctx, api.SendRequest{
		SenderID: h.aliceID, ReceiverID: h.bobID, Content: "seed",
	})
	require.NoError(t, err)
	readFrame(t, bobConn) // new_message
	readFrame(t, bobConn) // message_notification
	readFrame(t, aliceConn)

	writeFrame(t, bobConn, wireEvent{Type: "typing_start", ConversationID: sent.ConversationID})

	ev := readFrame(t, aliceConn)
	require.Equal(t, "user_typing", ev.Type)
	assert.Equal(t, h.bobID, ev.UserID)
	assert.True(t, ev.IsTyping)

	// a pull-mode client observes the same state through the snapshot
	require.Eventually(t, func() bool {
		snap, err := alice.OpenConversation(ctx, h.aliceID, h.bobID, 1, 50)
		return err == nil && snap.OtherTyping
	}, 2*time.Second, 50*time.Millisecond)

	writeFrame(t, bobConn, wireEvent{Type: "typing_stop", ConversationID: sent.ConversationID})
	ev = readFrame(t, aliceConn)
	require.Equal(t, "user_typing", ev.Type)
	assert.False(t, ev.IsTyping)

	snap, err := alice.OpenConversation(ctx, h.aliceID, h.bobID, 1, 50)
	require.NoError(t, err)
	assert.False(t, snap.OtherTyping)
}

func TestSocketMarkReadNotifiesSender(t *testing.T) {
	h := newHarness(t)
	alice := h.client(t, "alice", "pw-alice")
	aliceConn := h.dialWS(t, h.login(t, "alice", "pw-alice"))
	bobConn := h.dialWS(t, h.login(t, "bob", "pw-bob"))

	sent, err := alice.Send(context.Background(), api.SendRequest{
		SenderID: h.aliceID, ReceiverID: h.bobID, Content: "read me",
	})
	require.NoError(t, err)
	readFrame(t, aliceConn) // own new_message echo
	readFrame(t, bobConn)
	readFrame(t, bobConn)

	writeFrame(t, bobConn, wireEvent{Type: "mark_message_read", MessageID: sent.ID})

	// the sender learns the receipt
	ev := readFrame(t, aliceConn)
	require.Equal(t, "message_read", ev.Type)
	assert.Equal(t, sent.ID, ev.MessageID)
	require.NotNil(t, ev.ReadAt)

	// the reader gets the corrected unread count
	ev = readFrame(t, bobConn)
	require.Equal(t, "message_notification", ev.Type)
	assert.Equal(t, 0, ev.UnreadCount)
}
