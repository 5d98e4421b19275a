package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"majlis/internal/broadcast"
	"majlis/internal/history"
	"majlis/internal/presence"
	"majlis/internal/registry"
	"majlis/pkg/types"
)

type fakeGateway struct {
	mu       sync.Mutex
	nextID   int64
	rooms    map[string]bool
	messages map[string][]*types.Message
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		rooms:    map[string]bool{"general": true},
		messages: make(map[string][]*types.Message),
	}
}

func (g *fakeGateway) AppendMessage(ctx context.Context, roomID, senderID, senderName, content, messageType string) (*types.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	msg := &types.Message{
		ID:         g.nextID,
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		Type:       messageType,
		CreatedAt:  time.Now(),
	}
	g.messages[roomID] = append(g.messages[roomID], msg)
	return msg, nil
}

func (g *fakeGateway) RecentMessages(ctx context.Context, roomID string, limit int) ([]*types.Message, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	msgs := g.messages[roomID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]*types.Message(nil), msgs...), nil
}

func (g *fakeGateway) RoomMembers(ctx context.Context, roomID string) ([]types.UserSummary, error) {
	return nil, nil
}

func (g *fakeGateway) SaveMembership(ctx context.Context, roomID string, user types.UserSummary) error {
	return nil
}

func (g *fakeGateway) RemoveMembership(ctx context.Context, roomID, userID string) error {
	return nil
}

func (g *fakeGateway) RoomExists(ctx context.Context, roomID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[roomID], nil
}

func (g *fakeGateway) CreateRoom(ctx context.Context, room *types.Room) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rooms[room.ID] = true
	return nil
}

func (g *fakeGateway) ListRooms(ctx context.Context) ([]*types.Room, error) { return nil, nil }

func newTestServer(t *testing.T, gateway *fakeGateway) *httptest.Server {
	t.Helper()
	reg := registry.NewRegistry()
	boot := history.NewBootstrapper(gateway, 50)
	pres := presence.NewCoordinator(reg, boot, gateway)
	bcast := broadcast.NewBroadcaster(reg, pres, gateway)
	handler := NewHandler(pres, bcast, gateway, HandlerConfig{SendBuffer: 100})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dialClient(t *testing.T, srv *httptest.Server, userID, username string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws%s/ws?user_id=%s&username=%s",
		strings.TrimPrefix(srv.URL, "http"), userID, username)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func joinRoom(t *testing.T, ws *websocket.Conn, roomID string) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(&clientFrame{Action: actionJoinRoom, RoomID: roomID}))
}

// readUntilType drains events until one of the wanted type arrives.
func readUntilType(t *testing.T, ws *websocket.Conn, eventType string) *types.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		event := readEvent(t, ws)
		if event.Type == eventType {
			return event
		}
	}
	t.Fatalf("no %s event arrived", eventType)
	return nil
}

func TestHandlerRejectsMissingIdentity(t *testing.T) {
	srv := newTestServer(t, newFakeGateway())

	for _, url := range []string{
		srv.URL + "/ws",
		srv.URL + "/ws?user_id=u1",
		srv.URL + "/ws?user_id=bad%20id&username=Amal",
	} {
		resp, err := http.Get(url)
		require.NoError(t, err)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestJoinRoomReplaysHistoryThenSnapshot(t *testing.T) {
	// Given a room with existing history
	gateway := newFakeGateway()
	_, err := gateway.AppendMessage(context.Background(), "general", "u0", "Zed", "earlier", types.MessageTypeText)
	require.NoError(t, err)
	srv := newTestServer(t, gateway)

	// When a client joins
	ws := dialClient(t, srv, "u1", "Amal")
	joinRoom(t, ws, "general")

	// Then history arrives first, then the occupant snapshot
	first := readEvent(t, ws)
	require.Equal(t, types.EventHistory, first.Type)
	require.Len(t, first.Messages, 1)
	require.Equal(t, "earlier", first.Messages[0].Content)

	second := readEvent(t, ws)
	require.Equal(t, types.EventOnlineUsers, second.Type)
	require.Equal(t, []types.UserSummary{{UserID: "u1", Username: "Amal"}}, second.Users)
}

func TestJoinUnknownRoomRejectedInBand(t *testing.T) {
	srv := newTestServer(t, newFakeGateway())
	ws := dialClient(t, srv, "u1", "Amal")

	joinRoom(t, ws, "no-such-room")

	event := readEvent(t, ws)
	require.Equal(t, types.EventSystem, event.Type)
	require.NotEmpty(t, event.Info)
}

func TestMessageEchoesToAllRoomMembers(t *testing.T) {
	// Given two clients in the same room
	srv := newTestServer(t, newFakeGateway())
	first := dialClient(t, srv, "u1", "Amal")
	joinRoom(t, first, "general")
	readUntilType(t, first, types.EventOnlineUsers)

	second := dialClient(t, srv, "u2", "Badr")
	joinRoom(t, second, "general")
	readUntilType(t, second, types.EventOnlineUsers)

	// When one sends a message
	require.NoError(t, first.WriteJSON(&clientFrame{Action: actionSendMessage, Content: "marhaba"}))

	// Then both receive it, the sender included
	for _, ws := range []*websocket.Conn{first, second} {
		event := readUntilType(t, ws, types.EventMessage)
		require.Equal(t, "marhaba", event.Message.Content)
		require.Equal(t, "u1", event.Message.SenderID)
	}
}

func TestSendBeforeJoinRejectedInBand(t *testing.T) {
	srv := newTestServer(t, newFakeGateway())
	ws := dialClient(t, srv, "u1", "Amal")

	require.NoError(t, ws.WriteJSON(&clientFrame{Action: actionSendMessage, Content: "too early"}))

	event := readEvent(t, ws)
	require.Equal(t, types.EventSystem, event.Type)
}

func TestMalformedFrameRejectedInBand(t *testing.T) {
	srv := newTestServer(t, newFakeGateway())
	ws := dialClient(t, srv, "u1", "Amal")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	event := readEvent(t, ws)
	require.Equal(t, types.EventSystem, event.Type)
	require.Equal(t, "malformed frame", event.Info)
}

func TestUnknownActionRejectedInBand(t *testing.T) {
	srv := newTestServer(t, newFakeGateway())
	ws := dialClient(t, srv, "u1", "Amal")

	require.NoError(t, ws.WriteJSON(&clientFrame{Action: "fly"}))

	event := readEvent(t, ws)
	require.Equal(t, types.EventSystem, event.Type)
}

func TestDisconnectNotifiesRemainingMembers(t *testing.T) {
	// Given two clients in the same room
	srv := newTestServer(t, newFakeGateway())
	stayer := dialClient(t, srv, "u1", "Amal")
	joinRoom(t, stayer, "general")
	readUntilType(t, stayer, types.EventOnlineUsers)

	leaver := dialClient(t, srv, "u2", "Badr")
	joinRoom(t, leaver, "general")
	readUntilType(t, leaver, types.EventOnlineUsers)
	readUntilType(t, stayer, types.EventUserJoinedRoom)

	// When one disconnects abruptly
	require.NoError(t, leaver.Close())

	// Then the remaining member sees the leave and the shrunken snapshot
	left := readUntilType(t, stayer, types.EventUserLeftRoom)
	require.Equal(t, "u2", left.User.UserID)

	snapshot := readUntilType(t, stayer, types.EventOnlineUsers)
	require.Equal(t, []types.UserSummary{{UserID: "u1", Username: "Amal"}}, snapshot.Users)
}
