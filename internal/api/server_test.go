package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"majlis/internal/history"
	"majlis/internal/presence"
	"majlis/internal/registry"
	"majlis/pkg/types"
)

type fakeStore struct {
	mu        sync.Mutex
	rooms     []*types.Room
	messages  map[string][]*types.Message
	members   map[string][]types.UserSummary
	healthErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rooms:    []*types.Room{{ID: "general", Name: "الدردشة العامة", CreatedAt: time.Now()}},
		messages: make(map[string][]*types.Message),
		members:  make(map[string][]types.UserSummary),
	}
}

func (s *fakeStore) AppendMessage(ctx context.Context, roomID, senderID, senderName, content, messageType string) (*types.Message, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages[roomID], nil
}

func (s *fakeStore) MessagesBefore(ctx context.Context, roomID string, beforeID int64, limit int) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Message
	for _, msg := range s.messages[roomID] {
		if msg.ID < beforeID {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (s *fakeStore) RoomMembers(ctx context.Context, roomID string) ([]types.UserSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[roomID], nil
}

func (s *fakeStore) SaveMembership(ctx context.Context, roomID string, user types.UserSummary) error {
	return nil
}

func (s *fakeStore) RemoveMembership(ctx context.Context, roomID, userID string) error {
	return nil
}

func (s *fakeStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.rooms {
		if room.ID == roomID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) CreateRoom(ctx context.Context, room *types.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = append(s.rooms, room)
	return nil
}

func (s *fakeStore) ListRooms(ctx context.Context) ([]*types.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.Room(nil), s.rooms...), nil
}

func (s *fakeStore) MessageCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, msgs := range s.messages {
		n += int64(len(msgs))
	}
	return n, nil
}

func (s *fakeStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthErr
}

type fixture struct {
	server   *Server
	store    *fakeStore
	presence *presence.Coordinator
}

func newFixture() *fixture {
	store := newFakeStore()
	reg := registry.NewRegistry()
	boot := history.NewBootstrapper(store, 50)
	pres := presence.NewCoordinator(reg, boot, store)
	return &fixture{
		server:   NewServer(store, pres, reg),
		store:    store,
		presence: pres,
	}
}

type nullDeliverer struct{}

func (nullDeliverer) Send(*types.Event) error { return nil }
func (nullDeliverer) Deliver(*types.Event)    {}
func (nullDeliverer) Close() error            { return nil }

func (f *fixture) join(t *testing.T, sessionID, userID, roomID string) {
	t.Helper()
	session := &types.Session{ID: sessionID, UserID: userID, Username: "name-" + userID}
	require.NoError(t, f.presence.Connect(session, nullDeliverer{}))
	require.NoError(t, f.presence.JoinRoom(context.Background(), sessionID, roomID, 0))
}

func (f *fixture) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsHealthy(t *testing.T) {
	f := newFixture()

	rec := f.request(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "healthy", health.Status)
	require.Equal(t, "healthy", health.Database)
}

func TestHealthReportsUnavailableOnStoreFailure(t *testing.T) {
	f := newFixture()
	f.store.healthErr = errors.New("locked")

	rec := f.request(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "unhealthy", health.Status)
}

func TestListRoomsIncludesLiveOccupancy(t *testing.T) {
	// Given two sessions in the catalog's room
	f := newFixture()
	f.join(t, "s1", "u1", "general")
	f.join(t, "s2", "u2", "general")

	// When listing rooms
	rec := f.request(t, http.MethodGet, "/api/rooms", "")

	// Then the room carries its live occupant count
	require.Equal(t, http.StatusOK, rec.Code)
	var list RoomListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Rooms, 1)
	require.Equal(t, "general", list.Rooms[0].ID)
	require.Equal(t, 2, list.Rooms[0].OnlineCount)
}

func TestCreateRoom(t *testing.T) {
	f := newFixture()

	rec := f.request(t, http.MethodPost, "/api/rooms", `{"id":"tech","name":"التقنية"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var room types.Room
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &room))
	require.Equal(t, "tech", room.ID)
	require.Equal(t, "التقنية", room.Name)
}

func TestCreateRoomConflict(t *testing.T) {
	f := newFixture()

	rec := f.request(t, http.MethodPost, "/api/rooms", `{"id":"general"}`)

	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateRoomRejectsInvalidInput(t *testing.T) {
	f := newFixture()

	for _, body := range []string{`{"id":"bad id"}`, `{"id":""}`, `not json`} {
		rec := f.request(t, http.MethodPost, "/api/rooms", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}

func TestRoomMembersLiveSource(t *testing.T) {
	f := newFixture()
	f.join(t, "s1", "u1", "general")

	rec := f.request(t, http.MethodGet, "/api/rooms/general/members", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MembersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "live", resp.Source)
	require.Equal(t, []types.UserSummary{{UserID: "u1", Username: "name-u1"}}, resp.Members)
}

func TestRoomMembersStoreSource(t *testing.T) {
	// Given a mirror that disagrees with live presence
	f := newFixture()
	f.store.members["general"] = []types.UserSummary{{UserID: "u9", Username: "Stale"}}

	rec := f.request(t, http.MethodGet, "/api/rooms/general/members?source=store", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MembersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "store", resp.Source)
	require.Equal(t, "u9", resp.Members[0].UserID)
}

func TestRoomMembersRejectsUnknownSource(t *testing.T) {
	f := newFixture()

	rec := f.request(t, http.MethodGet, "/api/rooms/general/members?source=cache", "")

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoomMessages(t *testing.T) {
	f := newFixture()
	f.store.messages["general"] = []*types.Message{
		{ID: 1, RoomID: "general", Content: "hello"},
	}

	rec := f.request(t, http.MethodGet, "/api/rooms/general/messages", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	require.Equal(t, "hello", resp.Messages[0].Content)
}

func TestRoomMessagesPagesBackward(t *testing.T) {
	f := newFixture()
	f.store.messages["general"] = []*types.Message{
		{ID: 1, RoomID: "general", Content: "oldest"},
		{ID: 2, RoomID: "general", Content: "middle"},
		{ID: 3, RoomID: "general", Content: "newest"},
	}

	rec := f.request(t, http.MethodGet, "/api/rooms/general/messages?before=3", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)
	require.Equal(t, "oldest", resp.Messages[0].Content)
	require.Equal(t, "middle", resp.Messages[1].Content)
}

func TestRoomMessagesRejectsBadCursor(t *testing.T) {
	f := newFixture()

	for _, before := range []string{"0", "-1", "junk"} {
		rec := f.request(t, http.MethodGet, "/api/rooms/general/messages?before="+before, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, "before: %s", before)
	}
}

func TestRoomMessagesRejectsBadLimit(t *testing.T) {
	f := newFixture()

	for _, limit := range []string{"0", "-5", "junk", "501"} {
		rec := f.request(t, http.MethodGet, "/api/rooms/general/messages?limit="+limit, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, "limit: %s", limit)
	}
}

func TestStats(t *testing.T) {
	f := newFixture()
	f.join(t, "s1", "u1", "general")
	f.store.messages["general"] = []*types.Message{{ID: 1}}

	rec := f.request(t, http.MethodGet, "/api/stats", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var stats StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Equal(t, 1, stats.Sessions)
	require.Equal(t, int64(1), stats.MessageCount)
	require.Equal(t, 1, stats.Registry["occupied_rooms"])
}

func TestUnknownRoomResource(t *testing.T) {
	f := newFixture()

	require.Equal(t, http.StatusNotFound, f.request(t, http.MethodGet, "/api/rooms/general/walls", "").Code)
	require.Equal(t, http.StatusBadRequest, f.request(t, http.MethodGet, "/api/rooms/", "").Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture()

	require.Equal(t, http.StatusMethodNotAllowed, f.request(t, http.MethodDelete, "/api/rooms", "").Code)
	require.Equal(t, http.StatusMethodNotAllowed, f.request(t, http.MethodPost, "/api/stats", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture()

	rec := f.request(t, http.MethodOptions, "/api/rooms", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
