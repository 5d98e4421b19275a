package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"majlis/internal/broadcast"
	"majlis/internal/presence"
	"majlis/pkg/interfaces"
	"majlis/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is delegated to the reverse proxy in front of
		// this service.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// HandlerConfig tunes the per-connection behavior.
type HandlerConfig struct {
	PingInterval   time.Duration // interval between server pings
	PongWait       time.Duration // read deadline; reset on any pong or frame
	SendBuffer     int           // outbound queue size per connection
	GatewayTimeout time.Duration // bound on joinRoom/sendMessage gateway work
}

// clientFrame is the inbound wire format. Action selects which fields are
// meaningful.
type clientFrame struct {
	Action      string `json:"action"`
	RoomID      string `json:"roomId,omitempty"`
	Cursor      int64  `json:"cursor,omitempty"`
	Content     string `json:"content,omitempty"`
	MessageType string `json:"messageType,omitempty"`
}

const (
	actionJoinRoom    = "joinRoom"
	actionSendMessage = "sendMessage"
)

// Handler upgrades HTTP requests to WebSocket sessions and dispatches
// inbound frames to the presence coordinator and the broadcaster.
type Handler struct {
	presence    *presence.Coordinator
	broadcaster *broadcast.Broadcaster
	gateway     interfaces.Gateway
	config      HandlerConfig
}

// NewHandler creates a WebSocket handler.
func NewHandler(pres *presence.Coordinator, bcast *broadcast.Broadcaster, gateway interfaces.Gateway, config HandlerConfig) *Handler {
	if config.PingInterval <= 0 {
		config.PingInterval = 25 * time.Second
	}
	if config.PongWait <= 0 {
		config.PongWait = 60 * time.Second
	}
	if config.GatewayTimeout <= 0 {
		config.GatewayTimeout = 10 * time.Second
	}
	return &Handler{
		presence:    pres,
		broadcaster: bcast,
		gateway:     gateway,
		config:      config,
	}
}

// HandleWebSocket validates identity parameters, upgrades the connection,
// admits the session with the presence coordinator and runs its read loop.
// Identity is trusted here: authentication proper happens upstream and
// hands the validated identity over in query parameters.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	username := r.URL.Query().Get("username")

	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid or missing user_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidUsername(username) {
		http.Error(w, "Invalid or missing username", http.StatusBadRequest)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	session := &types.Session{
		ID:          uuid.New().String(),
		UserID:      userID,
		Username:    username,
		ConnectedAt: time.Now(),
	}

	conn := NewConnection(wsConn, session.ID, h.config.SendBuffer)

	if err := h.presence.Connect(session, conn); err != nil {
		log.Printf("Failed to admit session: user=%s err=%v", userID, err)
		_ = conn.Close()
		return
	}

	go h.pingLoop(conn)
	go h.readLoop(conn, session)
}

// readLoop decodes and dispatches client frames until the connection dies.
// A silently dead connection trips the read deadline because pongs stop
// arriving, so disconnect always reaches the presence coordinator even
// when the transport never reports a close.
func (h *Handler) readLoop(conn *Connection, session *types.Session) {
	defer func() {
		h.presence.Disconnect(session.ID)
		_ = conn.Close()
	}()

	ws := conn.conn
	_ = ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.PongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Connection read error: session=%s err=%v", session.ID, err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.config.PongWait))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			conn.Deliver(types.NewSystemEvent("malformed frame"))
			continue
		}

		h.dispatch(conn, session, &frame)
	}
}

// dispatch routes one inbound frame. Rejections go back to the sender as a
// system event; they never tear the connection down.
func (h *Handler) dispatch(conn *Connection, session *types.Session, frame *clientFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.GatewayTimeout)
	defer cancel()

	switch frame.Action {
	case actionJoinRoom:
		h.handleJoinRoom(ctx, conn, session, frame)
	case actionSendMessage:
		if _, err := h.broadcaster.SendMessage(ctx, session.ID, frame.Content, frame.MessageType); err != nil {
			log.Printf("Send rejected: session=%s err=%v", session.ID, err)
			conn.Deliver(types.NewSystemEvent(rejectionInfo(err)))
		}
	default:
		conn.Deliver(types.NewSystemEvent(fmt.Sprintf("unknown action %q", frame.Action)))
	}
}

// handleJoinRoom checks the room catalog before handing the join to the
// presence coordinator; the core itself trusts its callers on existence.
func (h *Handler) handleJoinRoom(ctx context.Context, conn *Connection, session *types.Session, frame *clientFrame) {
	if !types.IsValidRoomID(frame.RoomID) {
		conn.Deliver(types.NewSystemEvent(types.ErrInvalidRoomID.Error()))
		return
	}

	exists, err := h.gateway.RoomExists(ctx, frame.RoomID)
	if err != nil {
		log.Printf("Room existence check failed: room=%s err=%v", frame.RoomID, err)
		conn.Deliver(types.NewSystemEvent("could not verify room"))
		return
	}
	if !exists {
		conn.Deliver(types.NewSystemEvent(types.ErrRoomNotFound.Error()))
		return
	}

	if err := h.presence.JoinRoom(ctx, session.ID, frame.RoomID, frame.Cursor); err != nil {
		log.Printf("Join rejected: session=%s room=%s err=%v", session.ID, frame.RoomID, err)
		conn.Deliver(types.NewSystemEvent(rejectionInfo(err)))
	}
}

// pingLoop keeps the connection's liveness probe running for its lifetime.
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(sendTimeout)); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}

// rejectionInfo maps core errors to client-facing feedback without leaking
// internals.
func rejectionInfo(err error) string {
	switch {
	case errors.Is(err, types.ErrUnknownSession):
		return "session expired, reconnect required"
	case errors.Is(err, types.ErrNotInRoom):
		return "join a room before sending messages"
	case errors.Is(err, types.ErrInvalidContent):
		return "message is empty"
	case errors.Is(err, types.ErrContentTooLarge):
		return "message is too long"
	case errors.Is(err, types.ErrInvalidMessageType):
		return "unsupported message type"
	case errors.Is(err, types.ErrInvalidRoomID):
		return "invalid room"
	case errors.Is(err, types.ErrPersistence):
		return "message could not be saved, try again"
	default:
		return "request failed"
	}
}
