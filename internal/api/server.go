package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"majlis/internal/presence"
	"majlis/internal/registry"
	"majlis/pkg/interfaces"
	"majlis/pkg/types"
)

// Store widens the gateway with the read-side extras the API exposes.
type Store interface {
	interfaces.Gateway
	MessagesBefore(ctx context.Context, roomID string, beforeID int64, limit int) ([]*types.Message, error)
	MessageCount(ctx context.Context) (int64, error)
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP API: health, stats, room catalog and occupancy.
// No business logic lives here, only HTTP handling and JSON serialization.
type Server struct {
	store     Store
	presence  *presence.Coordinator
	registry  *registry.Registry
	router    *http.ServeMux
	startedAt time.Time
}

// NewServer creates the API server and sets up its routes.
func NewServer(store Store, pres *presence.Coordinator, reg *registry.Registry) *Server {
	s := &Server{
		store:     store,
		presence:  pres,
		registry:  reg,
		router:    http.NewServeMux(),
		startedAt: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/rooms", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRooms))))
	s.router.Handle("/api/rooms/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoomByID))))
	s.router.Handle("/api/stats", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStats))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/response types for JSON serialization.

type CreateRoomRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type RoomListResponse struct {
	Rooms []RoomWithOccupancy `json:"rooms"`
}

type RoomWithOccupancy struct {
	*types.Room
	OnlineCount int `json:"online_count"`
}

type MembersResponse struct {
	RoomID  string              `json:"roomId"`
	Source  string              `json:"source"`
	Members []types.UserSummary `json:"members"`
}

type MessagesResponse struct {
	RoomID   string           `json:"roomId"`
	Messages []*types.Message `json:"messages"`
}

type StatsResponse struct {
	Sessions     int            `json:"sessions"`
	Registry     map[string]int `json:"registry"`
	MessageCount int64          `json:"message_count"`
	Timestamp    time.Time      `json:"timestamp"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	UptimeSec int64     `json:"uptime_sec"`
	Timestamp time.Time `json:"timestamp"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// handleRooms serves the rooms collection: GET lists the catalog with live
// occupancy, POST creates a room.
func (s *Server) handleRooms(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRooms(w, r)
	case http.MethodPost:
		s.createRoom(w, r)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRoomByID serves /api/rooms/{id}/members and
// /api/rooms/{id}/messages.
func (s *Server) handleRoomByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/rooms/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		s.sendError(w, "Expected /api/rooms/{id}/members or /api/rooms/{id}/messages", http.StatusBadRequest)
		return
	}

	roomID := parts[0]
	if !types.IsValidRoomID(roomID) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}

	switch parts[1] {
	case "members":
		s.roomMembers(w, r, roomID)
	case "messages":
		s.roomMessages(w, r, roomID)
	default:
		s.sendError(w, "Unknown room resource", http.StatusNotFound)
	}
}

func (s *Server) listRooms(w http.ResponseWriter, r *http.Request) {
	rooms, err := s.store.ListRooms(r.Context())
	if err != nil {
		s.sendError(w, "Failed to list rooms", http.StatusInternalServerError)
		return
	}

	withOccupancy := make([]RoomWithOccupancy, len(rooms))
	for i, room := range rooms {
		withOccupancy[i] = RoomWithOccupancy{
			Room:        room,
			OnlineCount: len(s.registry.MembersOf(room.ID)),
		}
	}

	_ = json.NewEncoder(w).Encode(RoomListResponse{Rooms: withOccupancy})
}

func (s *Server) createRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if !types.IsValidRoomID(req.ID) {
		s.sendError(w, "Invalid room ID", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		req.Name = req.ID
	}

	exists, err := s.store.RoomExists(r.Context(), req.ID)
	if err != nil {
		s.sendError(w, "Failed to check room", http.StatusInternalServerError)
		return
	}
	if exists {
		s.sendError(w, "Room already exists", http.StatusConflict)
		return
	}

	room := &types.Room{ID: req.ID, Name: req.Name}
	if err := s.store.CreateRoom(r.Context(), room); err != nil {
		log.Printf("Room creation failed: room=%s err=%v", req.ID, err)
		s.sendError(w, "Failed to create room", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(room)
}

// roomMembers returns the room's occupants. Default source is the live
// registry; ?source=store reads the persisted mirror instead, which is
// what an operator compares against when hunting drift.
func (s *Server) roomMembers(w http.ResponseWriter, r *http.Request, roomID string) {
	source := r.URL.Query().Get("source")

	var members []types.UserSummary
	switch source {
	case "", "live":
		source = "live"
		members = s.presence.RoomUsers(roomID)
	case "store":
		var err error
		members, err = s.store.RoomMembers(r.Context(), roomID)
		if err != nil {
			s.sendError(w, "Failed to read membership mirror", http.StatusInternalServerError)
			return
		}
	default:
		s.sendError(w, "source must be live or store", http.StatusBadRequest)
		return
	}

	_ = json.NewEncoder(w).Encode(MembersResponse{
		RoomID:  roomID,
		Source:  source,
		Members: members,
	})
}

func (s *Server) roomMessages(w http.ResponseWriter, r *http.Request, roomID string) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 || limit > 500 {
			s.sendError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
	}

	var messages []*types.Message
	var err error
	if raw := r.URL.Query().Get("before"); raw != "" {
		var before int64
		if _, scanErr := fmt.Sscanf(raw, "%d", &before); scanErr != nil || before <= 0 {
			s.sendError(w, "before must be a positive message ID", http.StatusBadRequest)
			return
		}
		messages, err = s.store.MessagesBefore(r.Context(), roomID, before, limit)
	} else {
		messages, err = s.store.RecentMessages(r.Context(), roomID, limit)
	}
	if err != nil {
		s.sendError(w, "Failed to read messages", http.StatusInternalServerError)
		return
	}

	_ = json.NewEncoder(w).Encode(MessagesResponse{RoomID: roomID, Messages: messages})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count, err := s.store.MessageCount(r.Context())
	if err != nil {
		log.Printf("Stats message count failed: %v", err)
		count = -1
	}

	_ = json.NewEncoder(w).Encode(StatsResponse{
		Sessions:     s.presence.SessionCount(),
		Registry:     s.registry.Stats(),
		MessageCount: count,
		Timestamp:    time.Now(),
	})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.store.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	_ = json.NewEncoder(w).Encode(HealthResponse{
		Status:    status,
		Database:  dbStatus,
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
		Timestamp: time.Now(),
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
