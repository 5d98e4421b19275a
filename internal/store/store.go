package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/samber/lo"

	"majlis/pkg/types"
)

// Config holds store tuning knobs.
type Config struct {
	DatabasePath    string
	MaxConnections  int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store is the SQLite-backed persistence gateway. All writes funnel
// through a single goroutine: SQLite allows one writer at a time and a
// single append path is what gives messages their monotonic per-room IDs.
// Reads run concurrently on the connection pool.
type Store struct {
	db           *sql.DB
	config       *Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

// writeOperation is one queued write and its completion channel.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// enqueueTimeout bounds how long a caller waits for the write loop to
// accept an operation before giving up.
const enqueueTimeout = 30 * time.Second

// NewStore opens the database, applies pragmas and migrations, and starts
// the write loop.
func NewStore(config *Config) (*Store, error) {
	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite pragmas: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	s := &Store{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop processes all write operations in a single goroutine.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			op.result <- op.operation(s.db)
		case <-s.shutdown:
			log.Println("Store write loop shutting down")
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion.
func (s *Store) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case s.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(enqueueTimeout):
		return ErrWriteTimeout
	case <-s.shutdown:
		return ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		// The operation may still complete in the write loop; the caller
		// only learns it gave up waiting.
		return ctx.Err()
	}
}

// AppendMessage durably stores a message, assigning its ID from the
// messages table's AUTOINCREMENT sequence and its timestamp at insert
// time. Implements interfaces.Gateway.
func (s *Store) AppendMessage(ctx context.Context, roomID, senderID, senderName, content, messageType string) (*types.Message, error) {
	msg := &types.Message{
		RoomID:     roomID,
		SenderID:   senderID,
		SenderName: senderName,
		Content:    content,
		Type:       messageType,
		CreatedAt:  time.Now().UTC(),
	}

	err := s.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO messages (room_id, sender_id, sender_name, content, message_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		res, err := db.ExecContext(ctx, query,
			msg.RoomID,
			msg.SenderID,
			msg.SenderName,
			msg.Content,
			msg.Type,
			msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read inserted message ID: %w", err)
		}
		msg.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// RecentMessages returns up to limit of the newest messages for a room,
// ordered oldest first. Implements interfaces.Gateway.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, room_id, sender_id, sender_name, content, message_type, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message

	for rows.Next() {
		var msg types.Message
		err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.Content,
			&msg.Type,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	// The query walks the index newest first; callers want oldest first.
	return lo.Reverse(messages), nil
}

// MessagesBefore returns up to limit messages older than beforeID for a
// room, ordered oldest first. Drives backward pagination through history.
func (s *Store) MessagesBefore(ctx context.Context, roomID string, beforeID int64, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, room_id, sender_id, sender_name, content, message_type, created_at
		FROM messages
		WHERE room_id = ? AND id < ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, roomID, beforeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages before %d: %w", beforeID, err)
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.Message
	for rows.Next() {
		var msg types.Message
		err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.Content,
			&msg.Type,
			&msg.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, &msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	return lo.Reverse(messages), nil
}

// RoomMembers returns the persisted membership mirror for a room. Live
// presence never reads this; it exists for cold-start reconciliation and
// the occupancy API. Implements interfaces.Gateway.
func (s *Store) RoomMembers(ctx context.Context, roomID string) ([]types.UserSummary, error) {
	query := `
		SELECT user_id, username
		FROM room_members
		WHERE room_id = ?
		ORDER BY user_id
	`

	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to query room members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []types.UserSummary
	for rows.Next() {
		var m types.UserSummary
		if err := rows.Scan(&m.UserID, &m.Username); err != nil {
			return nil, fmt.Errorf("failed to scan member row: %w", err)
		}
		members = append(members, m)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member rows: %w", err)
	}

	return members, nil
}

// SaveMembership upserts a row in the membership mirror.
func (s *Store) SaveMembership(ctx context.Context, roomID string, user types.UserSummary) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		query := `
			INSERT INTO room_members (room_id, user_id, username, joined_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(room_id, user_id) DO UPDATE SET username = excluded.username, joined_at = excluded.joined_at
		`
		if _, err := db.ExecContext(ctx, query, roomID, user.UserID, user.Username, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to save membership: %w", err)
		}
		return nil
	})
}

// RemoveMembership deletes a row from the membership mirror. Removing an
// absent row is not an error.
func (s *Store) RemoveMembership(ctx context.Context, roomID, userID string) error {
	return s.executeWrite(ctx, func(db *sql.DB) error {
		query := `DELETE FROM room_members WHERE room_id = ? AND user_id = ?`
		if _, err := db.ExecContext(ctx, query, roomID, userID); err != nil {
			return fmt.Errorf("failed to remove membership: %w", err)
		}
		return nil
	})
}

// RoomExists reports whether a room is in the catalog.
func (s *Store) RoomExists(ctx context.Context, roomID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM rooms WHERE id = ?`, roomID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query room: %w", err)
	}
	return true, nil
}

// CreateRoom adds a room to the catalog.
func (s *Store) CreateRoom(ctx context.Context, room *types.Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	return s.executeWrite(ctx, func(db *sql.DB) error {
		query := `INSERT INTO rooms (id, name, created_at) VALUES (?, ?, ?)`
		if _, err := db.ExecContext(ctx, query, room.ID, room.Name, room.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert room: %w", err)
		}
		return nil
	})
}

// ListRooms returns the room catalog ordered by creation time.
func (s *Store) ListRooms(ctx context.Context) ([]*types.Room, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM rooms ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rooms []*types.Room
	for rows.Next() {
		var room types.Room
		if err := rows.Scan(&room.ID, &room.Name, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan room row: %w", err)
		}
		rooms = append(rooms, &room)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room rows: %w", err)
	}

	return rooms, nil
}

// MessageCount reports the total number of stored messages, for the stats
// endpoint.
func (s *Store) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// HealthCheck validates database connectivity and a basic read.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.QueryContext(ctx, `SELECT COUNT(*) FROM rooms LIMIT 1`); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// Close shuts down the write loop and the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// applyPragmas applies the SQLite settings the store depends on.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	return nil
}
