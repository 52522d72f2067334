package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/samber/lo"

	"github.com/vovakirdan/roomrelay/internal/store"
)

// Schema creates every table the store needs. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS rooms (
	name          TEXT PRIMARY KEY,
	password_hash TEXT NOT NULL DEFAULT '',
	description   TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS room_keywords (
	room_name TEXT NOT NULL,
	keyword   TEXT NOT NULL,
	PRIMARY KEY (room_name, keyword),
	FOREIGN KEY (room_name) REFERENCES rooms(name)
);

CREATE TABLE IF NOT EXISTS tokens (
	token      TEXT NOT NULL,
	room_name  TEXT NOT NULL,
	valid_till INTEGER NOT NULL,
	PRIMARY KEY (token, room_name)
);

CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	room_name  TEXT NOT NULL,
	user_name  TEXT NOT NULL,
	text       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_name, id DESC);
CREATE INDEX IF NOT EXISTS idx_room_keywords_keyword ON room_keywords(keyword);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema or seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== MessageStore implementation ====

// InsertMessage persists a chat message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, room, user, text string) error {
	query := `
		INSERT INTO messages (room_name, user_name, text, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, room, user, text, s.now().UnixNano()); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns one page of room history, most recent first.
func (s *SQLiteStore) ListMessages(ctx context.Context, room string, page, pageSize int) ([]*store.Message, error) {
	if page < 0 || pageSize <= 0 {
		return nil, fmt.Errorf("invalid page %d/%d", page, pageSize)
	}

	query := `
		SELECT room_name, user_name, text, created_at
		FROM messages
		WHERE room_name = ?
		ORDER BY id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, room, pageSize, page*pageSize)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0, pageSize)
	for rows.Next() {
		var (
			msg       store.Message
			createdAt int64
		)
		if err := rows.Scan(&msg.Room, &msg.User, &msg.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.CreatedAt = time.Unix(0, createdAt)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	return messages, nil
}

// ==== TokenStore implementation ====

// InsertToken stores a token bound to a room.
func (s *SQLiteStore) InsertToken(ctx context.Context, token *store.Token) error {
	query := `
		INSERT INTO tokens (token, room_name, valid_till)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, token.Value, token.Room, token.ValidTill.UnixNano()); err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// IsTokenValid reports whether the token exists for the room and has not expired.
func (s *SQLiteStore) IsTokenValid(ctx context.Context, token, room string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM tokens
		WHERE token = ? AND room_name = ? AND valid_till >= ?
	`
	var count int
	if err := s.db.QueryRowContext(ctx, query, token, room, s.now().UnixNano()).Scan(&count); err != nil {
		return false, fmt.Errorf("query token: %w", err)
	}
	return count > 0, nil
}

// DeleteToken removes the token. Deleting a missing token is not an error.
func (s *SQLiteStore) DeleteToken(ctx context.Context, token, room string) error {
	query := `DELETE FROM tokens WHERE token = ? AND room_name = ?`
	if _, err := s.db.ExecContext(ctx, query, token, room); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// ==== RoomStore implementation ====

// CreateRoom inserts a new room with its keywords.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *store.Room) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if room.CreatedAt.IsZero() {
		room.CreatedAt = s.now()
	}

	query := `
		INSERT INTO rooms (name, password_hash, description, created_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err = tx.ExecContext(ctx, query, room.Name, room.PasswordHash, room.Description, room.CreatedAt.UnixNano()); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return store.ErrRoomExists
		}
		return fmt.Errorf("insert room: %w", err)
	}

	for _, keyword := range store.NormalizeKeywords(room.Keywords) {
		if _, err = tx.ExecContext(ctx, `INSERT INTO room_keywords (room_name, keyword) VALUES (?, ?)`, room.Name, keyword); err != nil {
			return fmt.Errorf("insert room keyword: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit room: %w", err)
	}
	return nil
}

// GetRoomByName retrieves a room by name.
func (s *SQLiteStore) GetRoomByName(ctx context.Context, name string) (*store.Room, error) {
	query := `
		SELECT name, password_hash, description, created_at
		FROM rooms
		WHERE name = ?
	`
	room, err := scanRoom(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query room: %w", err)
	}

	keywords, err := s.roomKeywords(ctx, room.Name)
	if err != nil {
		return nil, err
	}
	room.Keywords = keywords
	return room, nil
}

// FindRooms lists rooms tagged with any of the keywords, or all rooms if none given.
func (s *SQLiteStore) FindRooms(ctx context.Context, keywords []string) ([]*store.Room, error) {
	keywords = store.NormalizeKeywords(keywords)

	query := `SELECT name, password_hash, description, created_at FROM rooms ORDER BY name`
	args := make([]any, 0, len(keywords))
	if len(keywords) > 0 {
		placeholders := strings.Join(lo.Map(keywords, func(string, int) string { return "?" }), ", ")
		query = `
			SELECT DISTINCT r.name, r.password_hash, r.description, r.created_at
			FROM rooms r
			JOIN room_keywords k ON k.room_name = r.name
			WHERE k.keyword IN (` + placeholders + `)
			ORDER BY r.name
		`
		for _, k := range keywords {
			args = append(args, k)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}

	var rooms []*store.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	// Release the single connection before querying keywords.
	rows.Close()

	for _, room := range rooms {
		if room.Keywords, err = s.roomKeywords(ctx, room.Name); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

func (s *SQLiteStore) roomKeywords(ctx context.Context, room string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT keyword FROM room_keywords WHERE room_name = ? ORDER BY keyword`, room)
	if err != nil {
		return nil, fmt.Errorf("query room keywords: %w", err)
	}
	defer rows.Close()

	var keywords []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan room keyword: %w", err)
		}
		keywords = append(keywords, k)
	}
	return keywords, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*store.Room, error) {
	var (
		room      store.Room
		createdAt int64
	)
	if err := row.Scan(&room.Name, &room.PasswordHash, &room.Description, &createdAt); err != nil {
		return nil, err
	}
	room.CreatedAt = time.Unix(0, createdAt)
	return &room, nil
}
