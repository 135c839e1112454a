package db

import (
	"database/sql"
	"errors"
	"fmt"
	"roomchat/models"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists    = errors.New("user already exists")
	ErrUserNotFound  = errors.New("user not found")
	ErrWrongPassword = errors.New("incorrect password")
	ErrRoomExists    = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room not found")
)

// HashCost is the bcrypt cost used for new credentials.
var HashCost = bcrypt.DefaultCost

// Fixed width so that ORDER BY on the text column is chronological.
const timeLayout = "2006-01-02 15:04:05.000000"

const defaultDescription = "No description"

type DB struct {
	conn *sqlx.DB
}

// New opens (creating if needed) the sqlite database at path. database/sql
// gives every goroutine its own pooled connection per call, and sqlite
// serializes writers itself; busy_timeout makes concurrent writers wait
// instead of failing with SQLITE_BUSY.
func New(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL COLLATE NOCASE,
			password TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL COLLATE NOCASE,
			creator TEXT NOT NULL COLLATE NOCASE,
			password TEXT,
			description TEXT NOT NULL DEFAULT 'No description',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			room_name TEXT NOT NULL COLLATE NOCASE,
			username TEXT NOT NULL,
			content TEXT NOT NULL,
			message_type TEXT NOT NULL DEFAULT 'message',
			timestamp DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_name)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_rooms_creator ON rooms(creator)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error.
func (db *DB) withTx(fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

func now() string {
	return time.Now().UTC().Format(timeLayout)
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Seed inserts the default accounts and public rooms when the respective
// tables are empty.
func (db *DB) Seed() error {
	users := []struct{ name, password string }{
		{"admin", "admin123"},
		{"alice", "alice123"},
		{"bob", "bob123"},
		{"charlie", "charlie123"},
	}
	rooms := []struct{ name, description string }{
		{"General", "General chat for everyone"},
		{"Random", "Random discussions"},
		{"Tech", "Technology discussions"},
	}

	return db.withTx(func(tx *sqlx.Tx) error {
		var count int
		if err := tx.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
			return err
		}
		if count == 0 {
			for _, u := range users {
				hashed, err := hashPassword(u.password)
				if err != nil {
					return err
				}
				if _, err := tx.Exec(
					"INSERT INTO users (username, password, created_at) VALUES (?, ?, ?)",
					u.name, hashed, now(),
				); err != nil {
					return fmt.Errorf("failed to seed user %s: %w", u.name, err)
				}
			}
		}

		if err := tx.Get(&count, "SELECT COUNT(*) FROM rooms"); err != nil {
			return err
		}
		if count == 0 {
			for _, r := range rooms {
				if _, err := tx.Exec(
					"INSERT INTO rooms (name, creator, password, description, created_at) VALUES (?, ?, NULL, ?, ?)",
					r.name, "admin", r.description, now(),
				); err != nil {
					return fmt.Errorf("failed to seed room %s: %w", r.name, err)
				}
			}
		}
		return nil
	})
}

// User methods

func (db *DB) CreateUser(username, password string) error {
	hashed, err := hashPassword(password)
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(
		"INSERT INTO users (username, password, created_at) VALUES (?, ?, ?)",
		username, hashed, now(),
	)
	if isUniqueViolation(err) {
		return ErrUserExists
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (db *DB) GetUser(username string) (*models.User, error) {
	var user models.User
	err := db.conn.Get(&user, "SELECT * FROM users WHERE username = ?", username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// VerifyUser checks credentials and returns the username as it was first
// registered.
func (db *DB) VerifyUser(username, password string) (string, error) {
	user, err := db.GetUser(username)
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return "", ErrWrongPassword
	}
	return user.Username, nil
}

func (db *DB) UserExists(username string) (bool, error) {
	var count int
	if err := db.conn.Get(&count, "SELECT COUNT(*) FROM users WHERE username = ?", username); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (db *DB) UserCount() (int, error) {
	var count int
	err := db.conn.Get(&count, "SELECT COUNT(*) FROM users")
	return count, err
}

// Room methods

// CreateRoom stores a new room. password is nil for public rooms.
func (db *DB) CreateRoom(name, creator string, password *string, description string) error {
	if description == "" {
		description = defaultDescription
	}

	_, err := db.conn.Exec(
		"INSERT INTO rooms (name, creator, password, description, created_at) VALUES (?, ?, ?, ?, ?)",
		name, creator, password, description, now(),
	)
	if isUniqueViolation(err) {
		return ErrRoomExists
	}
	if err != nil {
		return fmt.Errorf("failed to create room: %w", err)
	}
	return nil
}

func (db *DB) GetRoom(name string) (*models.Room, error) {
	var room models.Room
	err := db.conn.Get(&room, "SELECT * FROM rooms WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &room, nil
}

func (db *DB) RoomExists(name string) (bool, error) {
	var count int
	if err := db.conn.Get(&count, "SELECT COUNT(*) FROM rooms WHERE name = ?", name); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListRooms returns every room ordered by name, optionally restricted to
// names containing search (case-insensitive).
func (db *DB) ListRooms(search string) ([]models.Room, error) {
	rooms := []models.Room{}
	var err error
	if search == "" {
		err = db.conn.Select(&rooms, "SELECT * FROM rooms ORDER BY name")
	} else {
		err = db.conn.Select(&rooms,
			`SELECT * FROM rooms WHERE name LIKE ? ESCAPE '\' ORDER BY name`,
			"%"+escapeLike(search)+"%",
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// RoomsByCreator returns the rooms created by creator, newest first.
func (db *DB) RoomsByCreator(creator string) ([]models.Room, error) {
	rooms := []models.Room{}
	err := db.conn.Select(&rooms, "SELECT * FROM rooms WHERE creator = ? ORDER BY created_at DESC, id DESC", creator)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms by creator: %w", err)
	}
	return rooms, nil
}

func (db *DB) CountUserRooms(creator string) (int, error) {
	var count int
	err := db.conn.Get(&count, "SELECT COUNT(*) FROM rooms WHERE creator = ?", creator)
	return count, err
}

func (db *DB) RoomCount() (int, error) {
	var count int
	err := db.conn.Get(&count, "SELECT COUNT(*) FROM rooms")
	return count, err
}

// DeleteRoom removes the room and its messages in one transaction.
func (db *DB) DeleteRoom(name string) error {
	return db.withTx(func(tx *sqlx.Tx) error {
		if _, err := tx.Exec("DELETE FROM messages WHERE room_name = ?", name); err != nil {
			return fmt.Errorf("failed to delete room messages: %w", err)
		}

		result, err := tx.Exec("DELETE FROM rooms WHERE name = ?", name)
		if err != nil {
			return fmt.Errorf("failed to delete room: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return ErrRoomNotFound
		}
		return nil
	})
}

// Message methods

func (db *DB) SaveMessage(roomName, username, content, messageType string) error {
	return db.SaveMessageAt(roomName, username, content, messageType, time.Now())
}

func (db *DB) SaveMessageAt(roomName, username, content, messageType string, ts time.Time) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (room_name, username, content, message_type, timestamp) VALUES (?, ?, ?, ?, ?)",
		roomName, username, content, messageType, ts.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// GetRoomMessages returns the most recent limit messages of a room in
// ascending chronological order.
func (db *DB) GetRoomMessages(roomName string, limit int) ([]models.Message, error) {
	messages := []models.Message{}
	err := db.conn.Select(&messages,
		"SELECT * FROM messages WHERE room_name = ? ORDER BY timestamp DESC, id DESC LIMIT ?",
		roomName, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get room messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (db *DB) MessageCount(roomName string) (int, error) {
	var count int
	err := db.conn.Get(&count, "SELECT COUNT(*) FROM messages WHERE room_name = ?", roomName)
	return count, err
}

func (db *DB) ClearRoomMessages(roomName string) error {
	if _, err := db.conn.Exec("DELETE FROM messages WHERE room_name = ?", roomName); err != nil {
		return fmt.Errorf("failed to clear room messages: %w", err)
	}
	return nil
}
