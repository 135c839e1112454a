package models

import "time"

const (
	MessageTypeChat   = "message"
	MessageTypeSystem = "system"

	// SystemSender is the username recorded for join/leave notices.
	SystemSender = "System"
)

type User struct {
	ID        int64     `db:"id"`
	Username  string    `db:"username"`
	Password  string    `db:"password"` // bcrypt hash
	CreatedAt time.Time `db:"created_at"`
}

type Room struct {
	ID          int64     `db:"id"`
	Name        string    `db:"name"`
	Creator     string    `db:"creator"`
	Password    *string   `db:"password"` // nil for public rooms
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r *Room) IsPrivate() bool {
	return r.Password != nil
}

type Message struct {
	ID          int64     `db:"id"`
	RoomName    string    `db:"room_name"`
	Username    string    `db:"username"`
	Content     string    `db:"content"`
	MessageType string    `db:"message_type"`
	Timestamp   time.Time `db:"timestamp"`
}
