package protocol

import (
	"roomchat/models"
	"time"
)

const (
	ActionLogin    = "login"
	ActionRegister = "register"

	StatusSuccess = "success"
	StatusError   = "error"
)

// Command types sent by clients.
const (
	CmdCreateRoom   = "create_room"
	CmdListRooms    = "list_rooms"
	CmdJoinRoom     = "join_room"
	CmdLeaveRoom    = "leave_room"
	CmdDeleteRoom   = "delete_room"
	CmdClearRoom    = "clear_room"
	CmdMessage      = "message"
	CmdPrivate      = "private"
	CmdGetRoomUsers = "get_room_users"
	CmdGetMyRooms   = "get_my_rooms"
	CmdPing         = "ping"
)

// Reply and event types sent by the server.
const (
	TypeError             = "error"
	TypeRoomCreated       = "room_created"
	TypeRoomList          = "room_list"
	TypeRoomJoined        = "room_joined"
	TypeChatHistory       = "chat_history"
	TypeRoomUsers         = "room_users"
	TypeRoomLeft          = "room_left"
	TypeRoomDeleted       = "room_deleted"
	TypeRoomDeleteSuccess = "room_delete_success"
	TypeRoomCleared       = "room_cleared"
	TypeMessage           = "message"
	TypeSystem            = "system"
	TypePrivate           = "private"
	TypePrivateSent       = "private_sent"
	TypeMyRooms           = "my_rooms"
	TypePong              = "pong"
	TypeServerShutdown    = "server_shutdown"
)

const (
	clockLayout   = "15:04:05"
	historyLayout = "2006-01-02 15:04:05"
)

// Clock formats t the way live events carry their timestamp.
func Clock(t time.Time) string {
	return t.Format(clockLayout)
}

type AuthReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

// Notice is the shape shared by confirmations that only carry a room name
// and a human readable message.
type Notice struct {
	Type     string `json:"type"`
	RoomName string `json:"room_name,omitempty"`
	Message  string `json:"message"`
}

func NewNotice(typ, roomName, message string) Notice {
	return Notice{Type: typ, RoomName: roomName, Message: message}
}

type RoomSummary struct {
	Name        string `json:"name"`
	Creator     string `json:"creator,omitempty"`
	IsPrivate   bool   `json:"is_private"`
	UserCount   int    `json:"user_count"`
	Description string `json:"description"`
	CreatedAt   string `json:"created_at"`
}

func NewRoomSummary(room *models.Room, userCount int) RoomSummary {
	return RoomSummary{
		Name:        room.Name,
		Creator:     room.Creator,
		IsPrivate:   room.IsPrivate(),
		UserCount:   userCount,
		Description: room.Description,
		CreatedAt:   room.CreatedAt.Format(historyLayout),
	}
}

type RoomList struct {
	Type  string        `json:"type"`
	Rooms []RoomSummary `json:"rooms"`
}

type RoomJoined struct {
	Type        string `json:"type"`
	RoomName    string `json:"room_name"`
	Creator     string `json:"creator"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

type HistoryEntry struct {
	ID          int64  `json:"id"`
	RoomName    string `json:"room_name"`
	Username    string `json:"username"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	Timestamp   string `json:"timestamp"`
}

type ChatHistory struct {
	Type     string         `json:"type"`
	RoomName string         `json:"room_name"`
	Messages []HistoryEntry `json:"messages"`
	Count    int            `json:"count"`
}

func NewChatHistory(roomName string, messages []models.Message) ChatHistory {
	entries := make([]HistoryEntry, 0, len(messages))
	for _, m := range messages {
		entries = append(entries, HistoryEntry{
			ID:          m.ID,
			RoomName:    m.RoomName,
			Username:    m.Username,
			Content:     m.Content,
			MessageType: m.MessageType,
			Timestamp:   m.Timestamp.Format(historyLayout),
		})
	}
	return ChatHistory{Type: TypeChatHistory, RoomName: roomName, Messages: entries, Count: len(entries)}
}

type RoomUsers struct {
	Type     string   `json:"type"`
	RoomName string   `json:"room_name"`
	Users    []string `json:"users"`
}

// ChatMessage is a room message as delivered to members.
type ChatMessage struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Room      string `json:"room"`
	Timestamp string `json:"timestamp"`
}

// SystemNotice announces joins, departures and other room events.
type SystemNotice struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
}

func NewSystemNotice(message string, at time.Time) SystemNotice {
	return SystemNotice{Type: TypeSystem, Message: message, Username: models.SystemSender, Timestamp: Clock(at)}
}

type PrivateMessage struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type PrivateSent struct {
	Type      string `json:"type"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type Pong struct {
	Type string `json:"type"`
}
