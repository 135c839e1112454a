package server

import (
	"errors"
	"fmt"
	"log"
	"roomchat/db"
	"roomchat/models"
	"roomchat/protocol"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const maxDescriptionLength = 100

func (s *Server) dispatch(sess *Session, req *protocol.Request) {
	switch req.Type {
	case protocol.CmdCreateRoom:
		s.handleCreateRoom(sess, req)
	case protocol.CmdListRooms:
		s.handleListRooms(sess, req)
	case protocol.CmdJoinRoom:
		s.handleJoinRoom(sess, req)
	case protocol.CmdLeaveRoom:
		s.handleLeaveRoom(sess)
	case protocol.CmdDeleteRoom:
		s.handleDeleteRoom(sess, req)
	case protocol.CmdClearRoom:
		s.handleClearRoom(sess, req)
	case protocol.CmdMessage:
		s.handleRoomMessage(sess, req)
	case protocol.CmdPrivate:
		s.handlePrivateMessage(sess, req)
	case protocol.CmdGetRoomUsers:
		s.handleGetRoomUsers(sess, req)
	case protocol.CmdGetMyRooms:
		s.handleGetMyRooms(sess)
	case protocol.CmdPing:
		sess.Send(protocol.Pong{Type: protocol.TypePong})
	default:
		log.Printf("Unknown message type from %s: %q", sess, req.Type)
	}
}

func (s *Server) sendError(sess *Session, message string) {
	sess.Send(protocol.NewError(message))
}

func (s *Server) isAdmin(username string) bool {
	return s.config.AdminUser != "" && SameName(username, s.config.AdminUser)
}

func (s *Server) canManage(sess *Session, room *models.Room) bool {
	return SameName(room.Creator, sess.Username) || s.isAdmin(sess.Username)
}

func (s *Server) validateRoomName(name string) string {
	n := utf8.RuneCountInString(name)
	if n < s.config.MinRoomNameLength {
		return fmt.Sprintf("Room name must be at least %d characters", s.config.MinRoomNameLength)
	}
	if n > s.config.MaxRoomNameLength {
		return fmt.Sprintf("Room name must be %d characters or less", s.config.MaxRoomNameLength)
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_' {
			continue
		}
		return "Room name can only contain letters, numbers, spaces, hyphens, and underscores"
	}
	return ""
}

func truncate(s string, max int) (string, bool) {
	if utf8.RuneCountInString(s) <= max {
		return s, false
	}
	return string([]rune(s)[:max]), true
}

func (s *Server) handleCreateRoom(sess *Session, req *protocol.Request) {
	name := strings.TrimSpace(req.RoomName)
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "No description"
	}
	description, _ = truncate(description, maxDescriptionLength)

	// Private rooms are not offered yet; the join path already honours a
	// stored password.
	if req.Password != "" {
		s.sendError(sess, "Private rooms are coming soon! Stay tuned.")
		return
	}

	if msg := s.validateRoomName(name); msg != "" {
		s.sendError(sess, msg)
		return
	}

	exists, err := s.db.RoomExists(name)
	if err != nil {
		log.Printf("Create room error: %v", err)
		s.sendError(sess, "Internal error")
		return
	}
	if exists {
		s.sendError(sess, "A room with this name already exists")
		return
	}

	if !s.isAdmin(sess.Username) {
		count, err := s.db.CountUserRooms(sess.Username)
		if err != nil {
			log.Printf("Create room error: %v", err)
			s.sendError(sess, "Internal error")
			return
		}
		if count >= s.config.MaxRoomsPerUser {
			s.sendError(sess, fmt.Sprintf("You can only create %d room(s). Delete an existing room first.", s.config.MaxRoomsPerUser))
			return
		}
	}

	err = s.db.CreateRoom(name, sess.Username, nil, description)
	switch {
	case errors.Is(err, db.ErrRoomExists):
		s.sendError(sess, "A room with this name already exists")
		return
	case err != nil:
		log.Printf("Create room error: %v", err)
		s.sendError(sess, "Failed to create room")
		return
	}

	log.Printf("Room %q created by %s", name, sess.Username)
	sess.Send(protocol.NewNotice(protocol.TypeRoomCreated, name, fmt.Sprintf("Room %q created successfully!", name)))
}

func (s *Server) roomSummaries(rooms []models.Room) []protocol.RoomSummary {
	counts := s.registry.MemberCounts()
	summaries := make([]protocol.RoomSummary, 0, len(rooms))
	for i := range rooms {
		summaries = append(summaries, protocol.NewRoomSummary(&rooms[i], counts[rooms[i].Name]))
	}
	return summaries
}

func (s *Server) handleListRooms(sess *Session, req *protocol.Request) {
	rooms, err := s.db.ListRooms(strings.TrimSpace(req.Search))
	if err != nil {
		log.Printf("List rooms error: %v", err)
		s.sendError(sess, "Internal error")
		return
	}

	summaries := s.roomSummaries(rooms)
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].UserCount != summaries[j].UserCount {
			return summaries[i].UserCount > summaries[j].UserCount
		}
		return strings.ToLower(summaries[i].Name) < strings.ToLower(summaries[j].Name)
	})

	sess.Send(protocol.RoomList{Type: protocol.TypeRoomList, Rooms: summaries})
}

func (s *Server) handleJoinRoom(sess *Session, req *protocol.Request) {
	name := strings.TrimSpace(req.RoomName)

	room, err := s.db.GetRoom(name)
	if errors.Is(err, db.ErrRoomNotFound) {
		s.sendError(sess, fmt.Sprintf("Room %q does not exist", name))
		return
	}
	if err != nil {
		log.Printf("Join room error: %v", err)
		s.sendError(sess, "Internal error")
		return
	}

	if room.IsPrivate() && req.Password != *room.Password {
		s.sendError(sess, "Incorrect room password")
		return
	}

	previous := s.registry.SetRoom(sess, room.Name)
	rejoin := previous == room.Name
	if previous != "" && !rejoin {
		s.broadcast(previous, protocol.NewSystemNotice(sess.Username+" left the room", time.Now()), nil, true)
	}

	sess.Send(protocol.RoomJoined{
		Type:        protocol.TypeRoomJoined,
		RoomName:    room.Name,
		Creator:     room.Creator,
		Description: room.Description,
		Message:     fmt.Sprintf("Joined room %q!", room.Name),
	})

	messages, err := s.db.GetRoomMessages(room.Name, s.config.HistoryLimit)
	if err != nil {
		log.Printf("History error for %s: %v", room.Name, err)
		messages = nil
	}
	sess.Send(protocol.NewChatHistory(room.Name, messages))

	s.sendRoomUsers(sess, room.Name)

	if !rejoin {
		s.broadcast(room.Name, protocol.NewSystemNotice(sess.Username+" joined the room!", time.Now()), sess, true)
	}
	log.Printf("%s joined %q", sess.Username, room.Name)
}

func (s *Server) handleLeaveRoom(sess *Session) {
	previous := s.registry.SetRoom(sess, "")
	if previous == "" {
		s.sendError(sess, "You are not in any room")
		return
	}

	s.broadcast(previous, protocol.NewSystemNotice(sess.Username+" left the room", time.Now()), nil, true)
	sess.Send(protocol.NewNotice(protocol.TypeRoomLeft, previous, fmt.Sprintf("Left room %q", previous)))
	log.Printf("%s left %q", sess.Username, previous)
}

func (s *Server) handleDeleteRoom(sess *Session, req *protocol.Request) {
	name := strings.TrimSpace(req.RoomName)

	room, err := s.db.GetRoom(name)
	if errors.Is(err, db.ErrRoomNotFound) {
		s.sendError(sess, fmt.Sprintf("Room %q does not exist", name))
		return
	}
	if err != nil {
		log.Printf("Delete room error: %v", err)
		s.sendError(sess, "Internal error")
		return
	}

	if !s.canManage(sess, room) {
		s.sendError(sess, "Only the room creator can delete this room")
		return
	}

	// Members leave before the row goes so nothing more is stored under it.
	evicted := s.registry.Evict(room.Name)

	err = s.db.DeleteRoom(room.Name)
	if err != nil {
		s.registry.Restore(evicted, room.Name)
	}
	switch {
	case errors.Is(err, db.ErrRoomNotFound):
		s.sendError(sess, fmt.Sprintf("Room %q does not exist", name))
		return
	case err != nil:
		log.Printf("Delete room error: %v", err)
		s.sendError(sess, "Failed to delete room")
		return
	}

	notice := protocol.NewNotice(protocol.TypeRoomDeleted, room.Name, fmt.Sprintf("Room %q has been deleted by the creator", room.Name))
	for _, member := range evicted {
		member.Send(notice)
	}

	sess.Send(protocol.NewNotice(protocol.TypeRoomDeleteSuccess, room.Name, fmt.Sprintf("Room %q has been deleted", room.Name)))
	log.Printf("Room %q deleted by %s (%d members removed)", room.Name, sess.Username, len(evicted))
}

func (s *Server) handleClearRoom(sess *Session, req *protocol.Request) {
	name := strings.TrimSpace(req.RoomName)

	room, err := s.db.GetRoom(name)
	if errors.Is(err, db.ErrRoomNotFound) {
		s.sendError(sess, fmt.Sprintf("Room %q does not exist", name))
		return
	}
	if err != nil {
		log.Printf("Clear room error: %v", err)
		s.sendError(sess, "Internal error")
		return
	}

	if !s.canManage(sess, room) {
		s.sendError(sess, "Only the room creator can clear this room")
		return
	}

	if err := s.db.ClearRoomMessages(room.Name); err != nil {
		log.Printf("Clear room error: %v", err)
		s.sendError(sess, "Failed to clear room history")
		return
	}

	s.broadcast(room.Name, protocol.NewSystemNotice("History cleared by "+sess.Username, time.Now()), sess, false)
	sess.Send(protocol.NewNotice(protocol.TypeRoomCleared, room.Name, fmt.Sprintf("History of %q has been cleared", room.Name)))
}

func (s *Server) handleRoomMessage(sess *Session, req *protocol.Request) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return
	}
	if cut, truncated := truncate(content, s.config.MaxMessageLength); truncated {
		content = cut + "..."
	}

	room := s.registry.RoomOf(sess)
	if room == "" {
		s.sendError(sess, "You must join a room to send messages")
		return
	}

	now := time.Now()
	if err := s.db.SaveMessage(room, sess.Username, content, models.MessageTypeChat); err != nil {
		log.Printf("Failed to store message in %s: %v", room, err)
	}

	var exclude *Session
	if !s.config.EchoToSender {
		exclude = sess
	}
	s.broadcast(room, protocol.ChatMessage{
		Type:      protocol.TypeMessage,
		Username:  sess.Username,
		Message:   content,
		Room:      room,
		Timestamp: protocol.Clock(now),
	}, exclude, false)
}

func (s *Server) handlePrivateMessage(sess *Session, req *protocol.Request) {
	target := strings.TrimSpace(req.Target)
	content := strings.TrimSpace(req.Content)
	if target == "" || content == "" {
		s.sendError(sess, "Invalid private message format")
		return
	}
	if cut, truncated := truncate(content, s.config.MaxMessageLength); truncated {
		content = cut + "..."
	}

	recipient := s.registry.FindByUsername(target)
	if recipient == nil {
		s.sendError(sess, fmt.Sprintf("User '%s' is not online", target))
		return
	}
	if recipient == sess {
		s.sendError(sess, "You cannot send a private message to yourself")
		return
	}

	ts := protocol.Clock(time.Now())
	if err := recipient.Send(protocol.PrivateMessage{
		Type:      protocol.TypePrivate,
		From:      sess.Username,
		Message:   content,
		Timestamp: ts,
	}); err != nil {
		s.sendError(sess, fmt.Sprintf("User '%s' is not online", target))
		return
	}

	sess.Send(protocol.PrivateSent{
		Type:      protocol.TypePrivateSent,
		To:        recipient.Username,
		Message:   content,
		Timestamp: ts,
	})
}

func (s *Server) sendRoomUsers(sess *Session, roomName string) {
	sess.Send(protocol.RoomUsers{
		Type:     protocol.TypeRoomUsers,
		RoomName: roomName,
		Users:    s.registry.Members(roomName),
	})
}

func (s *Server) handleGetRoomUsers(sess *Session, req *protocol.Request) {
	name := strings.TrimSpace(req.RoomName)
	if name == "" {
		log.Printf("get_room_users without room_name from %s", sess)
		return
	}

	room, err := s.db.GetRoom(name)
	if errors.Is(err, db.ErrRoomNotFound) {
		s.sendError(sess, fmt.Sprintf("Room %q does not exist", name))
		return
	}
	if err != nil {
		log.Printf("Room users error: %v", err)
		s.sendError(sess, "Internal error")
		return
	}
	s.sendRoomUsers(sess, room.Name)
}

func (s *Server) handleGetMyRooms(sess *Session) {
	rooms, err := s.db.RoomsByCreator(sess.Username)
	if err != nil {
		log.Printf("My rooms error: %v", err)
		s.sendError(sess, "Internal error")
		return
	}

	sess.Send(protocol.RoomList{Type: protocol.TypeMyRooms, Rooms: s.roomSummaries(rooms)})
}
