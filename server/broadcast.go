package server

import (
	"log"
	"roomchat/models"
	"roomchat/protocol"
)

// broadcast sends event to every session in room except exclude. A failed
// send only affects that recipient. With persist, chat and system events are
// appended to the room history after the fan-out.
func (s *Server) broadcast(room string, event any, exclude *Session, persist bool) {
	targets := s.registry.Sessions(room, exclude)

	data, err := protocol.Encode(event)
	if err != nil {
		log.Printf("Broadcast encode error for %s: %v", room, err)
		return
	}
	for _, target := range targets {
		if err := target.sendFrame(data); err != nil {
			log.Printf("Broadcast to %s in %s failed: %v", target, room, err)
		}
	}

	if persist {
		s.persist(room, event)
	}
}

func (s *Server) persist(room string, event any) {
	var username, content, messageType string
	switch e := event.(type) {
	case protocol.ChatMessage:
		username, content, messageType = e.Username, e.Message, models.MessageTypeChat
	case protocol.SystemNotice:
		username, content, messageType = e.Username, e.Message, models.MessageTypeSystem
	default:
		return
	}

	if err := s.db.SaveMessage(room, username, content, messageType); err != nil {
		log.Printf("Failed to store %s event for %s: %v", messageType, room, err)
	}
}
