package server

import (
	"log"
	"net"
	"roomchat/protocol"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the state bound to one authenticated connection. Username is
// set once before the session is registered; room is owned by the Registry
// and only read or written under its lock.
type Session struct {
	ID       string
	Username string
	Addr     string
	Conn     net.Conn

	room string

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newSession(conn net.Conn, writeTimeout time.Duration) *Session {
	return &Session{
		ID:           uuid.NewString(),
		Addr:         conn.RemoteAddr().String(),
		Conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (s *Session) String() string {
	if s.Username == "" {
		return s.Addr
	}
	return s.Username + "@" + s.Addr
}

// Send encodes v and writes it as one frame.
func (s *Session) Send(v any) error {
	data, err := protocol.Encode(v)
	if err != nil {
		log.Printf("Encode error for %s: %v", s, err)
		return err
	}
	return s.sendFrame(data)
}

// sendFrame writes an already encoded frame. Frames from concurrent senders
// never interleave. A failed write closes the connection so the owning
// read loop exits and cleans up.
func (s *Session) sendFrame(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		s.Conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	if _, err := s.Conn.Write(data); err != nil {
		log.Printf("Error writing to %s: %v", s, err)
		s.Conn.Close()
		return err
	}
	return nil
}
