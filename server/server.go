package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"roomchat/db"
	"roomchat/protocol"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type Server struct {
	db       *db.DB
	config   *ServerConfig
	registry *Registry

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  bool
	wg       sync.WaitGroup
}

type ServerConfig struct {
	AuthTimeout  time.Duration
	IdleTimeout  time.Duration
	WriteTimeout time.Duration

	MinRoomNameLength int
	MaxRoomNameLength int
	MaxRoomsPerUser   int
	MaxMessageLength  int
	HistoryLimit      int
	AdminUser         string
	EchoToSender      bool
}

// New returns a server using config as given; zero limits are honoured
// (for example MaxRoomsPerUser 0 leaves room creation to the admin).
func New(database *db.DB, config *ServerConfig) *Server {
	return &Server{
		db:       database,
		config:   config,
		registry: NewRegistry(),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Serve runs the accept loop on listener until Shutdown is called. Every
// accepted connection gets its own goroutine.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()

	log.Printf("Chat server listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosing() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("Error accepting connection: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !s.trackConn(conn) {
			conn.Close()
			continue
		}
		go func() {
			defer s.untrackConn(conn)
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) trackConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

// handleConnection authenticates conn and then processes its commands in
// order until the stream ends. Cleanup runs exactly once on every exit path.
func (s *Server) handleConnection(conn net.Conn) {
	sess := newSession(conn, s.config.WriteTimeout)

	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Panic while serving %s: %v", sess, r)
		}
	}()

	log.Printf("New connection from %s", sess.Addr)

	reader := protocol.NewReader(conn)
	if err := s.authenticate(sess, reader); err != nil {
		log.Printf("Authentication failed for %s: %v", sess.Addr, err)
		return
	}
	defer s.disconnect(sess)

	log.Printf("%s connected from %s", sess.Username, sess.Addr)

	for {
		if s.config.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))
		}

		req, err := reader.Next()
		if err != nil {
			var decodeErr *protocol.DecodeError
			switch {
			case errors.As(err, &decodeErr):
				log.Printf("Discarding frame from %s: %v", sess, err)
				continue
			case errors.Is(err, protocol.ErrFrameTooLarge):
				log.Printf("Discarding oversized frame from %s", sess)
				continue
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				log.Printf("%s connection closed", sess)
			default:
				log.Printf("Error reading from %s: %v", sess, err)
			}
			return
		}

		s.dispatch(sess, req)
	}
}

// disconnect removes sess from the registry and tells its room.
func (s *Server) disconnect(sess *Session) {
	room, ok := s.registry.Unregister(sess)
	if !ok {
		return
	}
	if room != "" {
		s.broadcast(room, protocol.NewSystemNotice(sess.Username+" disconnected", time.Now()), nil, true)
	}
	log.Printf("%s disconnected", sess)
}

// Shutdown stops accepting, tells every session why, closes all connections
// and waits for their goroutines to finish cleanup or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context, reason string) error {
	s.mu.Lock()
	s.closing = true
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	notice := protocol.NewNotice(protocol.TypeServerShutdown, "", reason)
	for _, sess := range s.registry.All() {
		sess.Send(notice)
	}
	for _, conn := range conns {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("Chat server stopped (%s)", reason)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Stats struct {
	Connections int
	Users       []string
	Rooms       int
}

func (st Stats) String() string {
	return "connections=" + strconv.Itoa(st.Connections) +
		",users=" + strings.Join(st.Users, ";") +
		",rooms=" + strconv.Itoa(st.Rooms)
}

func (s *Server) Stats() (Stats, error) {
	sessions := s.registry.All()
	users := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		users = append(users, sess.Username)
	}
	sort.Strings(users)

	rooms, err := s.db.RoomCount()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count rooms: %w", err)
	}
	return Stats{Connections: len(sessions), Users: users, Rooms: rooms}, nil
}
