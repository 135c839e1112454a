package server

import (
	"bufio"
	"errors"
	"log"
	"net"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultShutdownReason = "maintenance"

// ControlServer answers management commands on a local unix socket, one
// command per connection:
//
//	stats            -> OK|connections=N,users=a;b,rooms=N
//	shutdown|reason  -> OK|Shutting down
type ControlServer struct {
	srv        *Server
	path       string
	onShutdown func(reason string)

	mu       sync.Mutex
	listener net.Listener
}

// NewControlServer returns a control server for srv. onShutdown is called
// after a shutdown command has been acknowledged.
func NewControlServer(srv *Server, path string, onShutdown func(reason string)) *ControlServer {
	return &ControlServer{srv: srv, path: path, onShutdown: onShutdown}
}

func (c *ControlServer) ListenAndServe() error {
	os.Remove(c.path)

	listener, err := net.Listen("unix", c.path)
	if err != nil {
		return err
	}
	return c.Serve(listener)
}

func (c *ControlServer) Serve(listener net.Listener) error {
	c.mu.Lock()
	c.listener = listener
	c.mu.Unlock()

	log.Printf("Control socket listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Printf("Control socket accept error: %v", err)
			continue
		}
		go c.handle(conn)
	}
}

// Close stops the accept loop and removes the socket file.
func (c *ControlServer) Close() error {
	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	os.Remove(c.path)
	return err
}

func (c *ControlServer) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	parts := strings.SplitN(strings.TrimSpace(line), "|", 2)
	switch parts[0] {
	case "stats":
		stats, err := c.srv.Stats()
		if err != nil {
			log.Printf("Control stats error: %v", err)
			conn.Write([]byte("ERROR|" + err.Error() + "\n"))
			return
		}
		conn.Write([]byte("OK|" + stats.String() + "\n"))

	case "shutdown":
		reason := defaultShutdownReason
		if len(parts) == 2 && strings.TrimSpace(parts[1]) != "" {
			reason = strings.TrimSpace(parts[1])
		}
		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()

		log.Printf("Shutdown requested: reason=%s", reason)
		if c.onShutdown != nil {
			c.onShutdown(reason)
		}

	case "":
		conn.Write([]byte("ERROR|Invalid command\n"))

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
