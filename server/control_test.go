package server

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func controlCommand(t *testing.T, control *ControlServer, command string) string {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()
	go control.handle(serverConn)

	clientConn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err := clientConn.Write([]byte(command + "\n"))
	require.NoError(t, err)

	line, err := bufio.NewReader(clientConn).ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestControlStats(t *testing.T) {
	srv, addr := setupTestServer(t)
	login(t, srv, addr, "alice")

	control := NewControlServer(srv, "", nil)
	assert.Equal(t, "OK|connections=1,users=alice,rooms=0\n", controlCommand(t, control, "stats"))
}

func TestControlShutdown(t *testing.T) {
	srv, _ := setupTestServer(t)

	reasons := make(chan string, 1)
	control := NewControlServer(srv, "", func(reason string) { reasons <- reason })

	assert.Equal(t, "OK|Shutting down\n", controlCommand(t, control, "shutdown|upgrade"))
	select {
	case reason := <-reasons:
		assert.Equal(t, "upgrade", reason)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown callback not called")
	}

	assert.Equal(t, "OK|Shutting down\n", controlCommand(t, control, "shutdown"))
	assert.Equal(t, "maintenance", <-reasons)
}

func TestControlUnknownCommand(t *testing.T) {
	srv, _ := setupTestServer(t)
	control := NewControlServer(srv, "", nil)

	assert.Equal(t, "ERROR|Unknown command\n", controlCommand(t, control, "reboot"))
	assert.Equal(t, "ERROR|Invalid command\n", controlCommand(t, control, ""))
}

func TestControlServeAndClose(t *testing.T) {
	srv, _ := setupTestServer(t)
	control := NewControlServer(srv, "", nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- control.Serve(listener) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", listener.Addr().String())
		if err != nil {
			return false
		}
		defer conn.Close()
		conn.Write([]byte("stats\n"))
		line, err := bufio.NewReader(conn).ReadString('\n')
		return err == nil && line == "OK|connections=0,users=,rooms=0\n"
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, control.Close())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("control server did not stop")
	}
}
