package main

import (
	"context"
	"log"
	"net"
	"os"
	"roomchat/config"
	"roomchat/db"
	"roomchat/server"
	"strconv"
	"sync"
	"syscall"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	reasonMu       sync.Mutex
	shutdownReason = "maintenance"
)

// requestShutdown records reason and signals ourselves so the shutdown
// follows the same path as SIGTERM.
func requestShutdown(reason string) {
	reasonMu.Lock()
	shutdownReason = reason
	reasonMu.Unlock()

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		log.Printf("Failed to signal shutdown: %v", err)
	}
}

func currentReason() string {
	reasonMu.Lock()
	defer reasonMu.Unlock()
	return shutdownReason
}

func main() {
	cfg := config.Load()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	if cfg.Seed {
		if err := database.Seed(); err != nil {
			log.Fatalf("Failed to seed database: %v", err)
		}
	}

	srv := server.New(database, &server.ServerConfig{
		AuthTimeout:       cfg.AuthTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		MinRoomNameLength: cfg.MinRoomNameLength,
		MaxRoomNameLength: cfg.MaxRoomNameLength,
		MaxRoomsPerUser:   cfg.MaxRoomsPerUser,
		MaxMessageLength:  cfg.MaxMessageLength,
		HistoryLimit:      cfg.HistoryLimit,
		AdminUser:         cfg.AdminUser,
		EchoToSender:      cfg.EchoToSender,
	})

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		log.Fatalf("Failed to listen on %s:%d: %v", cfg.Host, cfg.Port, err)
	}

	control := server.NewControlServer(srv, cfg.ControlSocket, requestShutdown)

	var g errgroup.Group
	g.Go(func() error {
		return srv.Serve(listener)
	})
	g.Go(func() error {
		if err := control.ListenAndServe(); err != nil {
			log.Printf("Failed to create control socket: %v", err)
		}
		return nil
	})

	wait := gfshutdown.GracefulShutdown(context.Background(), shutdownTimeout, map[string]gfshutdown.Operation{
		"chat-server": func(ctx context.Context) error {
			return srv.Shutdown(ctx, currentReason())
		},
		"control-socket": func(ctx context.Context) error {
			return control.Close()
		},
	})

	exitCode := <-wait
	if err := g.Wait(); err != nil {
		log.Printf("Server error: %v", err)
	}
	if err := database.Close(); err != nil {
		log.Printf("Failed to close database: %v", err)
	}
	log.Printf("Shutdown completed with exit code: %d", exitCode)
	os.Exit(exitCode)
}
