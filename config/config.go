package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Host          string
	Port          int
	DBPath        string
	ControlSocket string
	Seed          bool

	AuthTimeout  time.Duration
	IdleTimeout  time.Duration // 0 disables the post-auth read deadline
	WriteTimeout time.Duration

	MinRoomNameLength int
	MaxRoomNameLength int
	MaxRoomsPerUser   int
	MaxMessageLength  int
	HistoryLimit      int
	AdminUser         string
	EchoToSender      bool
}

func Default() *Config {
	return &Config{
		Host:              "0.0.0.0",
		Port:              5000,
		DBPath:            "roomchat.db",
		ControlSocket:     "/tmp/roomchat.sock",
		AuthTimeout:       15 * time.Second,
		WriteTimeout:      10 * time.Second,
		MinRoomNameLength: 3,
		MaxRoomNameLength: 30,
		MaxRoomsPerUser:   5,
		MaxMessageLength:  1000,
		HistoryLimit:      50,
		AdminUser:         "admin",
		EchoToSender:      true,
	}
}

// Load returns the defaults overridden by ROOMCHAT_* variables. A .env file in
// the working directory is read first if present; real environment wins.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to read .env: %v", err)
	}

	cfg := Default()

	if host := os.Getenv("ROOMCHAT_HOST"); host != "" {
		cfg.Host = host
	}
	cfg.Port = intEnv("ROOMCHAT_PORT", cfg.Port, 0)

	if dbPath := os.Getenv("ROOMCHAT_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if sock := os.Getenv("ROOMCHAT_CONTROL_SOCKET"); sock != "" {
		cfg.ControlSocket = sock
	}
	cfg.Seed = boolEnv("ROOMCHAT_SEED", cfg.Seed)

	cfg.AuthTimeout = secondsEnv("ROOMCHAT_AUTH_TIMEOUT", cfg.AuthTimeout)
	cfg.IdleTimeout = secondsEnv("ROOMCHAT_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.WriteTimeout = secondsEnv("ROOMCHAT_WRITE_TIMEOUT", cfg.WriteTimeout)

	cfg.MinRoomNameLength = intEnv("ROOMCHAT_MIN_ROOM_NAME", cfg.MinRoomNameLength, 1)
	cfg.MaxRoomNameLength = intEnv("ROOMCHAT_MAX_ROOM_NAME", cfg.MaxRoomNameLength, 1)
	cfg.MaxRoomsPerUser = intEnv("ROOMCHAT_MAX_ROOMS_PER_USER", cfg.MaxRoomsPerUser, 0)
	cfg.MaxMessageLength = intEnv("ROOMCHAT_MAX_MESSAGE_LENGTH", cfg.MaxMessageLength, 1)
	cfg.HistoryLimit = intEnv("ROOMCHAT_HISTORY_LIMIT", cfg.HistoryLimit, 1)

	if admin := os.Getenv("ROOMCHAT_ADMIN_USER"); admin != "" {
		cfg.AdminUser = admin
	}
	cfg.EchoToSender = boolEnv("ROOMCHAT_ECHO_TO_SENDER", cfg.EchoToSender)

	return cfg
}

// intEnv reads key as an integer no smaller than min, keeping def otherwise.
func intEnv(key string, def, min int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= min {
			return n
		}
		log.Printf("Ignoring invalid %s=%q", key, v)
	}
	return def
}

func secondsEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
		log.Printf("Ignoring invalid %s=%q", key, v)
	}
	return def
}

func boolEnv(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Printf("Ignoring invalid %s=%q", key, v)
	}
	return def
}
