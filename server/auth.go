package server

import (
	"errors"
	"fmt"
	"log"
	"roomchat/db"
	"roomchat/protocol"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

var errAuthRejected = errors.New("authentication rejected")

const (
	minUsernameLength = 3
	maxUsernameLength = 20
	minPasswordLength = 4
)

// authenticate runs the single login/register exchange. On success sess
// carries its username and is registered.
func (s *Server) authenticate(sess *Session, reader *protocol.Reader) error {
	if s.config.AuthTimeout > 0 {
		sess.Conn.SetReadDeadline(time.Now().Add(s.config.AuthTimeout))
		defer sess.Conn.SetReadDeadline(time.Time{})
	}

	var req *protocol.Request
	for {
		var err error
		req, err = reader.Next()
		if err == nil {
			break
		}
		var decodeErr *protocol.DecodeError
		if errors.As(err, &decodeErr) || errors.Is(err, protocol.ErrFrameTooLarge) {
			log.Printf("Discarding auth frame from %s: %v", sess.Addr, err)
			continue
		}
		return err
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return s.rejectAuth(sess, "Username and password are required")
	}

	var (
		name    string
		welcome string
		err     error
	)
	switch req.Action {
	case protocol.ActionLogin:
		name, err = s.login(sess, username, req.Password)
		welcome = fmt.Sprintf("Welcome back, %s!", name)
	case protocol.ActionRegister:
		name, err = s.register(sess, username, req.Password)
		welcome = fmt.Sprintf("Account created successfully! Welcome, %s!", name)
	default:
		return s.rejectAuth(sess, fmt.Sprintf("Invalid action: %s", req.Action))
	}
	if err != nil {
		return err
	}

	sess.Username = name
	if err := s.registry.Register(sess); err != nil {
		log.Printf("Login refused for %s: already logged in", name)
		return s.rejectAuth(sess, "Already logged in from another session")
	}

	if err := sess.Send(protocol.AuthReply{Status: protocol.StatusSuccess, Message: welcome}); err != nil {
		s.registry.Unregister(sess)
		return err
	}
	return nil
}

func (s *Server) rejectAuth(sess *Session, message string) error {
	sess.Send(protocol.AuthReply{Status: protocol.StatusError, Message: message})
	return fmt.Errorf("%w: %s", errAuthRejected, message)
}

func (s *Server) login(sess *Session, username, password string) (string, error) {
	name, err := s.db.VerifyUser(username, password)
	switch {
	case err == nil:
		return name, nil
	case errors.Is(err, db.ErrWrongPassword):
		return "", s.rejectAuth(sess, "Incorrect password")
	case errors.Is(err, db.ErrUserNotFound):
		return "", s.rejectAuth(sess, "User not found. Please register first.")
	default:
		log.Printf("Auth error: %v", err)
		return "", s.rejectAuth(sess, "Internal error")
	}
}

func (s *Server) register(sess *Session, username, password string) (string, error) {
	if msg := validateUsername(username); msg != "" {
		return "", s.rejectAuth(sess, msg)
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return "", s.rejectAuth(sess, fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}

	err := s.db.CreateUser(username, password)
	switch {
	case err == nil:
		log.Printf("New user registered: %s", username)
		return username, nil
	case errors.Is(err, db.ErrUserExists):
		return "", s.rejectAuth(sess, "Username already exists")
	default:
		log.Printf("Register error: %v", err)
		return "", s.rejectAuth(sess, "Failed to create account")
	}
}

func validateUsername(username string) string {
	n := utf8.RuneCountInString(username)
	if n < minUsernameLength {
		return fmt.Sprintf("Username must be at least %d characters", minUsernameLength)
	}
	if n > maxUsernameLength {
		return fmt.Sprintf("Username must be %d characters or less", maxUsernameLength)
	}
	for _, r := range username {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return "Username must contain only letters and numbers"
		}
	}
	return ""
}
