package server

import (
	"errors"
	"sort"
	"sync"
)

var ErrAlreadyOnline = errors.New("user already logged in")

// Registry is the table of live sessions. A single mutex guards the whole
// table; it is held only for map access, never across network I/O.
// Callers snapshot the sessions they need and send after the call returns.
//
// Room names are the canonical names from storage and compare exactly.
// Usernames compare with SameName, matching the storage collation.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register adds sess unless another live session has the same username.
func (r *Registry) Register(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, other := range r.sessions {
		if SameName(other.Username, sess.Username) {
			return ErrAlreadyOnline
		}
	}
	sess.room = ""
	r.sessions[sess.ID] = sess
	return nil
}

// Unregister removes sess and returns the room it was in. ok is false if
// sess was not registered.
func (r *Registry) Unregister(sess *Session) (room string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sess.ID]; !ok {
		return "", false
	}
	delete(r.sessions, sess.ID)
	room = sess.room
	sess.room = ""
	return room, true
}

// SetRoom moves sess into room ("" for none) and returns the previous room.
func (r *Registry) SetRoom(sess *Session, room string) (previous string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[sess.ID]; !ok {
		return ""
	}
	previous = sess.room
	sess.room = room
	return previous
}

func (r *Registry) RoomOf(sess *Session) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return sess.room
}

// Members returns the sorted usernames currently in room.
func (r *Registry) Members(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := []string{}
	for _, sess := range r.sessions {
		if sess.room != "" && sess.room == room {
			members = append(members, sess.Username)
		}
	}
	sort.Strings(members)
	return members
}

// Sessions returns the sessions in room other than exclude.
func (r *Registry) Sessions(room string, exclude *Session) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var targets []*Session
	for _, sess := range r.sessions {
		if sess == exclude || sess.room == "" {
			continue
		}
		if sess.room == room {
			targets = append(targets, sess)
		}
	}
	return targets
}

func (r *Registry) FindByUsername(username string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sess := range r.sessions {
		if SameName(sess.Username, username) {
			return sess
		}
	}
	return nil
}

// Evict clears the room of every session in room and returns them.
func (r *Registry) Evict(room string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []*Session
	for _, sess := range r.sessions {
		if sess.room != "" && sess.room == room {
			sess.room = ""
			evicted = append(evicted, sess)
		}
	}
	return evicted
}

// Restore puts sessions back into room after a failed delete, skipping any
// that disconnected or joined elsewhere in the meantime.
func (r *Registry) Restore(sessions []*Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sess := range sessions {
		if _, ok := r.sessions[sess.ID]; ok && sess.room == "" {
			sess.room = room
		}
	}
}

// MemberCounts maps room names to their number of members.
func (r *Registry) MemberCounts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[string]int)
	for _, sess := range r.sessions {
		if sess.room != "" {
			counts[sess.room]++
		}
	}
	return counts
}

func (r *Registry) All() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		all = append(all, sess)
	}
	return all
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SameName reports whether two usernames are equal under sqlite's NOCASE
// collation, which folds ASCII letters only.
func SameName(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if lowerASCII(a[i]) != lowerASCII(b[i]) {
			return false
		}
	}
	return true
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}
