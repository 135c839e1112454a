package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSession(id, username string) *Session {
	return &Session{ID: id, Username: username, Addr: "test"}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	alice := testSession("1", "Alice")

	require.NoError(t, r.Register(alice))
	assert.ErrorIs(t, r.Register(testSession("2", "alice")), ErrAlreadyOnline)
	assert.Equal(t, 1, r.Count())
	assert.Same(t, alice, r.FindByUsername("ALICE"))
	assert.Nil(t, r.FindByUsername("bob"))
}

func TestRegistryRegisterIsAtomic(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if r.Register(testSession(fmt.Sprint(i), "alice")) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryRooms(t *testing.T) {
	r := NewRegistry()
	alice := testSession("1", "alice")
	bob := testSession("2", "bob")
	carol := testSession("3", "carol")
	for _, s := range []*Session{alice, bob, carol} {
		require.NoError(t, r.Register(s))
	}

	assert.Equal(t, "", r.SetRoom(alice, "Chess"))
	r.SetRoom(bob, "Chess")
	r.SetRoom(carol, "Go")

	assert.Equal(t, []string{"alice", "bob"}, r.Members("Chess"))
	assert.Equal(t, []string{}, r.Members("Empty"))
	assert.ElementsMatch(t, []*Session{bob}, r.Sessions("Chess", alice))
	assert.Equal(t, map[string]int{"Chess": 2, "Go": 1}, r.MemberCounts())

	assert.Equal(t, "Chess", r.SetRoom(alice, "Go"))
	assert.Equal(t, "Go", r.RoomOf(alice))
	assert.Equal(t, []string{"bob"}, r.Members("Chess"))
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	alice := testSession("1", "alice")
	require.NoError(t, r.Register(alice))
	r.SetRoom(alice, "Chess")

	room, ok := r.Unregister(alice)
	assert.True(t, ok)
	assert.Equal(t, "Chess", room)
	assert.Empty(t, r.Members("Chess"))

	_, ok = r.Unregister(alice)
	assert.False(t, ok)

	// unregistered sessions cannot be placed in a room
	assert.Equal(t, "", r.SetRoom(alice, "Chess"))
	assert.Empty(t, r.Members("Chess"))

	require.NoError(t, r.Register(testSession("2", "alice")))
}

func TestRegistryEvict(t *testing.T) {
	r := NewRegistry()
	alice := testSession("1", "alice")
	bob := testSession("2", "bob")
	carol := testSession("3", "carol")
	for _, s := range []*Session{alice, bob, carol} {
		require.NoError(t, r.Register(s))
	}
	r.SetRoom(alice, "Chess")
	r.SetRoom(bob, "Chess")
	r.SetRoom(carol, "Go")

	evicted := r.Evict("Chess")
	assert.ElementsMatch(t, []*Session{alice, bob}, evicted)
	assert.Equal(t, "", r.RoomOf(alice))
	assert.Equal(t, "", r.RoomOf(bob))
	assert.Equal(t, "Go", r.RoomOf(carol))
	assert.Empty(t, r.Evict("Chess"))
}

func TestRegistryNonASCIINamesAreDistinct(t *testing.T) {
	r := NewRegistry()
	upper := testSession("1", "Äli")
	lower := testSession("2", "äli")
	require.NoError(t, r.Register(upper))
	require.NoError(t, r.Register(lower))
	assert.Same(t, lower, r.FindByUsername("äli"))
	assert.Same(t, upper, r.FindByUsername("ÄLI"))

	r.SetRoom(upper, "Café")
	r.SetRoom(lower, "CAFÉ")
	assert.Equal(t, []string{"Äli"}, r.Members("Café"))
	assert.ElementsMatch(t, []*Session{lower}, r.Sessions("CAFÉ", nil))
	assert.ElementsMatch(t, []*Session{upper}, r.Evict("Café"))
	assert.Equal(t, "CAFÉ", r.RoomOf(lower))
}

func TestSameName(t *testing.T) {
	assert.True(t, SameName("Alice", "aLICE"))
	assert.False(t, SameName("Äli", "äli"))
	assert.False(t, SameName("alice", "alice2"))
}

func TestRegistryRestore(t *testing.T) {
	r := NewRegistry()
	alice := testSession("1", "alice")
	bob := testSession("2", "bob")
	carol := testSession("3", "carol")
	for _, s := range []*Session{alice, bob, carol} {
		require.NoError(t, r.Register(s))
		r.SetRoom(s, "Chess")
	}

	evicted := r.Evict("Chess")
	r.SetRoom(bob, "Go")
	r.Unregister(carol)

	r.Restore(evicted, "Chess")
	assert.Equal(t, "Chess", r.RoomOf(alice))
	assert.Equal(t, "Go", r.RoomOf(bob))
	assert.Equal(t, []string{"alice"}, r.Members("Chess"))
}
