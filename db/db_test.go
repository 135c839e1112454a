package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	HashCost = bcrypt.MinCost
	os.Exit(m.Run())
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestCreateUserCaseInsensitive(t *testing.T) {
	database := setupTestDB(t)

	require.NoError(t, database.CreateUser("Alice", "secret"))
	assert.ErrorIs(t, database.CreateUser("alice", "other"), ErrUserExists)

	exists, err := database.UserExists("ALICE")
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := database.UserCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestVerifyUser(t *testing.T) {
	database := setupTestDB(t)
	require.NoError(t, database.CreateUser("Alice", "secret"))

	name, err := database.VerifyUser("alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	_, err = database.VerifyUser("alice", "wrong")
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = database.VerifyUser("nobody", "secret")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestPasswordsAreHashed(t *testing.T) {
	database := setupTestDB(t)
	require.NoError(t, database.CreateUser("bob", "plaintext"))

	user, err := database.GetUser("bob")
	require.NoError(t, err)
	assert.NotEqual(t, "plaintext", user.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("plaintext")))
}

func TestCreateRoom(t *testing.T) {
	database := setupTestDB(t)

	require.NoError(t, database.CreateRoom("Chess", "alice", nil, ""))
	assert.ErrorIs(t, database.CreateRoom("chess", "bob", nil, ""), ErrRoomExists)

	room, err := database.GetRoom("CHESS")
	require.NoError(t, err)
	assert.Equal(t, "Chess", room.Name)
	assert.Equal(t, "alice", room.Creator)
	assert.Equal(t, "No description", room.Description)
	assert.False(t, room.IsPrivate())
	assert.False(t, room.CreatedAt.IsZero())

	_, err = database.GetRoom("Go")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestPrivateRoomPassword(t *testing.T) {
	database := setupTestDB(t)
	password := "hunter2"
	require.NoError(t, database.CreateRoom("Secret", "alice", &password, "shh"))

	room, err := database.GetRoom("secret")
	require.NoError(t, err)
	require.True(t, room.IsPrivate())
	assert.Equal(t, "hunter2", *room.Password)
}

func TestListRooms(t *testing.T) {
	database := setupTestDB(t)
	for _, name := range []string{"Tech", "general", "Tech_Talk", "Random"} {
		require.NoError(t, database.CreateRoom(name, "alice", nil, ""))
	}

	rooms, err := database.ListRooms("")
	require.NoError(t, err)
	require.Len(t, rooms, 4)
	assert.Equal(t, "general", rooms[0].Name)

	rooms, err = database.ListRooms("TECH")
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	// underscore is matched literally, not as a LIKE wildcard
	rooms, err = database.ListRooms("h_T")
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Tech_Talk", rooms[0].Name)

	rooms, err = database.ListRooms("nothing")
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestRoomsByCreator(t *testing.T) {
	database := setupTestDB(t)
	require.NoError(t, database.CreateRoom("One", "Alice", nil, ""))
	require.NoError(t, database.CreateRoom("Two", "alice", nil, ""))
	require.NoError(t, database.CreateRoom("Three", "bob", nil, ""))

	rooms, err := database.RoomsByCreator("ALICE")
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "Two", rooms[0].Name)

	count, err := database.CountUserRooms("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDeleteRoomCascadesMessages(t *testing.T) {
	database := setupTestDB(t)
	require.NoError(t, database.CreateRoom("Chess", "alice", nil, ""))
	require.NoError(t, database.CreateRoom("Go", "alice", nil, ""))
	require.NoError(t, database.SaveMessage("Chess", "alice", "e4", "message"))
	require.NoError(t, database.SaveMessage("Go", "alice", "tengen", "message"))

	require.NoError(t, database.DeleteRoom("chess"))

	exists, err := database.RoomExists("Chess")
	require.NoError(t, err)
	assert.False(t, exists)

	messages, err := database.GetRoomMessages("Chess", 50)
	require.NoError(t, err)
	assert.Empty(t, messages)

	count, err := database.MessageCount("Go")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.ErrorIs(t, database.DeleteRoom("Chess"), ErrRoomNotFound)
}

func TestDeleteMissingRoomRollsBack(t *testing.T) {
	database := setupTestDB(t)
	// orphaned rows survive a failed delete
	require.NoError(t, database.SaveMessage("Ghost", "alice", "boo", "message"))

	assert.ErrorIs(t, database.DeleteRoom("Ghost"), ErrRoomNotFound)

	count, err := database.MessageCount("Ghost")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetRoomMessagesBoundAndOrder(t *testing.T) {
	database := setupTestDB(t)
	require.NoError(t, database.CreateRoom("Chess", "alice", nil, ""))

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		require.NoError(t, database.SaveMessageAt("Chess", "alice", fmt.Sprintf("m%02d", i), "message", base.Add(time.Duration(i)*time.Second)))
	}

	messages, err := database.GetRoomMessages("chess", 50)
	require.NoError(t, err)
	require.Len(t, messages, 50)
	assert.Equal(t, "m10", messages[0].Content)
	assert.Equal(t, "m59", messages[49].Content)
	for i := 1; i < len(messages); i++ {
		assert.True(t, messages[i].Timestamp.After(messages[i-1].Timestamp))
	}
	assert.Equal(t, base.Add(59*time.Second), messages[49].Timestamp)
}

func TestGetRoomMessagesSameTimestampOrderedByInsert(t *testing.T) {
	database := setupTestDB(t)
	ts := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for _, content := range []string{"a", "b", "c"} {
		require.NoError(t, database.SaveMessageAt("Chess", "alice", content, "message", ts))
	}

	messages, err := database.GetRoomMessages("Chess", 2)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "b", messages[0].Content)
	assert.Equal(t, "c", messages[1].Content)
}

func TestClearRoomMessages(t *testing.T) {
	database := setupTestDB(t)
	require.NoError(t, database.SaveMessage("Chess", "alice", "e4", "message"))
	require.NoError(t, database.SaveMessage("Chess", "System", "bob joined", "system"))

	require.NoError(t, database.ClearRoomMessages("CHESS"))

	count, err := database.MessageCount("Chess")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSeed(t *testing.T) {
	database := setupTestDB(t)
	require.NoError(t, database.Seed())
	require.NoError(t, database.Seed())

	users, err := database.UserCount()
	require.NoError(t, err)
	assert.Equal(t, 4, users)

	rooms, err := database.RoomCount()
	require.NoError(t, err)
	assert.Equal(t, 3, rooms)

	name, err := database.VerifyUser("ADMIN", "admin123")
	require.NoError(t, err)
	assert.Equal(t, "admin", name)
}

func TestConcurrentWriters(t *testing.T) {
	database := setupTestDB(t)
	require.NoError(t, database.CreateRoom("Chess", "alice", nil, ""))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				assert.NoError(t, database.SaveMessage("Chess", fmt.Sprintf("user%d", w), "hi", "message"))
			}
		}(w)
	}
	wg.Wait()

	count, err := database.MessageCount("Chess")
	require.NoError(t, err)
	assert.Equal(t, 80, count)
}
