package userdb

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	store, err := Open(filepath.Join(t.TempDir(), "users.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAddAndGet(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.AddUser("alice", "secret99"))

	exists, err := store.UserExists("alice")
	require.NoError(t, err)
	assert.True(t, exists)

	pass, err := store.GetPassword("alice")
	require.NoError(t, err)
	assert.Equal(t, "secret99", pass)
}

func TestUnknownUser(t *testing.T) {
	store := testStore(t)

	exists, err := store.UserExists("nobody")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = store.GetPassword("nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDuplicateUsername(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.AddUser("alice", "secret99"))
	assert.ErrorIs(t, store.AddUser("alice", "other123"), ErrUserExists)

	// The original password survives the rejected insert.
	pass, err := store.GetPassword("alice")
	require.NoError(t, err)
	assert.Equal(t, "secret99", pass)
}

func TestValidation(t *testing.T) {
	store := testStore(t)

	assert.ErrorIs(t, store.AddUser("ab", "secret99"), ErrInvalidUsername)
	assert.ErrorIs(t, store.AddUser("has space", "secret99"), ErrInvalidUsername)
	assert.ErrorIs(t, store.AddUser("has@sign", "secret99"), ErrInvalidUsername)
	assert.ErrorIs(t, store.AddUser("alice", "short"), ErrInvalidPassword)
	assert.ErrorIs(t, store.AddUser("alice", "way-too-long-password"), ErrInvalidPassword)
	assert.ErrorIs(t, store.AddUser("alice", "has space99"), ErrInvalidPassword)
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidUsername("user_name-1"))
	assert.False(t, ValidUsername(""))
	assert.False(t, ValidUsername("x"))

	assert.True(t, ValidPassword("abc123"))
	assert.True(t, ValidPassword("!@#$%^&*"))
	assert.False(t, ValidPassword("five5"))
	assert.False(t, ValidPassword("tab\tinside"))
}
