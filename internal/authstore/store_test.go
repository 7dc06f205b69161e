package authstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserUID(t *testing.T) {
	tests := []struct {
		name string
		user *User
		want string
	}{
		{"nil user", nil, "0"},
		{"numeric id", &User{ID: 7, UserID: 9, Email: "a@b.com"}, "7"},
		{"fallback to userId", &User{UserID: 9, Email: "a@b.com"}, "9"},
		{"fallback to email local part", &User{Email: "maya@example.com"}, "maya"},
		{"empty email local part", &User{Email: "@example.com"}, "0"},
		{"nothing usable", &User{}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.UID())
		})
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Empty(t, s.Token())
	assert.Nil(t, s.User())
	assert.False(t, s.LoggedIn())

	require.NoError(t, s.SaveLogin("tok-123", &User{ID: 7, Email: "maya@example.com"}))

	// Reopen and verify persistence.
	s2, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Equal(t, "tok-123", s2.Token())
	assert.True(t, s2.LoggedIn())
	require.NotNil(t, s2.User())
	assert.Equal(t, int64(7), s2.User().ID)

	require.NoError(t, s2.Clear())
	s3, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Empty(t, s3.Token())
	assert.False(t, s3.LoggedIn())
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := NewFileStore(path)
	require.NoError(t, err)
	assert.Empty(t, s.Token())
	assert.False(t, s.LoggedIn())
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	require.NoError(t, s.SaveLogin("t", &User{ID: 1}))
	assert.Equal(t, "t", s.Token())
	assert.True(t, s.LoggedIn())
	require.NoError(t, s.Clear())
	assert.Empty(t, s.Token())
	assert.Nil(t, s.User())
}
