package credential

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetSetDelete(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring([]keyring.Item{
		{Key: "imap:alice@example.com", Data: []byte("s3cret")},
	}))

	got, err := s.Get("imap:alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)

	require.NoError(t, s.Set("gmail:bob@example.com", "ya29.token"))
	got, err = s.Get("gmail:bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "ya29.token", got)

	require.NoError(t, s.Delete("gmail:bob@example.com"))
	_, err = s.Get("gmail:bob@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_FileBackend(t *testing.T) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      "phish-filter-test",
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          t.TempDir(),
		FilePasswordFunc: keyring.FixedStringPrompt("test-key"),
	})
	require.NoError(t, err)

	s := NewStore(ring)
	require.NoError(t, s.Set("imap:carol@example.com", "hunter2"))

	got, err := s.Get("imap:carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}
