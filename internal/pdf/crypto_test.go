package pdf

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPasswordError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"password keyword", errors.New("invalid password provided"), true},
		{"encrypted keyword", errors.New("file is encrypted"), true},
		{"decrypt keyword", errors.New("failed to decrypt file"), true},
		{"authentication keyword", errors.New("authentication failed"), true},
		{"case insensitive", errors.New("ENCRYPTED file detected"), true},
		{"unrelated error", errors.New("file not found"), false},
		{"empty message", errors.New(""), false},
		{"partial keyword", errors.New("pass"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPasswordError(tt.err))
		})
	}
}

func TestPasswordHandler_IsEncrypted(t *testing.T) {
	handler := NewPasswordHandler(t.TempDir())

	t.Run("non-existent file", func(t *testing.T) {
		encrypted, err := handler.IsEncrypted("/non/existent/file.pdf")
		require.Error(t, err)
		assert.False(t, encrypted)
		assert.Contains(t, err.Error(), "failed to check PDF encryption status")
	})

	t.Run("not a PDF file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.pdf")
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o600))

		encrypted, err := handler.IsEncrypted(path)
		require.Error(t, err)
		assert.False(t, encrypted)
	})
}

func TestPasswordHandler_Decrypt_ErrorCases(t *testing.T) {
	handler := NewPasswordHandler(t.TempDir())

	_, err := handler.Decrypt("/non/existent/file.pdf", "secret")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEncrypted)
}
