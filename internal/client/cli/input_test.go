package cli

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func trimNL(s string) string {
	return strings.TrimRight(s, "\r\n")
}

func TestGetPassword(t *testing.T) {
	stubPasswords(t, "s3cret")
	var w bytes.Buffer

	pw, err := GetPassword(&w, "Password")
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), pw)
	assert.Equal(t, "Password: \n", w.String())
}

func TestGetPassword_ReadError(t *testing.T) {
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func() ([]byte, error) { return nil, errors.New("no tty") }

	_, err := GetPassword(&bytes.Buffer{}, "Password")
	require.EqualError(t, err, "no tty")
}

func TestGetNewPassword(t *testing.T) {
	stubPasswords(t, "same")
	pw, err := GetNewPassword(&bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, []byte("same"), pw)
}
