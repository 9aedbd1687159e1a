package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return path
}

func TestOpen(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope"))
		require.Error(t, err)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("empty file", func(t *testing.T) {
		m, err := Open(writeTempFile(t, nil))
		require.NoError(t, err)
		defer m.Close()

		assert.Equal(t, int64(0), m.Size())

		n, err := m.ReadAt(make([]byte, 4), 0)
		assert.Equal(t, 0, n)
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestMappingReadAt(t *testing.T) {
	m, err := Open(writeTempFile(t, []byte("hello world")))
	require.NoError(t, err)
	defer m.Close()

	require.Equal(t, int64(11), m.Size())

	t.Run("full read", func(t *testing.T) {
		p := make([]byte, 5)
		n, err := m.ReadAt(p, 6)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, "world", string(p))
	})

	t.Run("short read at tail", func(t *testing.T) {
		p := make([]byte, 8)
		n, err := m.ReadAt(p, 6)
		assert.Equal(t, 5, n)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, "world", string(p[:n]))
	})

	t.Run("past end", func(t *testing.T) {
		n, err := m.ReadAt(make([]byte, 4), 11)
		assert.Equal(t, 0, n)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("negative offset", func(t *testing.T) {
		_, err := m.ReadAt(make([]byte, 4), -1)
		assert.ErrorIs(t, err, ErrInvalidOffset)
	})
}

func TestMappingAdvise(t *testing.T) {
	m, err := Open(writeTempFile(t, []byte("advise me")))
	require.NoError(t, err)
	defer m.Close()

	assert.NoError(t, m.Advise(AccessRandom))
	assert.NoError(t, m.Advise(AccessSequential))
	assert.NoError(t, m.Advise(AccessDefault))
}

func TestMappingClose(t *testing.T) {
	m, err := Open(writeTempFile(t, []byte("close me")))
	require.NoError(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "second close is a no-op")

	_, err = m.ReadAt(make([]byte, 1), 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.Advise(AccessRandom), ErrClosed)
}
