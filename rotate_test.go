package envgo

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRotatingFile(t *testing.T) {
	env := NewMemEnv()

	w, err := env.NewAppendableFile("LOG")
	require.NoError(t, err)
	r := newRotatingFile(env, "LOG", w, 0, 32, CompressionNone)

	// Fits under the cap.
	_, err = r.Write([]byte(strings.Repeat("a", 24)))
	require.NoError(t, err)

	// Would cross the cap, so the first file is rotated aside.
	_, err = r.Write([]byte(strings.Repeat("b", 16)))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	names, err := env.GetChildren("")
	require.NoError(t, err)
	require.Len(t, names, 2)

	size, err := env.GetFileSize("LOG")
	require.NoError(t, err)
	assert.Equal(t, int64(16), size, "active file holds only the new write")

	var rotated string
	for _, name := range names {
		if name != "LOG" {
			rotated = name
		}
	}
	require.True(t, strings.HasPrefix(rotated, "LOG."))

	size, err = env.GetFileSize(rotated)
	require.NoError(t, err)
	assert.Equal(t, int64(24), size)
}

func TestRotatingFileClosed(t *testing.T) {
	env := NewMemEnv()

	w, err := env.NewAppendableFile("LOG")
	require.NoError(t, err)
	r := newRotatingFile(env, "LOG", w, 0, 32, CompressionNone)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Write([]byte("x"))
	assert.True(t, IsClosed(err))
}

func TestCompressFile(t *testing.T) {
	payload := strings.Repeat("log line payload ", 64)

	t.Run("zstd", func(t *testing.T) {
		env := NewMemEnv()
		writeLocalFile(t, env, "old.log", payload)

		require.NoError(t, compressFile(env, "old.log", CompressionZSTD))
		assert.False(t, env.FileExists("old.log"), "original is removed")

		f, err := env.NewSequentialFile("old.log.zst")
		require.NoError(t, err)
		defer f.Close()

		zr, err := zstd.NewReader(f)
		require.NoError(t, err)
		defer zr.Close()

		data, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	})

	t.Run("lz4", func(t *testing.T) {
		env := NewMemEnv()
		writeLocalFile(t, env, "old.log", payload)

		require.NoError(t, compressFile(env, "old.log", CompressionLZ4))
		assert.False(t, env.FileExists("old.log"))

		f, err := env.NewSequentialFile("old.log.lz4")
		require.NoError(t, err)
		defer f.Close()

		data, err := io.ReadAll(lz4.NewReader(f))
		require.NoError(t, err)
		assert.Equal(t, payload, string(data))
	})

	t.Run("none is a no-op", func(t *testing.T) {
		env := NewMemEnv()
		writeLocalFile(t, env, "old.log", payload)

		require.NoError(t, compressFile(env, "old.log", CompressionNone))
		assert.True(t, env.FileExists("old.log"))
	})

	t.Run("missing source", func(t *testing.T) {
		env := NewMemEnv()
		assert.True(t, IsNotFound(compressFile(env, "absent", CompressionZSTD)))
	})
}

func TestRotationCompressesInBackground(t *testing.T) {
	env := NewMemEnv()

	w, err := env.NewAppendableFile("LOG")
	require.NoError(t, err)
	r := newRotatingFile(env, "LOG", w, 0, 32, CompressionZSTD)

	_, err = r.Write([]byte(strings.Repeat("a", 24)))
	require.NoError(t, err)
	_, err = r.Write([]byte(strings.Repeat("b", 16)))
	require.NoError(t, err)
	require.NoError(t, r.Close())

	require.Eventually(t, func() bool {
		names, err := env.GetChildren("")
		if err != nil {
			return false
		}
		var sawCompressed, sawPlainRotation bool
		for _, name := range names {
			if name == "LOG" {
				continue
			}
			if strings.HasSuffix(name, ".zst") {
				sawCompressed = true
			} else {
				sawPlainRotation = true
			}
		}
		return sawCompressed && !sawPlainRotation
	}, 5*time.Second, 10*time.Millisecond, "rotated file is compressed and removed")
}

func TestLoggerRotationEndToEnd(t *testing.T) {
	env := NewMemEnv(WithLogRotation(128, CompressionNone))

	l, err := env.NewLogger("LOG")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		l.Info("filler line for rotation", "i", i)
	}
	require.NoError(t, l.Close())

	names, err := env.GetChildren("")
	require.NoError(t, err)

	rotations := 0
	for _, name := range names {
		if strings.HasPrefix(name, "LOG.") {
			rotations++
		}
	}
	assert.Greater(t, rotations, 1, "the cap forces repeated rotation")

	size, err := env.GetFileSize("LOG")
	require.NoError(t, err)
	assert.LessOrEqual(t, size, int64(128))
}

func TestCompressionTypeString(t *testing.T) {
	assert.Equal(t, "none", CompressionNone.String())
	assert.Equal(t, "lz4", CompressionLZ4.String())
	assert.Equal(t, "zstd", CompressionZSTD.String())
}
