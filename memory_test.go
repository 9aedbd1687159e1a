package envgo

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemEnvPathNormalization(t *testing.T) {
	env := NewMemEnv()
	writeLocalFile(t, env, "/db/CURRENT", "v1")

	assert.True(t, env.FileExists("db/CURRENT"))
	assert.True(t, env.FileExists("/db/CURRENT"))
	assert.True(t, env.FileExists("/db/./CURRENT"))
	assert.True(t, env.FileExists(`db\CURRENT`))

	size, err := env.GetFileSize("db/CURRENT")
	require.NoError(t, err)
	assert.Equal(t, int64(2), size)
}

func TestMemEnvReaderKeepsTruncatedNode(t *testing.T) {
	env := NewMemEnv()
	writeLocalFile(t, env, "data", "old contents")

	r, err := env.NewSequentialFile("data")
	require.NoError(t, err)
	defer r.Close()

	// Recreating the file installs a fresh node; the open reader keeps the
	// one it opened, like an unlinked-but-open POSIX file.
	writeLocalFile(t, env, "data", "new")

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "old contents", string(data))

	size, err := env.GetFileSize("data")
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)
}

func TestMemEnvSequentialFile(t *testing.T) {
	env := NewMemEnv()
	writeLocalFile(t, env, "seq", "0123456789")

	t.Run("read and skip", func(t *testing.T) {
		f, err := env.NewSequentialFile("seq")
		require.NoError(t, err)
		defer f.Close()

		buf := make([]byte, 2)
		_, err = io.ReadFull(f, buf)
		require.NoError(t, err)
		assert.Equal(t, "01", string(buf))

		require.NoError(t, f.Skip(3))
		_, err = io.ReadFull(f, buf)
		require.NoError(t, err)
		assert.Equal(t, "56", string(buf))

		require.NoError(t, f.Skip(1000))
		n, err := f.Read(buf)
		assert.Equal(t, 0, n)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("negative skip", func(t *testing.T) {
		f, err := env.NewSequentialFile("seq")
		require.NoError(t, err)
		defer f.Close()

		assert.ErrorIs(t, f.Skip(-1), ErrInvalidArgument)
	})

	t.Run("use after close", func(t *testing.T) {
		f, err := env.NewSequentialFile("seq")
		require.NoError(t, err)
		require.NoError(t, f.Close())
		require.NoError(t, f.Close())

		_, err = f.Read(make([]byte, 1))
		assert.True(t, IsClosed(err))
		assert.True(t, IsClosed(f.Skip(1)))
	})

	t.Run("missing", func(t *testing.T) {
		_, err := env.NewSequentialFile("absent")
		assert.True(t, IsNotFound(err))
	})
}

func TestMemEnvRandomAccessFile(t *testing.T) {
	env := NewMemEnv()
	writeLocalFile(t, env, "rand", "aaaabbbbcccc")

	f, err := env.NewRandomAccessFile("rand")
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "bbbb", string(buf[:n]))

	n, err = f.ReadAt(make([]byte, 8), 8)
	assert.Equal(t, 4, n)
	assert.ErrorIs(t, err, io.EOF)

	n, err = f.ReadAt(buf, 12)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = f.ReadAt(buf, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMemEnvAppendableFile(t *testing.T) {
	env := NewMemEnv()

	w, err := env.NewAppendableFile("log")
	require.NoError(t, err)
	_, err = w.Write([]byte("abc"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = env.NewAppendableFile("log")
	require.NoError(t, err)
	_, err = w.Write([]byte("def"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := env.NewSequentialFile("log")
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}

func TestMemEnvDirectoryOps(t *testing.T) {
	env := NewMemEnv()
	writeLocalFile(t, env, "db/000001.sst", "x")
	writeLocalFile(t, env, "db/000002.log", "x")
	writeLocalFile(t, env, "db/sub/000003.sst", "x")
	writeLocalFile(t, env, "top", "x")

	t.Run("children", func(t *testing.T) {
		names, err := env.GetChildren("db")
		require.NoError(t, err)
		assert.Equal(t, []string{"000001.sst", "000002.log", "sub"}, names)

		names, err = env.GetChildren("/")
		require.NoError(t, err)
		assert.Equal(t, []string{"db", "top"}, names)
	})

	t.Run("children of missing dir", func(t *testing.T) {
		_, err := env.GetChildren("missing")
		assert.True(t, IsNotFound(err))
	})

	t.Run("children of a file", func(t *testing.T) {
		_, err := env.GetChildren("top")
		require.Error(t, err)
		assert.False(t, IsNotFound(err))
	})

	t.Run("explicit dirs", func(t *testing.T) {
		require.NoError(t, env.CreateDir("empty"))
		assert.False(t, env.FileExists("empty"), "directories are not files")

		names, err := env.GetChildren("empty")
		require.NoError(t, err)
		assert.Empty(t, names)

		names, err = env.GetChildren("")
		require.NoError(t, err)
		assert.Contains(t, names, "empty")

		require.Error(t, env.CreateDir("empty"), "already exists")
		require.NoError(t, env.RemoveDir("empty"))
		assert.True(t, IsNotFound(env.RemoveDir("empty")))
	})

	t.Run("remove non-empty dir", func(t *testing.T) {
		require.NoError(t, env.CreateDir("full"))
		writeLocalFile(t, env, "full/file", "x")

		require.Error(t, env.RemoveDir("full"))

		require.NoError(t, env.RemoveFile("full/file"))
		require.NoError(t, env.RemoveDir("full"))
	})

	t.Run("remove file", func(t *testing.T) {
		writeLocalFile(t, env, "victim", "x")
		require.NoError(t, env.RemoveFile("victim"))
		assert.True(t, IsNotFound(env.RemoveFile("victim")))
	})

	t.Run("rename replaces target", func(t *testing.T) {
		writeLocalFile(t, env, "src", "source")
		writeLocalFile(t, env, "dst", "target")

		require.NoError(t, env.RenameFile("src", "dst"))
		assert.False(t, env.FileExists("src"))

		size, err := env.GetFileSize("dst")
		require.NoError(t, err)
		assert.Equal(t, int64(6), size)

		assert.True(t, IsNotFound(env.RenameFile("src", "dst")))
	})
}

func TestMemEnvLockFile(t *testing.T) {
	env := NewMemEnv()

	lock, err := env.LockFile("LOCK")
	require.NoError(t, err)
	assert.True(t, env.FileExists("LOCK"), "lock file is created")

	_, err = env.LockFile("/LOCK")
	assert.True(t, IsLocked(err), "normalized paths contend")

	require.NoError(t, env.UnlockFile(lock))
	assert.ErrorIs(t, env.UnlockFile(lock), ErrInvalidArgument)

	t.Run("independent environments", func(t *testing.T) {
		a, b := NewMemEnv(), NewMemEnv()

		la, err := a.LockFile("LOCK")
		require.NoError(t, err)

		lb, err := b.LockFile("LOCK")
		require.NoError(t, err, "no cross-instance contention")

		assert.ErrorIs(t, a.UnlockFile(lb), ErrInvalidArgument, "token from another env")

		require.NoError(t, a.UnlockFile(la))
		require.NoError(t, b.UnlockFile(lb))
	})
}

func TestMemEnvTestDirectory(t *testing.T) {
	env := NewMemEnv()

	dir, err := env.GetTestDirectory()
	require.NoError(t, err)
	assert.Equal(t, "/test", dir)

	writeLocalFile(t, env, dir+"/scratch", "x")

	names, err := env.GetChildren(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"scratch"}, names)
}

func TestMemEnvClock(t *testing.T) {
	env := NewMemEnv()

	before := env.NowMicros()
	env.SleepForMicroseconds(1000)
	after := env.NowMicros()

	assert.GreaterOrEqual(t, after-before, uint64(1000))
}
