package envtest

import (
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/envgo"
)

// NewEnvFunc returns a fresh environment for one conformance subtest. The
// suite creates and removes files, so each invocation should start clean
// or at least isolated.
type NewEnvFunc func(t *testing.T) envgo.Env

// TestEnv runs the full conformance suite against environments produced
// by newEnv.
func TestEnv(t *testing.T, newEnv NewEnvFunc) {
	TestEnvWithSkip(t, newEnv, nil)
}

// TestEnvWithSkip runs the conformance suite, skipping the named groups.
// Skipping is for behaviors a backend cannot express at all, such as
// "Directories" on object stores; optional capabilities reported through
// ErrNotSupported are detected and skipped automatically.
func TestEnvWithSkip(t *testing.T, newEnv NewEnvFunc, skip []string) {
	shouldSkip := func(name string) bool {
		for _, s := range skip {
			if s == name {
				return true
			}
		}
		return false
	}

	groups := []struct {
		name string
		fn   func(*testing.T, envgo.Env)
	}{
		{"SequentialFile", TestSequentialFile},
		{"RandomAccessFile", TestRandomAccessFile},
		{"WritableFile", TestWritableFile},
		{"AppendableFile", TestAppendableFile},
		{"FileOps", TestFileOps},
		{"Directories", TestDirectories},
		{"Locking", TestLocking},
		{"Scheduling", TestScheduling},
		{"Clock", TestClock},
		{"Logger", TestLogger},
	}

	for _, group := range groups {
		t.Run(group.name, func(t *testing.T) {
			if shouldSkip(group.name) {
				t.Skip("skipped by backend configuration")
			}
			group.fn(t, newEnv(t))
		})
	}
}

var scratchSeq atomic.Uint64

// scratchDir provisions an isolated directory for one subtest and removes
// it afterwards.
func scratchDir(t *testing.T, env envgo.Env) string {
	t.Helper()

	base, err := env.GetTestDirectory()
	require.NoError(t, err)

	dir := path.Join(base, fmt.Sprintf("suite-%d-%d", os.Getpid(), scratchSeq.Add(1)))
	require.NoError(t, env.CreateDir(dir))
	t.Cleanup(func() { removeTree(env, dir) })

	return dir
}

func removeTree(env envgo.Env, dir string) {
	names, err := env.GetChildren(dir)
	if err == nil {
		for _, name := range names {
			p := path.Join(dir, name)
			if env.FileExists(p) {
				_ = env.RemoveFile(p)
			} else {
				removeTree(env, p)
			}
		}
	}
	_ = env.RemoveDir(dir)
}

func writeFile(t *testing.T, env envgo.Env, name, content string) {
	t.Helper()

	w, err := env.NewWritableFile(name)
	require.NoError(t, err)

	n, err := w.Write([]byte(content))
	require.NoError(t, err)
	require.Equal(t, len(content), n)

	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
}

func readFile(t *testing.T, env envgo.Env, name string) string {
	t.Helper()

	f, err := env.NewSequentialFile(name)
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return string(data)
}

// TestSequentialFile checks front-to-back reads and Skip semantics.
func TestSequentialFile(t *testing.T, env envgo.Env) {
	dir := scratchDir(t, env)
	name := path.Join(dir, "seq.log")
	writeFile(t, env, name, "0123456789")

	t.Run("read and skip", func(t *testing.T) {
		f, err := env.NewSequentialFile(name)
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
	})

	t.Run("skip past end clamps", func(t *testing.T) {
		f, err := env.NewSequentialFile(name)
		require.NoError(t, err)
		defer f.Close()

		require.NoError(t, f.Skip(1_000_000))

		n, err := f.Read(make([]byte, 4))
		assert.Equal(t, 0, n)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("negative skip", func(t *testing.T) {
		f, err := env.NewSequentialFile(name)
		require.NoError(t, err)
		defer f.Close()

		assert.ErrorIs(t, f.Skip(-1), envgo.ErrInvalidArgument)
	})

	t.Run("eof convention", func(t *testing.T) {
		f, err := env.NewSequentialFile(name)
		require.NoError(t, err)
		defer f.Close()

		data, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "0123456789", string(data))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := env.NewSequentialFile(path.Join(dir, "absent"))
		require.Error(t, err)
		assert.True(t, envgo.IsNotFound(err))
	})

	t.Run("close idempotent", func(t *testing.T) {
		f, err := env.NewSequentialFile(name)
		require.NoError(t, err)

		require.NoError(t, f.Close())
		require.NoError(t, f.Close())
	})
}

// TestRandomAccessFile checks positioned reads, the EOF convention and
// concurrent access to one handle.
func TestRandomAccessFile(t *testing.T, env envgo.Env) {
	dir := scratchDir(t, env)
	name := path.Join(dir, "table.sst")
	const content = "aaaabbbbccccdddd"
	writeFile(t, env, name, content)

	f, err := env.NewRandomAccessFile(name)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	t.Run("positioned reads", func(t *testing.T) {
		buf := make([]byte, 4)
		for _, off := range []int64{0, 4, 8, 12} {
			n, err := f.ReadAt(buf, off)
			require.NoError(t, err)
			require.Equal(t, 4, n)
			assert.Equal(t, content[off:off+4], string(buf))
		}
	})

	t.Run("short read at tail", func(t *testing.T) {
		buf := make([]byte, 8)
		n, err := f.ReadAt(buf, 12)
		assert.Equal(t, 4, n)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, "dddd", string(buf[:n]))
	})

	t.Run("read past end", func(t *testing.T) {
		n, err := f.ReadAt(make([]byte, 4), int64(len(content)))
		assert.Equal(t, 0, n)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("negative offset", func(t *testing.T) {
		_, err := f.ReadAt(make([]byte, 4), -1)
		assert.ErrorIs(t, err, envgo.ErrInvalidArgument)
	})

	t.Run("concurrent readers", func(t *testing.T) {
		var g errgroup.Group
		for i := 0; i < 32; i++ {
			off := int64((i % 4) * 4)
			g.Go(func() error {
				buf := make([]byte, 4)
				n, err := f.ReadAt(buf, off)
				if err != nil {
					return err
				}
				if got, want := string(buf[:n]), content[off:off+4]; got != want {
					return fmt.Errorf("read %q at %d, want %q", got, off, want)
				}
				return nil
			})
		}
		require.NoError(t, g.Wait())
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := env.NewRandomAccessFile(path.Join(dir, "absent"))
		require.Error(t, err)
		assert.True(t, envgo.IsNotFound(err))
	})
}

// TestWritableFile checks create-truncates, durability calls and the
// terminal close contract.
func TestWritableFile(t *testing.T, env envgo.Env) {
	dir := scratchDir(t, env)

	t.Run("create truncates", func(t *testing.T) {
		name := path.Join(dir, "trunc.log")
		writeFile(t, env, name, "old contents")
		writeFile(t, env, name, "new")

		assert.Equal(t, "new", readFile(t, env, name))
	})

	t.Run("flush and sync succeed", func(t *testing.T) {
		name := path.Join(dir, "sync.log")

		w, err := env.NewWritableFile(name)
		require.NoError(t, err)
		defer w.Close()

		_, err = w.Write([]byte("x"))
		require.NoError(t, err)
		assert.NoError(t, w.Flush())
		assert.NoError(t, w.Sync())
	})

	t.Run("close is terminal and idempotent", func(t *testing.T) {
		name := path.Join(dir, "close.log")

		w, err := env.NewWritableFile(name)
		require.NoError(t, err)

		_, err = w.Write([]byte("x"))
		require.NoError(t, err)

		require.NoError(t, w.Close())
		require.NoError(t, w.Close())

		_, err = w.Write([]byte("y"))
		assert.True(t, envgo.IsClosed(err))
		assert.True(t, envgo.IsClosed(w.Sync()))
	})
}

// TestAppendableFile checks append-opens where the backend supports them.
func TestAppendableFile(t *testing.T, env envgo.Env) {
	dir := scratchDir(t, env)
	name := path.Join(dir, "append.log")
	writeFile(t, env, name, "abc")

	w, err := env.NewAppendableFile(name)
	if envgo.IsNotSupported(err) {
		t.Skip("backend does not support append-opens")
	}
	require.NoError(t, err)

	_, err = w.Write([]byte("def"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, "abcdef", readFile(t, env, name))

	t.Run("creates missing file", func(t *testing.T) {
		fresh := path.Join(dir, "fresh.log")

		w, err := env.NewAppendableFile(fresh)
		require.NoError(t, err)
		_, err = w.Write([]byte("first"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		assert.Equal(t, "first", readFile(t, env, fresh))
	})
}

// TestFileOps checks existence, size, listing, remove and rename.
func TestFileOps(t *testing.T, env envgo.Env) {
	dir := scratchDir(t, env)

	t.Run("exists and size", func(t *testing.T) {
		name := path.Join(dir, "present")
		writeFile(t, env, name, "0123456")

		assert.True(t, env.FileExists(name))
		assert.False(t, env.FileExists(path.Join(dir, "absent")))

		size, err := env.GetFileSize(name)
		require.NoError(t, err)
		assert.Equal(t, int64(7), size)

		_, err = env.GetFileSize(path.Join(dir, "absent"))
		assert.True(t, envgo.IsNotFound(err))
	})

	t.Run("children are sorted names", func(t *testing.T) {
		sub := path.Join(dir, "kids")
		require.NoError(t, env.CreateDir(sub))

		for _, name := range []string{"b.sst", "a.sst", "c.log"} {
			writeFile(t, env, path.Join(sub, name), "x")
		}

		names, err := env.GetChildren(sub)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.sst", "b.sst", "c.log"}, names)
	})

	t.Run("remove", func(t *testing.T) {
		name := path.Join(dir, "victim")
		writeFile(t, env, name, "x")

		require.NoError(t, env.RemoveFile(name))
		assert.False(t, env.FileExists(name))
		assert.True(t, envgo.IsNotFound(env.RemoveFile(name)))
	})

	t.Run("rename replaces target", func(t *testing.T) {
		src := path.Join(dir, "src")
		dst := path.Join(dir, "dst")
		writeFile(t, env, src, "source")
		writeFile(t, env, dst, "target")

		require.NoError(t, env.RenameFile(src, dst))
		assert.False(t, env.FileExists(src))
		assert.Equal(t, "source", readFile(t, env, dst))

		assert.True(t, envgo.IsNotFound(env.RenameFile(src, dst)))
	})
}

// TestDirectories checks directory lifecycle semantics. Object store
// backends without real directories skip this group by name.
func TestDirectories(t *testing.T, env envgo.Env) {
	dir := scratchDir(t, env)

	t.Run("lifecycle", func(t *testing.T) {
		sub := path.Join(dir, "lifecycle")

		require.NoError(t, env.CreateDir(sub))
		require.Error(t, env.CreateDir(sub), "already exists")

		assert.False(t, env.FileExists(sub), "directories are not files")

		names, err := env.GetChildren(sub)
		require.NoError(t, err)
		assert.Empty(t, names)

		require.NoError(t, env.RemoveDir(sub))
		assert.True(t, envgo.IsNotFound(env.RemoveDir(sub)))
	})

	t.Run("children of missing dir", func(t *testing.T) {
		_, err := env.GetChildren(path.Join(dir, "missing"))
		require.Error(t, err)
		assert.True(t, envgo.IsNotFound(err))
	})

	t.Run("parent listing includes dirs", func(t *testing.T) {
		sub := path.Join(dir, "subdir")
		require.NoError(t, env.CreateDir(sub))
		writeFile(t, env, path.Join(dir, "file"), "x")

		names, err := env.GetChildren(dir)
		require.NoError(t, err)
		assert.Contains(t, names, "subdir")
		assert.Contains(t, names, "file")
	})
}

// TestLocking checks fail-fast advisory locks and token hygiene.
func TestLocking(t *testing.T, env envgo.Env) {
	dir := scratchDir(t, env)
	name := path.Join(dir, "LOCK")

	lock, err := env.LockFile(name)
	if envgo.IsNotSupported(err) {
		t.Skip("backend does not support locks")
	}
	require.NoError(t, err)
	assert.Equal(t, name, lock.Path())

	t.Run("contention fails fast", func(t *testing.T) {
		_, err := env.LockFile(name)
		require.Error(t, err)
		assert.True(t, envgo.IsLocked(err))
	})

	t.Run("release and reacquire", func(t *testing.T) {
		require.NoError(t, env.UnlockFile(lock))

		again, err := env.LockFile(name)
		require.NoError(t, err)
		require.NoError(t, env.UnlockFile(again))
	})

	t.Run("double release", func(t *testing.T) {
		assert.ErrorIs(t, env.UnlockFile(lock), envgo.ErrInvalidArgument)
	})

	t.Run("foreign token", func(t *testing.T) {
		other := envgo.NewMemEnv()
		foreign, err := other.LockFile("LOCK")
		require.NoError(t, err)

		assert.ErrorIs(t, env.UnlockFile(foreign), envgo.ErrInvalidArgument)
		require.NoError(t, other.UnlockFile(foreign))
	})
}

// TestScheduling checks that Schedule and StartThread run every task.
func TestScheduling(t *testing.T, env envgo.Env) {
	var wg sync.WaitGroup
	var ran atomic.Int32

	for i := 0; i < 8; i++ {
		wg.Add(1)
		env.Schedule(func() {
			defer wg.Done()
			ran.Add(1)
		})
	}

	wg.Add(1)
	env.StartThread(func() {
		defer wg.Done()
		ran.Add(1)
	})

	wg.Wait()
	assert.Equal(t, int32(9), ran.Load())
}

// TestClock checks the monotonic clock and sleeping.
func TestClock(t *testing.T, env envgo.Env) {
	before := env.NowMicros()
	env.SleepForMicroseconds(2000)
	after := env.NowMicros()

	assert.GreaterOrEqual(t, after-before, uint64(2000))
}

// TestLogger checks that NewLogger produces a working file-backed logger.
func TestLogger(t *testing.T, env envgo.Env) {
	dir := scratchDir(t, env)
	name := path.Join(dir, "LOG")

	l, err := env.NewLogger(name)
	if envgo.IsNotSupported(err) {
		t.Skip("backend does not support file loggers")
	}
	require.NoError(t, err)

	l.Info("compaction finished", "outputs", 2)
	require.NoError(t, l.Close())

	assert.Contains(t, readFile(t, env, name), "compaction finished")
}
