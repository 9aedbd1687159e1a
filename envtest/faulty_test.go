package envtest_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/envgo"
	"github.com/hupe1980/envgo/envtest"
)

func writeThrough(t *testing.T, env envgo.Env, name, content string) {
	t.Helper()

	w, err := env.NewWritableFile(name)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestFaultyEnvWriteBudget(t *testing.T) {
	env := envtest.NewFaultyEnv(envgo.NewMemEnv())
	env.AddRule("000003.log", envtest.Fault{FailAfterBytes: 10})

	w, err := env.NewWritableFile("000003.log")
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write(make([]byte, 8))
	require.NoError(t, err)

	_, err = w.Write(make([]byte, 8))
	assert.ErrorIs(t, err, envtest.ErrInjected)

	// The failed write consumed nothing, so the rest of the budget is
	// still there.
	_, err = w.Write(make([]byte, 2))
	assert.NoError(t, err)
}

func TestFaultyEnvSyncAndClose(t *testing.T) {
	env := envtest.NewFaultyEnv(envgo.NewMemEnv())
	env.AddRule("MANIFEST", envtest.Fault{FailOnSync: true, FailOnClose: true})

	w, err := env.NewWritableFile("MANIFEST-000001")
	require.NoError(t, err)

	_, err = w.Write([]byte("edit"))
	require.NoError(t, err)

	assert.ErrorIs(t, w.Sync(), envtest.ErrInjected)
	assert.ErrorIs(t, w.Close(), envtest.ErrInjected)

	// The underlying handle really closed before the injected error.
	_, err = w.Write([]byte("more"))
	assert.True(t, envgo.IsClosed(err))
}

func TestFaultyEnvReads(t *testing.T) {
	env := envtest.NewFaultyEnv(envgo.NewMemEnv())
	writeThrough(t, env, "000007.sst", "block data")
	writeThrough(t, env, "CURRENT", "MANIFEST-000001")

	env.AddRule("000007", envtest.Fault{FailOnRead: true})

	seq, err := env.NewSequentialFile("000007.sst")
	require.NoError(t, err)
	_, err = seq.Read(make([]byte, 4))
	assert.ErrorIs(t, err, envtest.ErrInjected)
	require.NoError(t, seq.Close())

	ra, err := env.NewRandomAccessFile("000007.sst")
	require.NoError(t, err)
	_, err = ra.ReadAt(make([]byte, 4), 0)
	assert.ErrorIs(t, err, envtest.ErrInjected)
	require.NoError(t, ra.Close())

	// Files outside the rule read normally.
	other, err := env.NewSequentialFile("CURRENT")
	require.NoError(t, err)
	defer other.Close()

	buf := make([]byte, 8)
	n, err := other.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "MANIFEST", string(buf[:n]))
}

func TestFaultyEnvAppendable(t *testing.T) {
	env := envtest.NewFaultyEnv(envgo.NewMemEnv())
	env.AddRule(".log", envtest.Fault{FailOnSync: true})

	w, err := env.NewAppendableFile("000004.log")
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("record"))
	require.NoError(t, err)
	assert.ErrorIs(t, w.Sync(), envtest.ErrInjected)
}

func TestFaultyEnvCustomError(t *testing.T) {
	errDiskFull := errors.New("disk full")

	env := envtest.NewFaultyEnv(envgo.NewMemEnv())
	env.AddRule("db/", envtest.Fault{FailAfterBytes: 4, Err: errDiskFull})

	w, err := env.NewWritableFile("db/000001.log")
	require.NoError(t, err)
	defer w.Close()

	_, err = w.Write([]byte("01234567"))
	assert.ErrorIs(t, err, errDiskFull)
	assert.NotErrorIs(t, err, envtest.ErrInjected)
}

func TestFaultyEnvRulesArmLater(t *testing.T) {
	env := envtest.NewFaultyEnv(envgo.NewMemEnv())

	// A handle opened before the rule keeps working.
	w, err := env.NewWritableFile("000009.log")
	require.NoError(t, err)
	defer w.Close()

	env.AddRule("000009", envtest.Fault{FailAfterBytes: 1})

	_, err = w.Write([]byte("unaffected"))
	assert.NoError(t, err)

	// A handle opened after it does not.
	armed, err := env.NewWritableFile("000009.log")
	require.NoError(t, err)
	defer armed.Close()

	_, err = armed.Write([]byte("xx"))
	assert.ErrorIs(t, err, envtest.ErrInjected)
}

func TestFaultyEnvClearRules(t *testing.T) {
	env := envtest.NewFaultyEnv(envgo.NewMemEnv())
	env.AddRule("LOG", envtest.Fault{FailOnSync: true})
	env.ClearRules()

	w, err := env.NewWritableFile("LOG")
	require.NoError(t, err)
	defer w.Close()

	assert.NoError(t, w.Sync())
}

func TestFaultyEnvPassThrough(t *testing.T) {
	env := envtest.NewFaultyEnv(envgo.NewMemEnv())
	writeThrough(t, env, "data", "0123")

	assert.True(t, env.FileExists("data"))

	size, err := env.GetFileSize("data")
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)

	lock, err := env.LockFile("LOCK")
	require.NoError(t, err)
	require.NoError(t, env.UnlockFile(lock))
}
