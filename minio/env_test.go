package minio

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/envgo"
)

// newTestEnv builds an environment over a client that never dials out.
func newTestEnv(t *testing.T, optFns ...Option) *Env {
	t.Helper()

	client, err := minio.New("localhost:9000", &minio.Options{
		Creds: credentials.NewStaticV4("minioadmin", "minioadmin", ""),
	})
	require.NoError(t, err)

	return NewWithClient(client, "test-bucket", optFns...)
}

func TestNew(t *testing.T) {
	env, err := New("localhost:9000", "test-bucket",
		WithCredentials("minioadmin", "minioadmin"),
		WithPrefix("db/"),
	)
	require.NoError(t, err)
	assert.Equal(t, "db", env.prefix)

	t.Run("bad endpoint", func(t *testing.T) {
		_, err := New("http://localhost:9000", "test-bucket")
		require.Error(t, err)
	})
}

func TestKeyMapping(t *testing.T) {
	env := newTestEnv(t, WithPrefix("tenant/db/"))

	assert.Equal(t, "tenant/db/CURRENT", env.key("CURRENT"))
	assert.Equal(t, "tenant/db/wal/000001.log", env.key("/wal/000001.log"))
	assert.Equal(t, "tenant/db", env.key(""))

	bare := newTestEnv(t)
	assert.Equal(t, "CURRENT", bare.key("CURRENT"))
	assert.Equal(t, "", bare.key(""))
}

func TestAppendableFileNotSupported(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.NewAppendableFile("000001.log")
	require.Error(t, err)
	assert.True(t, envgo.IsNotSupported(err))
}

func TestLockingNotSupported(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.LockFile("LOCK")
	require.Error(t, err)
	assert.True(t, envgo.IsNotSupported(err))

	t.Run("foreign token", func(t *testing.T) {
		mem := envgo.NewMemEnv()
		foreign, err := mem.LockFile("LOCK")
		require.NoError(t, err)

		assert.ErrorIs(t, env.UnlockFile(foreign), envgo.ErrInvalidArgument)
		assert.ErrorIs(t, env.UnlockFile(nil), envgo.ErrInvalidArgument)
	})
}

func TestDirectoriesAreNoOps(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.CreateDir("db"))
	require.NoError(t, env.RemoveDir("db"))

	dir, err := env.GetTestDirectory()
	require.NoError(t, err)
	assert.NotEmpty(t, dir)
}

func TestScheduleRunsTasks(t *testing.T) {
	env := newTestEnv(t, WithBackgroundWorkers(2))

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		env.Schedule(func() {
			defer wg.Done()
			count.Add(1)
		})
	}
	wg.Wait()

	assert.Equal(t, int32(8), count.Load())
}
