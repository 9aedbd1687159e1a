package envgo

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/envgo/internal/clock"
)

// CompressionType selects the codec applied to rotated-out log files.
type CompressionType uint8

const (
	// CompressionNone keeps rotated files as written.
	CompressionNone CompressionType = iota
	// CompressionLZ4 uses the LZ4 frame format (fast, modest ratio).
	CompressionLZ4
	// CompressionZSTD uses zstd (slower, better ratio).
	CompressionZSTD
)

// String implements fmt.Stringer.
func (c CompressionType) String() string {
	switch c {
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "none"
	}
}

// ext returns the filename suffix appended to compressed rotations.
func (c CompressionType) ext() string {
	switch c {
	case CompressionLZ4:
		return ".lz4"
	case CompressionZSTD:
		return ".zst"
	default:
		return ""
	}
}

// newEnvLogWriter opens the sink behind Env.NewLogger: the bare appendable
// file, or a rotating wrapper once a size cap is configured.
func newEnvLogWriter(env Env, name string, maxBytes int64, codec CompressionType) (io.WriteCloser, error) {
	f, err := env.NewAppendableFile(name)
	if err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		return f, nil
	}

	size, err := env.GetFileSize(name)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return newRotatingFile(env, name, f, size, maxBytes, codec), nil
}

// rotatingFile rotates the file it fronts once a write would push it past
// the size cap: the current file is renamed aside with a timestamp suffix
// and a fresh one takes its place. Compressing the rotated-out file runs
// on the environment's background pool so logging never stalls on a codec.
type rotatingFile struct {
	env   Env
	name  string
	max   int64
	codec CompressionType

	mu        sync.Mutex
	w         WritableFile
	size      int64
	rotations uint64
}

func newRotatingFile(env Env, name string, w WritableFile, size, max int64, codec CompressionType) *rotatingFile {
	return &rotatingFile{env: env, name: name, max: max, codec: codec, w: w, size: size}
}

func (r *rotatingFile) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.w == nil {
		return 0, pathError("write", r.name, ErrClosed)
	}
	if r.size > 0 && r.size+int64(len(p)) > r.max {
		if err := r.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := r.w.Write(p)
	r.size += int64(n)
	return n, err
}

// rotate runs with the mutex held.
func (r *rotatingFile) rotate() error {
	if err := r.w.Close(); err != nil {
		return err
	}

	// The counter keeps names unique even when two rotations land in the
	// same microsecond.
	r.rotations++
	rotated := fmt.Sprintf("%s.%d.%d", r.name, clock.Micros(), r.rotations)
	if err := r.env.RenameFile(r.name, rotated); err != nil {
		return err
	}

	w, err := r.env.NewWritableFile(r.name)
	if err != nil {
		return err
	}
	r.w = w
	r.size = 0

	if r.codec != CompressionNone {
		env, codec := r.env, r.codec
		env.Schedule(func() {
			_ = compressFile(env, rotated, codec)
		})
	}
	return nil
}

func (r *rotatingFile) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.w == nil {
		return nil
	}
	err := r.w.Close()
	r.w = nil
	return err
}

// compressFile rewrites name as name+ext with the codec and removes the
// original. On any failure the original file is left in place.
func compressFile(env Env, name string, codec CompressionType) error {
	ext := codec.ext()
	if ext == "" {
		return nil
	}

	src, err := env.NewSequentialFile(name)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := env.NewWritableFile(name + ext)
	if err != nil {
		return err
	}

	var cw io.WriteCloser
	switch codec {
	case CompressionZSTD:
		zw, err := zstd.NewWriter(dst)
		if err != nil {
			_ = dst.Close()
			return err
		}
		cw = zw
	case CompressionLZ4:
		cw = lz4.NewWriter(dst)
	}

	if _, err := io.Copy(cw, src); err != nil {
		_ = cw.Close()
		_ = dst.Close()
		return err
	}
	if err := cw.Close(); err != nil {
		_ = dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return env.RemoveFile(name)
}
