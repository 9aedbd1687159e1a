package envgo

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/envgo/internal/mmap"
	"github.com/hupe1980/envgo/internal/resource"
)

// localFile is the base shared by the local capability objects. It owns
// one *os.File exclusively; the close latch guarantees the descriptor is
// released at most once no matter how often Close runs.
type localFile struct {
	f      *os.File
	name   string
	closed atomic.Bool
}

func (f *localFile) seek(offset int64, whence int) (int64, error) {
	pos, err := f.f.Seek(offset, whence)
	if err != nil {
		return 0, pathError("seek", f.name, err)
	}
	return pos, nil
}

func (f *localFile) close() error {
	if f.closed.Swap(true) {
		return nil
	}
	return f.f.Close()
}

type localSequentialFile struct {
	localFile
	metrics MetricsCollector
}

func (f *localSequentialFile) Read(p []byte) (int, error) {
	n, err := f.f.Read(p)
	f.metrics.RecordRead(int64(n), readErr(err))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, pathError("read", f.name, err)
	}
	return n, err
}

// Skip advances the cursor without transferring data. The target position
// is clamped to the current file size, so skipping past the end leaves the
// next Read reporting a clean io.EOF.
func (f *localSequentialFile) Skip(n int64) error {
	if n < 0 {
		return pathError("skip", f.name, ErrInvalidArgument)
	}
	if n == 0 {
		return nil
	}

	cur, err := f.seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}

	fi, err := f.f.Stat()
	if err != nil {
		return pathError("skip", f.name, err)
	}

	target := cur + n
	if size := fi.Size(); target > size {
		target = size
	}

	_, err = f.seek(target, io.SeekStart)
	return err
}

func (f *localSequentialFile) Close() error {
	if err := f.close(); err != nil {
		return pathError("close", f.name, err)
	}
	return nil
}

// localRandomAccessFile serves positioned reads over a single shared file
// cursor. The underlying primitive is a stateful seek-then-read pair, so
// the mutex turns that pair into one critical section: a concurrent reader
// can never observe a cursor position set by another.
type localRandomAccessFile struct {
	localFile
	mu      sync.Mutex
	metrics MetricsCollector
}

func (f *localRandomAccessFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, pathError("readat", f.name, ErrInvalidArgument)
	}

	f.mu.Lock()
	if _, err := f.seek(off, io.SeekStart); err != nil {
		f.mu.Unlock()
		f.metrics.RecordRead(0, err)
		return 0, err
	}
	n, err := io.ReadFull(f.f, p)
	f.mu.Unlock()

	f.metrics.RecordRead(int64(n), readErr(err))

	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		// A short read at the tail is end-of-file, not a backend failure.
		return n, io.EOF
	default:
		return n, pathError("readat", f.name, err)
	}
}

func (f *localRandomAccessFile) Close() error {
	if err := f.close(); err != nil {
		return pathError("close", f.name, err)
	}
	return nil
}

// localMmapFile serves positioned reads from a read-only memory mapping.
// Mappings have no cursor, so reads need no serialization at all. The
// mapping slot is returned to the environment's budget on Close.
type localMmapFile struct {
	m       *mmap.Mapping
	name    string
	res     *resource.Controller
	closed  atomic.Bool
	metrics MetricsCollector
}

func (f *localMmapFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, pathError("readat", f.name, ErrInvalidArgument)
	}

	n, err := f.m.ReadAt(p, off)
	f.metrics.RecordRead(int64(n), readErr(err))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, pathError("readat", f.name, err)
	}
	return n, err
}

func (f *localMmapFile) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	err := f.m.Close()
	f.res.ReleaseMapping()
	if err != nil {
		return pathError("close", f.name, err)
	}
	return nil
}

// localWritableFile appends through direct OS writes, leaving the page
// cache as the only buffering layer. Flush is therefore a no-op; Sync is
// what forces data to stable storage.
type localWritableFile struct {
	localFile
	res     *resource.Controller
	metrics MetricsCollector
}

func (f *localWritableFile) Write(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, pathError("write", f.name, ErrClosed)
	}
	if err := f.res.AcquireIO(context.Background(), len(p)); err != nil {
		return 0, pathError("write", f.name, err)
	}

	n, err := f.f.Write(p)
	f.metrics.RecordWrite(int64(n), err)
	if err != nil {
		return n, pathError("write", f.name, err)
	}
	return n, nil
}

// Close releases the descriptor exactly once and reports success even on
// the second and later calls. Close promises nothing about durability;
// data that must survive a crash needs Sync first.
func (f *localWritableFile) Close() error {
	_ = f.close()
	return nil
}

func (f *localWritableFile) Flush() error { return nil }

func (f *localWritableFile) Sync() error {
	if f.closed.Load() {
		return pathError("sync", f.name, ErrClosed)
	}

	err := f.f.Sync()
	f.metrics.RecordSync(err)
	if err != nil {
		return pathError("sync", f.name, err)
	}
	return nil
}
