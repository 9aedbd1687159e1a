package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/envgo"
	"github.com/hupe1980/envgo/internal/clock"
	"github.com/hupe1980/envgo/internal/resource"
)

type options struct {
	accessKey          string
	secretKey          string
	secure             bool
	region             string
	prefix             string
	logger             *envgo.Logger
	metricsCollector   envgo.MetricsCollector
	backgroundWorkers  int64
	ioLimitBytesPerSec int64
	partSize           uint64
	threads            uint
}

// Option configures the environment.
type Option func(*options)

// WithCredentials sets static credentials. Without them the client makes
// anonymous requests, which only works against public buckets.
func WithCredentials(accessKey, secretKey string) Option {
	return func(o *options) {
		o.accessKey = accessKey
		o.secretKey = secretKey
	}
}

// WithSecure enables TLS for the endpoint connection.
func WithSecure(secure bool) Option {
	return func(o *options) {
		o.secure = secure
	}
}

// WithRegion sets the bucket region for servers that enforce one.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// WithPrefix scopes every path under a key prefix, so multiple environments
// can share one bucket.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithLogger sets the environment's diagnostic logger.
func WithLogger(logger *envgo.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetricsCollector sets a collector for file IO metrics.
func WithMetricsCollector(mc envgo.MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithBackgroundWorkers bounds how many Schedule tasks run at once.
func WithBackgroundWorkers(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.backgroundWorkers = int64(n)
		}
	}
}

// WithIOLimitBytesPerSec throttles writes issued through writable files.
func WithIOLimitBytesPerSec(n int64) Option {
	return func(o *options) {
		o.ioLimitBytesPerSec = n
	}
}

// WithPartSize sets the multipart upload part size in bytes. Zero keeps the
// client's default.
func WithPartSize(n uint64) Option {
	return func(o *options) {
		o.partSize = n
	}
}

// WithUploadConcurrency sets how many parts upload in parallel per file.
func WithUploadConcurrency(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.threads = uint(n)
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:            envgo.NoopLogger(),
		metricsCollector:  envgo.NoopMetricsCollector{},
		backgroundWorkers: 1,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// Env is an envgo.Env over a MinIO bucket. It is safe for concurrent use.
type Env struct {
	client   *minio.Client
	bucket   string
	prefix   string
	partSize uint64
	threads  uint

	logger  *envgo.Logger
	metrics envgo.MetricsCollector
	res     *resource.Controller
}

var _ envgo.Env = (*Env)(nil)

// New connects to an endpoint such as "localhost:9000" and builds the
// environment over the given bucket.
func New(endpoint, bucket string, optFns ...Option) (*Env, error) {
	o := applyOptions(optFns)

	var creds *credentials.Credentials
	if o.accessKey != "" {
		creds = credentials.NewStaticV4(o.accessKey, o.secretKey, "")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: o.secure,
		Region: o.region,
	})
	if err != nil {
		return nil, fmt.Errorf("new minio client: %w", err)
	}
	return newEnv(client, bucket, o), nil
}

// NewWithClient wraps an existing client, for custom transports and tests.
func NewWithClient(client *minio.Client, bucket string, optFns ...Option) *Env {
	return newEnv(client, bucket, applyOptions(optFns))
}

func newEnv(client *minio.Client, bucket string, o options) *Env {
	prefix := strings.Trim(path.Clean(o.prefix), "/")
	if prefix == "." {
		prefix = ""
	}

	return &Env{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		partSize: o.partSize,
		threads:  o.threads,
		logger:   o.logger,
		metrics:  o.metricsCollector,
		res: resource.NewController(resource.Config{
			MaxBackgroundWorkers: o.backgroundWorkers,
			IOLimitBytesPerSec:   o.ioLimitBytesPerSec,
		}),
	}
}

// key maps an environment path onto an object key under the prefix.
func (e *Env) key(name string) string {
	name = strings.TrimPrefix(path.Clean(name), "/")
	if name == "." {
		name = ""
	}
	if e.prefix == "" {
		return name
	}
	return path.Join(e.prefix, name)
}

// wrapErr translates a server failure. Missing objects surface as
// fs.ErrNotExist so envgo.IsNotFound works across backends.
func wrapErr(op, name string, err error) error {
	if err == nil {
		return nil
	}

	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		err = fs.ErrNotExist
	}
	return &envgo.Error{Op: op, Path: name, Err: err}
}

// NewSequentialFile implements envgo.Env. The whole object is streamed
// through one GET; Skip discards from the stream. GetObject defers missing
// objects until the first read, so existence is checked up front.
func (e *Env) NewSequentialFile(name string) (envgo.SequentialFile, error) {
	key := e.key(name)

	if _, err := e.client.StatObject(context.Background(), e.bucket, key, minio.StatObjectOptions{}); err != nil {
		return nil, wrapErr("open", name, err)
	}

	obj, err := e.client.GetObject(context.Background(), e.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, wrapErr("open", name, err)
	}
	return &sequentialFile{env: e, name: name, body: obj}, nil
}

// NewRandomAccessFile implements envgo.Env. Each ReadAt issues an
// independent ranged GET, so concurrent calls need no serialization.
func (e *Env) NewRandomAccessFile(name string) (envgo.RandomAccessFile, error) {
	key := e.key(name)

	info, err := e.client.StatObject(context.Background(), e.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, wrapErr("open", name, err)
	}

	return &randomAccessFile{
		env:  e,
		name: name,
		key:  key,
		size: info.Size,
	}, nil
}

// NewWritableFile implements envgo.Env. Writes stream into a multipart
// upload; the object becomes visible when Close returns.
func (e *Env) NewWritableFile(name string) (envgo.WritableFile, error) {
	key := e.key(name)
	pr, pw := io.Pipe()

	f := &writableFile{
		env:  e,
		name: name,
		pw:   pw,
		done: make(chan error, 1),
	}

	go func() {
		_, err := e.client.PutObject(context.Background(), e.bucket, key, pr, -1, minio.PutObjectOptions{
			PartSize:   e.partSize,
			NumThreads: e.threads,
		})
		if err != nil {
			e.logger.Warn("Upload failed", "path", name, "error", err)
		}
		_ = pr.CloseWithError(err)
		f.done <- err
	}()

	return f, nil
}

// NewAppendableFile implements envgo.Env. Objects cannot be appended.
func (e *Env) NewAppendableFile(name string) (envgo.WritableFile, error) {
	return nil, &envgo.Error{Op: "append", Path: name, Err: envgo.ErrNotSupported}
}

// FileExists implements envgo.Env.
func (e *Env) FileExists(name string) bool {
	_, err := e.client.StatObject(context.Background(), e.bucket, e.key(name), minio.StatObjectOptions{})
	return err == nil
}

// GetChildren implements envgo.Env. Keys under dir are grouped by "/": keys
// one level down list as files, deeper keys collapse into their first path
// element. An empty result is indistinguishable from a missing directory
// and lists as no children.
func (e *Env) GetChildren(dir string) ([]string, error) {
	prefix := e.key(dir)
	if prefix != "" {
		prefix += "/"
	}

	seen := make(map[string]bool)
	for obj := range e.client.ListObjects(context.Background(), e.bucket, minio.ListObjectsOptions{
		Prefix: prefix,
	}) {
		if obj.Err != nil {
			return nil, wrapErr("list", dir, obj.Err)
		}
		name := strings.TrimSuffix(strings.TrimPrefix(obj.Key, prefix), "/")
		if name != "" {
			seen[name] = true
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RemoveFile implements envgo.Env. RemoveObject succeeds for missing keys,
// so existence is checked first to keep remove-of-missing an error.
func (e *Env) RemoveFile(name string) error {
	key := e.key(name)

	if _, err := e.client.StatObject(context.Background(), e.bucket, key, minio.StatObjectOptions{}); err != nil {
		return wrapErr("remove", name, err)
	}

	err := e.client.RemoveObject(context.Background(), e.bucket, key, minio.RemoveObjectOptions{})
	return wrapErr("remove", name, err)
}

// CreateDir implements envgo.Env. Prefixes need no creation.
func (e *Env) CreateDir(name string) error {
	return nil
}

// RemoveDir implements envgo.Env.
func (e *Env) RemoveDir(name string) error {
	return nil
}

// GetFileSize implements envgo.Env.
func (e *Env) GetFileSize(name string) (int64, error) {
	info, err := e.client.StatObject(context.Background(), e.bucket, e.key(name), minio.StatObjectOptions{})
	if err != nil {
		return 0, wrapErr("stat", name, err)
	}
	return info.Size, nil
}

// RenameFile implements envgo.Env as copy-then-delete. The copy is atomic
// per object; the pair is not, so a crash can leave both names present.
func (e *Env) RenameFile(src, target string) error {
	srcKey, dstKey := e.key(src), e.key(target)

	_, err := e.client.CopyObject(context.Background(),
		minio.CopyDestOptions{Bucket: e.bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: e.bucket, Object: srcKey},
	)
	if err != nil {
		return wrapErr("rename", src, err)
	}

	err = e.client.RemoveObject(context.Background(), e.bucket, srcKey, minio.RemoveObjectOptions{})
	return wrapErr("rename", src, err)
}

// LockFile implements envgo.Env. The server offers no conditional write the
// lock protocol could build on; the s3 backend with a DynamoDB lock table
// covers deployments that need exclusion.
func (e *Env) LockFile(name string) (envgo.FileLock, error) {
	return nil, &envgo.Error{Op: "lock", Path: name, Err: envgo.ErrNotSupported}
}

// UnlockFile implements envgo.Env. No lock token can originate here.
func (e *Env) UnlockFile(lock envgo.FileLock) error {
	return envgo.ErrInvalidArgument
}

// Schedule implements envgo.Env.
func (e *Env) Schedule(task func()) {
	e.res.Go(task)
}

// StartThread implements envgo.Env.
func (e *Env) StartThread(task func()) {
	go task()
}

// GetTestDirectory implements envgo.Env. Isolation comes from the bucket
// and prefix, so a fixed name is enough.
func (e *Env) GetTestDirectory() (string, error) {
	return "test", nil
}

// NewLogger implements envgo.Env. Records become readable once the logger
// is closed, because the backing upload finalizes on Close.
func (e *Env) NewLogger(name string) (*envgo.Logger, error) {
	w, err := e.NewWritableFile(name)
	if err != nil {
		return nil, err
	}
	return envgo.NewFileLogger(w), nil
}

// NowMicros implements envgo.Env.
func (e *Env) NowMicros() uint64 {
	return clock.Micros()
}

// SleepForMicroseconds implements envgo.Env.
func (e *Env) SleepForMicroseconds(micros int) {
	clock.Sleep(micros)
}

type sequentialFile struct {
	env    *Env
	name   string
	body   io.ReadCloser
	closed atomic.Bool
}

func (f *sequentialFile) Read(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, &envgo.Error{Op: "read", Path: f.name, Err: envgo.ErrClosed}
	}

	n, err := f.body.Read(p)
	f.env.metrics.RecordRead(int64(n), readErr(err))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, wrapErr("read", f.name, err)
	}
	return n, err
}

func (f *sequentialFile) Skip(n int64) error {
	if f.closed.Load() {
		return &envgo.Error{Op: "skip", Path: f.name, Err: envgo.ErrClosed}
	}
	if n < 0 {
		return &envgo.Error{Op: "skip", Path: f.name, Err: envgo.ErrInvalidArgument}
	}

	_, err := io.CopyN(io.Discard, f.body, n)
	if err != nil && !errors.Is(err, io.EOF) {
		return wrapErr("skip", f.name, err)
	}
	return nil
}

func (f *sequentialFile) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	return wrapErr("close", f.name, f.body.Close())
}

type randomAccessFile struct {
	env    *Env
	name   string
	key    string
	size   int64
	closed atomic.Bool
}

func (f *randomAccessFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed.Load() {
		return 0, &envgo.Error{Op: "readat", Path: f.name, Err: envgo.ErrClosed}
	}
	if off < 0 {
		return 0, &envgo.Error{Op: "readat", Path: f.name, Err: envgo.ErrInvalidArgument}
	}
	if off >= f.size {
		f.env.metrics.RecordRead(0, nil)
		return 0, io.EOF
	}

	end := off + int64(len(p)) - 1
	if end >= f.size {
		end = f.size - 1
	}

	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, end); err != nil {
		return 0, wrapErr("readat", f.name, err)
	}

	obj, err := f.env.client.GetObject(context.Background(), f.env.bucket, f.key, opts)
	if err != nil {
		wrapped := wrapErr("readat", f.name, err)
		f.env.metrics.RecordRead(0, wrapped)
		return 0, wrapped
	}
	defer obj.Close()

	n, err := io.ReadFull(obj, p)
	f.env.metrics.RecordRead(int64(n), readErr(err))
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		// The range was truncated at the object's tail.
		return n, io.EOF
	default:
		return n, wrapErr("readat", f.name, err)
	}
}

func (f *randomAccessFile) Close() error {
	f.closed.Store(true)
	return nil
}

// writableFile streams into an upload running on its own goroutine. Sync
// cannot make the object durable early; only Close, which finalizes the
// upload, does.
type writableFile struct {
	env    *Env
	name   string
	pw     *io.PipeWriter
	done   chan error
	closed atomic.Bool
}

func (f *writableFile) Write(p []byte) (int, error) {
	if f.closed.Load() {
		return 0, &envgo.Error{Op: "write", Path: f.name, Err: envgo.ErrClosed}
	}
	if err := f.env.res.AcquireIO(context.Background(), len(p)); err != nil {
		return 0, &envgo.Error{Op: "write", Path: f.name, Err: err}
	}

	n, err := f.pw.Write(p)
	f.env.metrics.RecordWrite(int64(n), err)
	if err != nil {
		return n, wrapErr("write", f.name, err)
	}
	return n, nil
}

func (f *writableFile) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	_ = f.pw.Close()
	if err := <-f.done; err != nil {
		return wrapErr("close", f.name, err)
	}
	return nil
}

func (f *writableFile) Flush() error { return nil }

func (f *writableFile) Sync() error {
	if f.closed.Load() {
		return &envgo.Error{Op: "sync", Path: f.name, Err: envgo.ErrClosed}
	}
	f.env.metrics.RecordSync(nil)
	return nil
}

// readErr filters end-of-file before an error reaches a collector.
func readErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil
	}
	return err
}
