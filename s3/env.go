package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/hupe1980/envgo"
	"github.com/hupe1980/envgo/internal/clock"
	"github.com/hupe1980/envgo/internal/resource"
)

// Client is the subset of the S3 API the environment uses. *s3.Client
// implements it. The embedded manager interface carries the multipart
// operations streaming uploads need.
type Client interface {
	manager.UploadAPIClient

	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// DynamoDBClient is the subset of the DynamoDB API used for advisory locks.
// *dynamodb.Client implements it.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type options struct {
	prefix             string
	region             string
	lockTable          string
	ddb                DynamoDBClient
	logger             *envgo.Logger
	metricsCollector   envgo.MetricsCollector
	backgroundWorkers  int64
	ioLimitBytesPerSec int64
	partSize           int64
	concurrency        int
}

// Option configures the environment.
type Option func(*options)

// WithPrefix scopes the environment to keys under prefix, for multi-tenant
// buckets.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithRegion pins the AWS region instead of resolving it from the default
// config chain. Only New uses it.
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// WithLockTable enables LockFile against the named DynamoDB table. New
// builds the DynamoDB client from the same config as the S3 client;
// NewWithClient callers must also supply WithDynamoDBClient.
func WithLockTable(table string) Option {
	return func(o *options) {
		o.lockTable = table
	}
}

// WithDynamoDBClient supplies the DynamoDB client used for the lock table.
func WithDynamoDBClient(client DynamoDBClient) Option {
	return func(o *options) {
		o.ddb = client
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

// WithPartSize sets the multipart upload part size in bytes.
func WithPartSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.partSize = n
		}
	}
}

// WithUploadConcurrency sets how many parts upload in parallel per file.
func WithUploadConcurrency(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.concurrency = n
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:            envgo.NoopLogger(),
		metricsCollector:  envgo.NoopMetricsCollector{},
		backgroundWorkers: 1,
		partSize:          8 * 1024 * 1024,
		concurrency:       5,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// Env is an envgo.Env over an S3 bucket. It is safe for concurrent use.
type Env struct {
	client    Client
	uploader  *manager.Uploader
	ddb       DynamoDBClient
	bucket    string
	prefix    string
	lockTable string
	owner     string

	logger  *envgo.Logger
	metrics envgo.MetricsCollector
	res     *resource.Controller
}

var _ envgo.Env = (*Env)(nil)

// New builds the environment from the default AWS config chain.
func New(ctx context.Context, bucket string, optFns ...Option) (*Env, error) {
	o := applyOptions(optFns)

	var loadOpts []func(*config.LoadOptions) error
	if o.region != "" {
		loadOpts = append(loadOpts, config.WithRegion(o.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	if o.lockTable != "" && o.ddb == nil {
		o.ddb = dynamodb.NewFromConfig(cfg)
	}
	return newEnv(s3.NewFromConfig(cfg), bucket, o), nil
}

// NewWithClient wraps an existing client, for custom endpoints and tests.
func NewWithClient(client Client, bucket string, optFns ...Option) *Env {
	return newEnv(client, bucket, applyOptions(optFns))
}

func newEnv(client Client, bucket string, o options) *Env {
	prefix := strings.Trim(path.Clean(o.prefix), "/")
	if prefix == "." {
		prefix = ""
	}

	return &Env{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = o.partSize
			u.Concurrency = o.concurrency
		}),
		ddb:       o.ddb,
		bucket:    bucket,
		prefix:    prefix,
		lockTable: o.lockTable,
		owner:     lockOwner(),
		logger:    o.logger,
		metrics:   o.metricsCollector,
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

// wrapErr translates an SDK failure. Missing objects surface as
// fs.ErrNotExist so envgo.IsNotFound works across backends.
func wrapErr(op, name string, err error) error {
	if err == nil {
		return nil
	}

	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		err = fs.ErrNotExist
	} else {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.ErrorCode() {
			case "NoSuchKey", "NotFound":
				err = fs.ErrNotExist
			}
		}
	}
	return &envgo.Error{Op: op, Path: name, Err: err}
}

// NewSequentialFile implements envgo.Env. The whole object is streamed
// through one GET; Skip discards from the stream.
func (e *Env) NewSequentialFile(name string) (envgo.SequentialFile, error) {
	resp, err := e.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(name)),
	})
	if err != nil {
		return nil, wrapErr("open", name, err)
	}
	return &sequentialFile{env: e, name: name, body: resp.Body}, nil
}

// NewRandomAccessFile implements envgo.Env. Each ReadAt issues an
// independent ranged GET, so concurrent calls need no serialization.
func (e *Env) NewRandomAccessFile(name string) (envgo.RandomAccessFile, error) {
	key := e.key(name)

	head, err := e.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, wrapErr("open", name, err)
	}

	return &randomAccessFile{
		env:  e,
		name: name,
		key:  key,
		size: aws.ToInt64(head.ContentLength),
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
		_, err := e.uploader.Upload(context.Background(), &s3.PutObjectInput{
			Bucket:            aws.String(e.bucket),
			Key:               aws.String(key),
			Body:              pr,
			ChecksumAlgorithm: types.ChecksumAlgorithmCrc32c,
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
	_, err := e.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(name)),
	})
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
	paginator := s3.NewListObjectsV2Paginator(e.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(e.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(context.Background())
		if err != nil {
			return nil, wrapErr("list", dir, err)
		}
		for _, obj := range page.Contents {
			if name := strings.TrimPrefix(aws.ToString(obj.Key), prefix); name != "" {
				seen[name] = true
			}
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				seen[name] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// RemoveFile implements envgo.Env. DeleteObject succeeds for missing keys,
// so existence is checked first to keep remove-of-missing an error.
func (e *Env) RemoveFile(name string) error {
	key := e.key(name)

	if _, err := e.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return wrapErr("remove", name, err)
	}

	_, err := e.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(key),
	})
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
	head, err := e.client.HeadObject(context.Background(), &s3.HeadObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(e.key(name)),
	})
	if err != nil {
		return 0, wrapErr("stat", name, err)
	}
	return aws.ToInt64(head.ContentLength), nil
}

// RenameFile implements envgo.Env as copy-then-delete. The copy is atomic
// per object; the pair is not, so a crash can leave both names present.
func (e *Env) RenameFile(src, target string) error {
	srcKey, dstKey := e.key(src), e.key(target)

	_, err := e.client.CopyObject(context.Background(), &s3.CopyObjectInput{
		Bucket:     aws.String(e.bucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(url.PathEscape(e.bucket + "/" + srcKey)),
	})
	if err != nil {
		return wrapErr("rename", src, err)
	}

	_, err = e.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
		Bucket: aws.String(e.bucket),
		Key:    aws.String(srcKey),
	})
	return wrapErr("rename", src, err)
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

	resp, err := f.env.client.GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String(f.env.bucket),
		Key:    aws.String(f.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, end)),
	})
	if err != nil {
		wrapped := wrapErr("readat", f.name, err)
		f.env.metrics.RecordRead(0, wrapped)
		return 0, wrapped
	}
	defer resp.Body.Close()

	n, err := io.ReadFull(resp.Body, p)
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

// writableFile streams into a multipart upload running on its own
// goroutine. Sync cannot make the object durable early; only Close, which
// finalizes the upload, does.
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
