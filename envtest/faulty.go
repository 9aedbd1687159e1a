package envtest

import (
	"errors"
	"strings"
	"sync"

	"github.com/hupe1980/envgo"
)

// ErrInjected is the error injected by fault rules that do not carry their
// own.
var ErrInjected = errors.New("envtest: injected fault")

// Fault describes how handles for matching files misbehave. The zero value
// injects nothing.
type Fault struct {
	// FailAfterBytes arms a write budget when positive: the write that
	// would carry the handle's running total past it fails.
	FailAfterBytes int64

	// FailOnSync makes Sync fail.
	FailOnSync bool

	// FailOnRead makes Read and ReadAt fail.
	FailOnRead bool

	// FailOnClose makes Close fail after the underlying handle is closed.
	// Real environments never fail Close; this exists to exercise callers
	// that check anyway.
	FailOnClose bool

	// Err is the injected error, ErrInjected when nil.
	Err error
}

func (f Fault) err() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrInjected
}

// FaultyEnv wraps an Env and injects failures into file handles whose names
// match registered rules. Everything else passes through unchanged. Use it
// to drive recovery paths that are unreachable over healthy backends.
type FaultyEnv struct {
	envgo.Env

	mu    sync.Mutex
	rules map[string]Fault
}

// NewFaultyEnv wraps env with no rules armed.
func NewFaultyEnv(env envgo.Env) *FaultyEnv {
	return &FaultyEnv{
		Env:   env,
		rules: make(map[string]Fault),
	}
}

// AddRule arms fault for every file whose name contains pattern. Rules
// apply to handles opened after the call; handles already open keep their
// behavior.
func (e *FaultyEnv) AddRule(pattern string, fault Fault) {
	e.mu.Lock()
	e.rules[pattern] = fault
	e.mu.Unlock()
}

// ClearRules disarms all rules.
func (e *FaultyEnv) ClearRules() {
	e.mu.Lock()
	e.rules = make(map[string]Fault)
	e.mu.Unlock()
}

func (e *FaultyEnv) match(name string) (Fault, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for pattern, fault := range e.rules {
		if strings.Contains(name, pattern) {
			return fault, true
		}
	}
	return Fault{}, false
}

// NewWritableFile implements envgo.Env.
func (e *FaultyEnv) NewWritableFile(name string) (envgo.WritableFile, error) {
	w, err := e.Env.NewWritableFile(name)
	if err != nil {
		return nil, err
	}
	if fault, ok := e.match(name); ok {
		return &faultyWritableFile{WritableFile: w, fault: fault}, nil
	}
	return w, nil
}

// NewAppendableFile implements envgo.Env.
func (e *FaultyEnv) NewAppendableFile(name string) (envgo.WritableFile, error) {
	w, err := e.Env.NewAppendableFile(name)
	if err != nil {
		return nil, err
	}
	if fault, ok := e.match(name); ok {
		return &faultyWritableFile{WritableFile: w, fault: fault}, nil
	}
	return w, nil
}

// NewSequentialFile implements envgo.Env.
func (e *FaultyEnv) NewSequentialFile(name string) (envgo.SequentialFile, error) {
	f, err := e.Env.NewSequentialFile(name)
	if err != nil {
		return nil, err
	}
	if fault, ok := e.match(name); ok && fault.FailOnRead {
		return &faultySequentialFile{SequentialFile: f, fault: fault}, nil
	}
	return f, nil
}

// NewRandomAccessFile implements envgo.Env.
func (e *FaultyEnv) NewRandomAccessFile(name string) (envgo.RandomAccessFile, error) {
	f, err := e.Env.NewRandomAccessFile(name)
	if err != nil {
		return nil, err
	}
	if fault, ok := e.match(name); ok && fault.FailOnRead {
		return &faultyRandomAccessFile{RandomAccessFile: f, fault: fault}, nil
	}
	return f, nil
}

type faultyWritableFile struct {
	envgo.WritableFile
	fault   Fault
	written int64
}

func (f *faultyWritableFile) Write(p []byte) (int, error) {
	if f.fault.FailAfterBytes > 0 && f.written+int64(len(p)) > f.fault.FailAfterBytes {
		return 0, f.fault.err()
	}

	n, err := f.WritableFile.Write(p)
	f.written += int64(n)
	return n, err
}

func (f *faultyWritableFile) Sync() error {
	if f.fault.FailOnSync {
		return f.fault.err()
	}
	return f.WritableFile.Sync()
}

func (f *faultyWritableFile) Close() error {
	err := f.WritableFile.Close()
	if f.fault.FailOnClose {
		return f.fault.err()
	}
	return err
}

type faultySequentialFile struct {
	envgo.SequentialFile
	fault Fault
}

func (f *faultySequentialFile) Read(p []byte) (int, error) {
	return 0, f.fault.err()
}

type faultyRandomAccessFile struct {
	envgo.RandomAccessFile
	fault Fault
}

func (f *faultyRandomAccessFile) ReadAt(p []byte, off int64) (int, error) {
	return 0, f.fault.err()
}
