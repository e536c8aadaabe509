// Package storagetest provides store wrappers for exercising failure paths.
package storagetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sudo-init-do/channelhub/internal/storage"
)

// Op names a storage operation for fault injection.
type Op string

const (
	OpGet    Op = "get"
	OpSet    Op = "set"
	OpUpdate Op = "update"
	OpList   Op = "list"
	OpPush   Op = "push"
	OpDelete Op = "delete"
)

type fault struct {
	op        Op
	prefix    string
	remaining int
}

// Flaky wraps a store and fails selected operations with storage.ErrUnavailable.
type Flaky struct {
	storage.Store

	mu       sync.Mutex
	faults   []*fault
	calls    map[Op]int
	getDelay time.Duration
}

// NewFlaky wraps inner.
func NewFlaky(inner storage.Store) *Flaky {
	return &Flaky{Store: inner, calls: map[Op]int{}}
}

// FailNext makes the next n calls of op on paths starting with prefix fail.
func (f *Flaky) FailNext(op Op, prefix string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults = append(f.faults, &fault{op: op, prefix: prefix, remaining: n})
}

// DelayGets makes every Get sleep for d before reading, widening the gap
// between a caller's read and its following write.
func (f *Flaky) DelayGets(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getDelay = d
}

// Calls reports how many times op was attempted.
func (f *Flaky) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *Flaky) check(op Op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	for _, ft := range f.faults {
		if ft.op == op && ft.remaining > 0 && strings.HasPrefix(path, ft.prefix) {
			ft.remaining--
			return fmt.Errorf("%w: injected %s failure on %s", storage.ErrUnavailable, op, path)
		}
	}
	return nil
}

func (f *Flaky) Get(ctx context.Context, path string) ([]byte, error) {
	if err := f.check(OpGet, path); err != nil {
		return nil, err
	}
	f.mu.Lock()
	delay := f.getDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return f.Store.Get(ctx, path)
}

func (f *Flaky) Set(ctx context.Context, path string, value any) error {
	if err := f.check(OpSet, path); err != nil {
		return err
	}
	return f.Store.Set(ctx, path, value)
}

func (f *Flaky) Update(ctx context.Context, path string, patch storage.Patch) error {
	if err := f.check(OpUpdate, path); err != nil {
		return err
	}
	return f.Store.Update(ctx, path, patch)
}

func (f *Flaky) Delete(ctx context.Context, path string) error {
	if err := f.check(OpDelete, path); err != nil {
		return err
	}
	return f.Store.Delete(ctx, path)
}

func (f *Flaky) List(ctx context.Context, collection string) ([]storage.Record, error) {
	if err := f.check(OpList, collection); err != nil {
		return nil, err
	}
	return f.Store.List(ctx, collection)
}

func (f *Flaky) Push(ctx context.Context, collection string, value any) (string, error) {
	if err := f.check(OpPush, collection); err != nil {
		return "", err
	}
	return f.Store.Push(ctx, collection, value)
}
