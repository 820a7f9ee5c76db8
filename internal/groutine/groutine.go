// Package groutine starts named goroutines and tracks goroutine affinity.
//
// Names are attached as pprof labels so the session's queue and sweeper goroutines are
// identifiable in profiles and stack dumps.
package groutine

import (
	"bytes"
	"context"
	"runtime"
	"runtime/pprof"
	"strconv"
	"sync"
	"sync/atomic"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts a goroutine with a name, optional parent context
// Example usage:
//
//	groutine.Go(ctx, "session-queue", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(goroutineNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetGID returns the numeric goroutine ID parsed from the stack header.
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}

// Group runs named goroutines that share a cancellable context and can be awaited.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewGroup creates a group whose goroutines stop when parent is cancelled or Stop is called.
func NewGroup(parent context.Context) *Group {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel}
}

// Go starts fn as a named member of the group
func (g *Group) Go(name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(g.ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		fn(ctx)
	})
}

// Stop cancels the group context and waits for every member to return.
func (g *Group) Stop() {
	g.cancel()
	g.wg.Wait()
}

// Affinity remembers which goroutine claimed it, so code shared between that goroutine
// and others can tell whether it is already running on the owner.
type Affinity struct {
	gid atomic.Uint64
}

// Claim binds the affinity to the calling goroutine
func (a *Affinity) Claim() {
	a.gid.Store(GetGID())
}

// Release unbinds the affinity
func (a *Affinity) Release() {
	a.gid.Store(0)
}

// Held reports whether the calling goroutine is the current owner
func (a *Affinity) Held() bool {
	owner := a.gid.Load()
	return owner != 0 && owner == GetGID()
}
