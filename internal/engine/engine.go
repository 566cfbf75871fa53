package engine

import (
	"sync"

	"k8s.io/klog/v2"
)

// InitOptions configures the engine on first initialization.
type InitOptions struct {
	// MaxWorkspaceBytes caps the size of any workspace. Zero means unlimited.
	MaxWorkspaceBytes int
}

// ObjectCounts counts the engine objects that have not been released yet.
type ObjectCounts struct {
	Subgraphs     int
	Workspaces    int
	WeightsCaches int
	Runtimes      int
}

// Total returns the number of live objects of any kind.
func (l ObjectCounts) Total() int {
	return l.Subgraphs + l.Workspaces + l.WeightsCaches + l.Runtimes
}

var global struct {
	mu   sync.Mutex
	refs int
	opts InitOptions
	live ObjectCounts
}

// Initialize prepares the engine for use. Calls are reference counted and
// must be balanced by Deinitialize. Options are taken from the first call.
func Initialize(opts *InitOptions) error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.refs == 0 {
		global.opts = InitOptions{}
		if opts != nil {
			if opts.MaxWorkspaceBytes < 0 {
				return newError("initialize", InvalidParameter, "negative workspace limit %d", opts.MaxWorkspaceBytes)
			}
			global.opts = *opts
		}
		klog.V(2).InfoS("Initialized engine", "maxWorkspaceBytes", global.opts.MaxWorkspaceBytes)
	}
	global.refs++
	return nil
}

// Deinitialize drops one initialization reference. The last reference can only
// be dropped once every subgraph, workspace, weights cache and runtime is released.
func Deinitialize() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if global.refs == 0 {
		return newError("deinitialize", Uninitialized, "engine is not initialized")
	}
	if global.refs == 1 && global.live.Total() > 0 {
		l := global.live
		return newError("deinitialize", InvalidState,
			"%d subgraphs, %d workspaces, %d weights caches and %d runtimes still alive",
			l.Subgraphs, l.Workspaces, l.WeightsCaches, l.Runtimes)
	}
	global.refs--
	if global.refs == 0 {
		klog.V(2).InfoS("Deinitialized engine")
	}
	return nil
}

// Initialized reports whether the engine is ready for use.
func Initialized() bool {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.refs > 0
}

// LiveObjects returns the number of engine objects still alive.
func LiveObjects() ObjectCounts {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.live
}

// checkInitialized fails with Uninitialized when no Initialize call is active.
func checkInitialized(op string) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.refs == 0 {
		return newError(op, Uninitialized, "engine is not initialized")
	}
	return nil
}

// track adjusts the live object counts under the global lock.
func track(f func(l *ObjectCounts)) {
	global.mu.Lock()
	f(&global.live)
	global.mu.Unlock()
}

func maxWorkspaceBytes() int {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.opts.MaxWorkspaceBytes
}
