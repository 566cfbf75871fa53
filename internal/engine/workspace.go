package engine

import (
	"sync"

	"k8s.io/klog/v2"
)

// Workspace is the scratch memory runtimes place intermediate tensors in.
//
// A workspace can back several runtimes as long as they are not invoked
// concurrently; it grows to the largest plan reserved in it.
type Workspace struct {
	mu          sync.Mutex
	buf         []float32
	refs        int // Runtimes holding the workspace.
	allocations int
	released    bool
}

// CreateWorkspace creates an empty workspace.
func CreateWorkspace() (*Workspace, error) {
	if err := checkInitialized("create_workspace"); err != nil {
		return nil, err
	}
	track(func(l *ObjectCounts) { l.Workspaces++ })
	return &Workspace{}, nil
}

// Size returns the workspace footprint in bytes.
func (w *Workspace) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf) * 4
}

// Allocations returns how many times the workspace memory was (re)allocated.
func (w *Workspace) Allocations() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.allocations
}

// Release frees the workspace. It fails while a runtime still uses it.
func (w *Workspace) Release() error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return nil
	}
	if w.refs > 0 {
		return newError("release_workspace", InvalidState, "%d runtimes still use the workspace", w.refs)
	}
	w.released = true
	w.buf = nil
	track(func(l *ObjectCounts) { l.Workspaces-- })
	return nil
}

func (w *Workspace) acquire(op string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.released {
		return newError(op, InvalidState, "workspace was released")
	}
	w.refs++
	return nil
}

func (w *Workspace) drop() {
	w.mu.Lock()
	w.refs--
	w.mu.Unlock()
}

// reserve makes room for at least elems float32 values. Existing contents are not preserved.
func (w *Workspace) reserve(op string, elems int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if elems <= len(w.buf) {
		return nil
	}
	if limit := maxWorkspaceBytes(); limit > 0 && elems*4 > limit {
		return newError(op, OutOfMemory, "workspace needs %d bytes, limit is %d", elems*4, limit)
	}

	w.buf = make([]float32, elems)
	w.allocations++
	klog.V(3).InfoS("Grew workspace", "bytes", elems*4, "allocations", w.allocations)
	return nil
}

// region returns n values starting at offset.
func (w *Workspace) region(offset, n int) []float32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf[offset : offset+n : offset+n]
}
