// Package session holds the process-wide state shared between the capture,
// coordination and dispatch goroutines.
package session

import "sync/atomic"

// Flags is the single shared container for the listening and running flags.
// Flags are initialised by Start at session start and cleared by Stop at
// session end. Readers poll and may observe a value one poll interval stale.
type Flags struct {
	listening atomic.Bool
	running   atomic.Bool

	// onListening is called after every listening transition
	onListening atomic.Pointer[func(bool)]
}

// NewFlags returns flags with both values false
func NewFlags() *Flags {
	return &Flags{}
}

// Start marks the session running and sets the initial listening state
func (f *Flags) Start(listening bool) {
	f.running.Store(true)
	f.SetListening(listening)
}

// Stop ends the session; both flags are cleared
func (f *Flags) Stop() {
	f.running.Store(false)
	f.SetListening(false)
}

// Running reports whether the session is active
func (f *Flags) Running() bool {
	return f.running.Load()
}

// Listening reports whether audio frames should be aggregated
func (f *Flags) Listening() bool {
	return f.listening.Load()
}

// SetListening stores the listening flag and reports whether it changed
func (f *Flags) SetListening(v bool) bool {
	changed := f.listening.Swap(v) != v
	if changed {
		if cb := f.onListening.Load(); cb != nil {
			(*cb)(v)
		}
	}
	return changed
}

// ToggleListening flips the listening flag and returns the new value
func (f *Flags) ToggleListening() bool {
	for {
		old := f.listening.Load()
		if f.listening.CompareAndSwap(old, !old) {
			if cb := f.onListening.Load(); cb != nil {
				(*cb)(!old)
			}
			return !old
		}
	}
}

// OnListeningChange registers a callback for listening transitions.
// Only one callback is kept; it must not block.
func (f *Flags) OnListeningChange(cb func(bool)) {
	f.onListening.Store(&cb)
}
