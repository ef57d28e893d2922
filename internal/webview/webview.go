// Package webview models the hybrid shell around the web content: a Host
// that may or may not have constructed its Bridge yet, and a Bridge whose
// content Surface may or may not have finished loading.
package webview

import (
	"errors"
	"sync"
)

var (
	// ErrSurfaceClosed is returned to pending evaluations when the surface goes away.
	ErrSurfaceClosed = errors.New("webview: content surface closed")
	// ErrEvaluateTimeout is returned when the surface does not answer in time.
	ErrEvaluateTimeout = errors.New("webview: evaluate timed out")
)

// Host owns the bridge. Bridge returns nil until one is constructed.
type Host interface {
	Bridge() Bridge
}

// Bridge exposes the content surface. Surface returns nil until the content
// has loaded.
type Bridge interface {
	Surface() Surface
}

// Surface evaluates scripts against loaded web content. It must only be
// used from the main loop. done receives the JSON encoding of the script's
// completion value ("null" for null or undefined) and is invoked on the main
// loop.
type Surface interface {
	Evaluate(script string, done func(result string, err error))
}

// Shell is the Host used by the bridge process. Surfaces attach and detach
// as they come and go, and announce readiness through NotifyReady.
type Shell struct {
	mu       sync.RWMutex
	bridge   Bridge
	onReady  []func()
	onAttach func(attached bool)
}

func NewShell() *Shell {
	return &Shell{}
}

func (s *Shell) Bridge() Bridge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.bridge == nil {
		return nil
	}
	return s.bridge
}

// Attach makes b the current bridge, replacing any previous one.
func (s *Shell) Attach(b Bridge) {
	s.mu.Lock()
	s.bridge = b
	hook := s.onAttach
	s.mu.Unlock()
	if hook != nil {
		hook(true)
	}
}

// Detach clears the current bridge if it is still b.
func (s *Shell) Detach(b Bridge) {
	s.mu.Lock()
	if s.bridge != b {
		s.mu.Unlock()
		return
	}
	s.bridge = nil
	hook := s.onAttach
	s.mu.Unlock()
	if hook != nil {
		hook(false)
	}
}

// Attached reports whether a bridge is currently attached.
func (s *Shell) Attached() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bridge != nil
}

// OnReady registers fn to run whenever a surface finishes loading.
func (s *Shell) OnReady(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReady = append(s.onReady, fn)
}

// OnAttachChange registers the hook called on Attach and Detach.
func (s *Shell) OnAttachChange(fn func(attached bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onAttach = fn
}

// NotifyReady runs the OnReady listeners.
func (s *Shell) NotifyReady() {
	s.mu.RLock()
	listeners := make([]func(), len(s.onReady))
	copy(listeners, s.onReady)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}
