// Package jsruntime is an embedded content surface: the web bundle runs in a
// goja runtime with the small slice of the DOM the push bridge talks to.
package jsruntime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/CyberwizD/Distributed-Notification-System/services/webshell_bridge/internal/webview"
)

const domShim = `(function (g) {
  var listeners = {};
  g.addEventListener = function (type, fn) {
    if (typeof fn !== 'function') return;
    (listeners[type] = listeners[type] || []).push(fn);
  };
  g.removeEventListener = function (type, fn) {
    var ls = listeners[type];
    if (!ls) return;
    for (var i = 0; i < ls.length; i++) {
      if (ls[i] === fn) { ls.splice(i, 1); return; }
    }
  };
  g.dispatchEvent = function (event) {
    var ls = (listeners[event.type] || []).slice();
    for (var i = 0; i < ls.length; i++) {
      try { ls[i].call(g, event); } catch (e) { console.error('listener for ' + event.type + ' threw: ' + e); }
    }
    return !event.defaultPrevented;
  };
  function CustomEvent(type, init) {
    this.type = String(type);
    this.detail = init && init.detail !== undefined ? init.detail : null;
    this.defaultPrevented = false;
  }
  CustomEvent.prototype.preventDefault = function () { this.defaultPrevented = true; };
  g.CustomEvent = CustomEvent;
})(window);`

// Runtime implements webview.Bridge and, once Load succeeds, webview.Surface.
type Runtime struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	loaded  bool
	timeout time.Duration
	logger  *slog.Logger
}

// New prepares a runtime with window, CustomEvent and console installed.
// timeout bounds a single evaluation; zero disables the bound.
func New(timeout time.Duration, logger *slog.Logger) (*Runtime, error) {
	vm := goja.New()
	r := &Runtime{
		vm:      vm,
		timeout: timeout,
		logger:  logger,
	}

	if err := vm.Set("window", vm.GlobalObject()); err != nil {
		return nil, err
	}
	console := vm.NewObject()
	_ = console.Set("log", r.consoleFunc(slog.LevelInfo))
	_ = console.Set("info", r.consoleFunc(slog.LevelInfo))
	_ = console.Set("debug", r.consoleFunc(slog.LevelDebug))
	_ = console.Set("warn", r.consoleFunc(slog.LevelWarn))
	_ = console.Set("error", r.consoleFunc(slog.LevelError))
	if err := vm.Set("console", console); err != nil {
		return nil, err
	}

	if _, err := vm.RunString(domShim); err != nil {
		return nil, fmt.Errorf("dom shim: %w", err)
	}
	return r, nil
}

// Load runs the web bundle. The surface becomes available once it succeeds.
func (r *Runtime) Load(bundle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.run(bundle); err != nil {
		return fmt.Errorf("load bundle: %w", err)
	}
	r.loaded = true
	return nil
}

// LoadFile reads a bundle from disk and loads it.
func (r *Runtime) LoadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read bundle: %w", err)
	}
	return r.Load(string(content))
}

// Loaded reports whether the bundle has been loaded.
func (r *Runtime) Loaded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded
}

func (r *Runtime) Surface() webview.Surface {
	if !r.Loaded() {
		return nil
	}
	return r
}

// Evaluate runs script and reports its JSON-encoded completion value.
// done is called before Evaluate returns.
func (r *Runtime) Evaluate(script string, done func(result string, err error)) {
	r.mu.Lock()
	value, err := r.run(script)
	var result string
	if err == nil {
		result, err = encodeResult(value)
	}
	r.mu.Unlock()

	if done != nil {
		done(result, err)
	}
}

// Eval runs script and returns its exported value. Used by the shell's own
// tooling and tests, not by the bridge.
func (r *Runtime) Eval(script string) (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	value, err := r.run(script)
	if err != nil {
		return nil, err
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

func (r *Runtime) run(script string) (goja.Value, error) {
	if r.timeout > 0 {
		timer := time.AfterFunc(r.timeout, func() {
			r.vm.Interrupt(webview.ErrEvaluateTimeout)
		})
		defer func() {
			timer.Stop()
			r.vm.ClearInterrupt()
		}()
	}

	value, err := r.vm.RunString(script)
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, webview.ErrEvaluateTimeout
		}
		return nil, err
	}
	return value, nil
}

func encodeResult(value goja.Value) (string, error) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return "null", nil
	}
	b, err := json.Marshal(value.Export())
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

func (r *Runtime) consoleFunc(level slog.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		r.logger.Log(context.Background(), level, "[JS] "+strings.Join(parts, " "))
		return goja.Undefined()
	}
}
