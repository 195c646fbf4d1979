// Package scripting implements the Scripting Sandbox: a pre/post-dispatch
// JavaScript hook point used by chains and fixtures, built on
// github.com/dop251/goja the same way the automation platform's
// system/tee package runs its simulation-mode script engine.
//
// Unlike that engine, this sandbox deliberately omits the
// builtin "fetch" stub and any ambient filesystem/network global: a
// script's side effects go through the host functions the sandbox
// injects (setVariable and setHeader), never an implicit network surface.
package scripting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ErrTimeout is returned when a script exceeds its deadline.
var ErrTimeout = errors.New("scripting: execution deadline exceeded")

// ErrNotAFunction is returned when EntryPoint does not resolve to a
// callable.
var ErrNotAFunction = errors.New("scripting: entry point is not a function")

// Request describes one script invocation.
type Request struct {
	Script     string
	EntryPoint string // defaults to "handle"
	Input      any
	Variables  map[string]any // current chain/session variables, read-write
	Headers    map[string]string
	Timeout    time.Duration
}

// Result is what a script invocation produces: only the deltas it
// explicitly returned are merged back into the caller's state, never
// goja's internal runtime state.
type Result struct {
	ModifiedVariables map[string]any
	SetHeaders        map[string]string
	Output            any
	Logs              []string
}

// Sandbox runs scripts, each in a freshly constructed goja.Runtime so
// that no state or timer leaks between invocations.
type Sandbox struct {
	defaultTimeout time.Duration
}

// New builds a Sandbox with the given default per-invocation timeout,
// used when Request.Timeout is zero.
func New(defaultTimeout time.Duration) *Sandbox {
	if defaultTimeout <= 0 {
		defaultTimeout = 50 * time.Millisecond
	}
	return &Sandbox{defaultTimeout: defaultTimeout}
}

// Run executes req.Script in an isolated runtime and returns the merged
// deltas. The runtime is interrupted (via vm.Interrupt) once the
// deadline passes, so a script cannot hang the calling goroutine.
func (s *Sandbox) Run(ctx context.Context, req Request) (*Result, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	entry := req.EntryPoint
	if entry == "" {
		entry = "handle"
	}

	vm := goja.New()

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt(ErrTimeout)
	})
	defer timer.Stop()

	logs := make([]string, 0, 4)
	var logMu sync.Mutex
	console := vm.NewObject()
	_ = console.Set("log", func(call goja.FunctionCall) goja.Value {
		logMu.Lock()
		defer logMu.Unlock()
		for _, a := range call.Arguments {
			logs = append(logs, a.String())
		}
		return goja.Undefined()
	})
	_ = vm.Set("console", console)

	modifiedVars := map[string]any{}
	setHeaders := map[string]string{}

	varsObj := vm.NewObject()
	for k, v := range req.Variables {
		_ = varsObj.Set(k, v)
	}
	_ = vm.Set("variables", varsObj)

	_ = vm.Set("setVariable", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			return goja.Undefined()
		}
		key := call.Arguments[0].String()
		modifiedVars[key] = call.Arguments[1].Export()
		return goja.Undefined()
	})
	_ = vm.Set("setHeader", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < 2 {
			return goja.Undefined()
		}
		setHeaders[call.Arguments[0].String()] = call.Arguments[1].String()
		return goja.Undefined()
	})

	_ = vm.Set("input", vm.ToValue(req.Input))

	if _, err := vm.RunString(builtins); err != nil {
		return nil, fmt.Errorf("scripting: load builtins: %w", err)
	}

	if _, err := vm.RunString(req.Script); err != nil {
		var iErr *goja.InterruptedError
		if errors.As(err, &iErr) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("scripting: compile/run script: %w", err)
	}

	fn, ok := goja.AssertFunction(vm.Get(entry))
	if !ok {
		return nil, ErrNotAFunction
	}

	resultVal, err := fn(goja.Undefined(), vm.Get("input"), vm.Get("variables"))
	if err != nil {
		var iErr *goja.InterruptedError
		if errors.As(err, &iErr) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("scripting: entry point error: %w", err)
	}

	var output any
	if resultVal != nil && !goja.IsUndefined(resultVal) && !goja.IsNull(resultVal) {
		output = resultVal.Export()
	}

	return &Result{
		ModifiedVariables: modifiedVars,
		SetHeaders:        setHeaders,
		Output:            output,
		Logs:              logs,
	}, nil
}

// builtins mirrors the automation platform's crypto/base64/json helper
// preamble, minus the fetch stub: this sandbox has no implicit network
// surface.
const builtins = `
var crypto = {
	randomUUID: function() {
		return 'xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx'.replace(/[xy]/g, function(c) {
			var r = Math.random() * 16 | 0, v = c == 'x' ? r : (r & 0x3 | 0x8);
			return v.toString(16);
		});
	}
};

var base64 = {
	encode: function(str) {
		var chars = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=';
		var encoded = '';
		var i = 0;
		while (i < str.length) {
			var a = str.charCodeAt(i++);
			var b = str.charCodeAt(i++);
			var c = str.charCodeAt(i++);
			var enc1 = a >> 2;
			var enc2 = ((a & 3) << 4) | (b >> 4);
			var enc3 = ((b & 15) << 2) | (c >> 6);
			var enc4 = c & 63;
			if (isNaN(b)) { enc3 = enc4 = 64; }
			else if (isNaN(c)) { enc4 = 64; }
			encoded += chars.charAt(enc1) + chars.charAt(enc2) + chars.charAt(enc3) + chars.charAt(enc4);
		}
		return encoded;
	},
	decode: function(str) {
		var chars = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/=';
		var decoded = '';
		var i = 0;
		str = str.replace(/[^A-Za-z0-9\+\/\=]/g, '');
		while (i < str.length) {
			var enc1 = chars.indexOf(str.charAt(i++));
			var enc2 = chars.indexOf(str.charAt(i++));
			var enc3 = chars.indexOf(str.charAt(i++));
			var enc4 = chars.indexOf(str.charAt(i++));
			var a = (enc1 << 2) | (enc2 >> 4);
			var b = ((enc2 & 15) << 4) | (enc3 >> 2);
			var c = ((enc3 & 3) << 6) | enc4;
			decoded += String.fromCharCode(a);
			if (enc3 != 64) { decoded += String.fromCharCode(b); }
			if (enc4 != 64) { decoded += String.fromCharCode(c); }
		}
		return decoded;
	}
};

var json = { parse: JSON.parse, stringify: JSON.stringify };
`
