// Package wasmplugin implements the Plugin Sandbox: loading and invoking
// guest WebAssembly modules that can observe/transform a request or
// response, under per-plugin resource limits.
//
// This package is built on github.com/tetratelabs/wazero, a pure-Go,
// no-cgo WASM runtime consistent with the rest of this module's
// no-cgo posture. Per-plugin concurrency limiting uses a
// buffered-channel semaphore pattern
// (services/automation/marble/concurrency.go's tryAcquire/release
// slots); health classification mirrors the resilience package's
// open/half-open/closed breaker state machine, since a misbehaving
// plugin is "tripped" the same way a failing outbound dependency is.
package wasmplugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Health mirrors the resilience package's circuit states, renamed for
// plugin vocabulary.
type Health int

const (
	HealthHealthy Health = iota
	HealthDegraded
	HealthUnhealthy
)

func (h Health) String() string {
	switch h {
	case HealthDegraded:
		return "degraded"
	case HealthUnhealthy:
		return "unhealthy"
	default:
		return "healthy"
	}
}

// Limits bounds one plugin's resource consumption.
type Limits struct {
	MaxExecutions   int64 // 0 = unbounded
	MaxLifetime     time.Duration
	MaxCallDuration time.Duration
	MaxConcurrent   int
	MaxMemoryPages  uint32 // wazero memory pages (64KiB each)
}

// wasmPageSize is the fixed 64KiB unit wazero reports Memory().Size() in,
// matching the WASM spec's linear memory page size.
const wasmPageSize = 65536

// exceedsMemoryPages reports whether a module currently using sizeBytes
// of linear memory exceeds maxPages (0 = unbounded).
func exceedsMemoryPages(sizeBytes uint32, maxPages uint32) bool {
	return maxPages > 0 && sizeBytes/wasmPageSize > maxPages
}

// ErrResourceLimitExceeded is returned when a plugin invocation would
// exceed one of its configured Limits.
var ErrResourceLimitExceeded = errors.New("wasmplugin: resource limit exceeded")

// ErrUnhealthy is returned when a plugin has been marked unhealthy and
// invocations are being rejected, mirroring an open circuit breaker.
var ErrUnhealthy = errors.New("wasmplugin: plugin marked unhealthy")

// Plugin wraps one instantiated WASM module plus its resource
// accounting state.
type Plugin struct {
	id        string
	runtime   wazero.Runtime
	module    api.Module
	limits    Limits
	loadedAt  time.Time
	execCount int64
	failCount int64
	sem       chan struct{}

	mu     sync.Mutex
	health Health
}

// Manager owns every loaded Plugin, keyed by ID.
type Manager struct {
	mu      sync.RWMutex
	runtime wazero.Runtime
	plugins map[string]*Plugin
}

// NewManager builds a Manager with a shared wazero.Runtime.
func NewManager(ctx context.Context) *Manager {
	return &Manager{
		runtime: wazero.NewRuntime(ctx),
		plugins: make(map[string]*Plugin),
	}
}

// Load instantiates wasmBytes under id with limits, replacing any
// previous plugin registered at that ID.
func (m *Manager) Load(ctx context.Context, id string, wasmBytes []byte, limits Limits) (*Plugin, error) {
	mod, err := m.runtime.Instantiate(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("wasmplugin: instantiate %s: %w", id, err)
	}
	if limits.MaxConcurrent <= 0 {
		limits.MaxConcurrent = 1
	}
	p := &Plugin{
		id:       id,
		runtime:  m.runtime,
		module:   mod,
		limits:   limits,
		loadedAt: time.Now(),
		sem:      make(chan struct{}, limits.MaxConcurrent),
		health:   HealthHealthy,
	}

	m.mu.Lock()
	if old, ok := m.plugins[id]; ok {
		_ = old.module.Close(ctx)
	}
	m.plugins[id] = p
	m.mu.Unlock()

	return p, nil
}

// Get returns the loaded plugin with the given ID.
func (m *Manager) Get(id string) (*Plugin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[id]
	return p, ok
}

// Unload removes and closes the plugin with the given ID.
func (m *Manager) Unload(ctx context.Context, id string) {
	m.mu.Lock()
	p, ok := m.plugins[id]
	delete(m.plugins, id)
	m.mu.Unlock()
	if ok {
		_ = p.module.Close(ctx)
	}
}

// Close tears down the shared runtime and every loaded plugin.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plugins {
		_ = p.module.Close(ctx)
	}
	return m.runtime.Close(ctx)
}

// tryAcquireSlot reserves one of the plugin's concurrency slots,
// a buffered-channel semaphore pattern.
func (p *Plugin) tryAcquireSlot() bool {
	select {
	case p.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *Plugin) releaseSlot() { <-p.sem }

// Health returns the plugin's current health classification.
func (p *Plugin) Health() Health {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health
}

// Invoke calls the exported function named fn with the given (ptr,len)
// guest-memory-encoded argument and returns the (ptr,len) result,
// enforcing Limits before dispatch. Guest functions are expected to
// follow the (ptr uint32, len uint32) -> (packed uint64) calling
// convention: the high 32 bits of the returned uint64 are the result
// pointer, the low 32 bits are its length.
func (p *Plugin) Invoke(ctx context.Context, fn string, input []byte) ([]byte, error) {
	if p.Health() == HealthUnhealthy {
		return nil, ErrUnhealthy
	}

	if p.limits.MaxExecutions > 0 && atomic.LoadInt64(&p.execCount) >= p.limits.MaxExecutions {
		p.recordFailure()
		return nil, fmt.Errorf("%w: max executions (%d) reached", ErrResourceLimitExceeded, p.limits.MaxExecutions)
	}
	if p.limits.MaxLifetime > 0 && time.Since(p.loadedAt) > p.limits.MaxLifetime {
		p.recordFailure()
		return nil, fmt.Errorf("%w: max lifetime (%s) exceeded", ErrResourceLimitExceeded, p.limits.MaxLifetime)
	}
	if exceedsMemoryPages(p.module.Memory().Size(), p.limits.MaxMemoryPages) {
		p.recordFailure()
		return nil, fmt.Errorf("%w: max memory pages (%d) exceeded", ErrResourceLimitExceeded, p.limits.MaxMemoryPages)
	}
	if !p.tryAcquireSlot() {
		return nil, fmt.Errorf("%w: max concurrent invocations (%d) reached", ErrResourceLimitExceeded, p.limits.MaxConcurrent)
	}
	defer p.releaseSlot()

	callCtx := ctx
	var cancel context.CancelFunc
	if p.limits.MaxCallDuration > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.limits.MaxCallDuration)
		defer cancel()
	}

	fnRef := p.module.ExportedFunction(fn)
	if fnRef == nil {
		return nil, fmt.Errorf("wasmplugin: export %q not found in plugin %s", fn, p.id)
	}

	ptr, length, err := writeGuestMemory(callCtx, p.module, input)
	if err != nil {
		p.recordFailure()
		return nil, err
	}

	results, err := fnRef.Call(callCtx, uint64(ptr), uint64(length))
	atomic.AddInt64(&p.execCount, 1)
	if err != nil {
		p.recordFailure()
		return nil, fmt.Errorf("wasmplugin: invoke %s.%s: %w", p.id, fn, err)
	}
	p.recordSuccess()

	if len(results) == 0 {
		return nil, nil
	}
	outPtr := uint32(results[0] >> 32)
	outLen := uint32(results[0])
	out, ok := p.module.Memory().Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("wasmplugin: read result memory out of bounds for plugin %s", p.id)
	}
	return append([]byte(nil), out...), nil
}

// unhealthyThreshold is the consecutive-failure count at which a plugin
// flips from degraded to unhealthy and starts rejecting invocations
// without running the guest.
const unhealthyThreshold = 4

func (p *Plugin) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCount++
	switch {
	case p.failCount >= unhealthyThreshold:
		p.health = HealthUnhealthy
	case p.failCount >= 2:
		p.health = HealthDegraded
	}
}

func (p *Plugin) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCount > 0 {
		p.failCount--
	}
	if p.failCount == 0 {
		p.health = HealthHealthy
	}
}

// writeGuestMemory allocates space in the guest's linear memory (via its
// exported "allocate" function, the conventional wazero guest ABI) and
// writes data into it, returning the pointer and length.
func writeGuestMemory(ctx context.Context, mod api.Module, data []byte) (uint32, uint32, error) {
	alloc := mod.ExportedFunction("allocate")
	if alloc == nil {
		return 0, 0, errors.New("wasmplugin: guest module does not export \"allocate\"")
	}
	results, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, 0, fmt.Errorf("wasmplugin: guest allocate failed: %w", err)
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		return 0, 0, errors.New("wasmplugin: write guest memory out of bounds")
	}
	return ptr, uint32(len(data)), nil
}
