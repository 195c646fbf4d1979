// Package control implements the Control Plane: an admin HTTP API for
// inspecting and mutating the pipeline's live configuration, plus a
// live tail of the audit log over WebSocket.
//
// Route registration follows a familiar gorilla/mux style
// (router.HandleFunc(path, handler).Methods(verb)); config is held as an
// atomically-swapped snapshot rather than a mutex-guarded struct,
// matching the pipeline's shared-resource policy for read-mostly state.
// The live tail uses gorilla/websocket.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/mockforge/core/logging"
)

// Snapshot is the current, hot-reloadable control-plane configuration.
type Snapshot struct {
	StrictValidation bool
	ProxyEnabled     bool
	ProxyBaseURL     string
	DefaultSeed      int64
}

// AuditEntry is one event recorded through UpdateConfig or RecordAudit,
// held in a bounded ring buffer and broadcast to live tail subscribers.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Plane is the control plane's runtime state and HTTP surface.
type Plane struct {
	snapshot atomic.Pointer[Snapshot]
	logger   *logging.Logger

	auditMu  sync.Mutex
	audit    []AuditEntry
	auditCap int

	subMu sync.Mutex
	subs  map[chan AuditEntry]struct{}

	upgrader websocket.Upgrader
	router   *mux.Router

	adminUser         string
	adminPasswordHash string // bcrypt hash; empty disables admin auth

	limiter *rate.Limiter
}

// New builds a Plane with an initial Snapshot and registers its admin
// routes.
func New(initial Snapshot, logger *logging.Logger) *Plane {
	p := &Plane{
		logger:   logger,
		auditCap: 500,
		subs:     make(map[chan AuditEntry]struct{}),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		limiter:  rate.NewLimiter(rate.Limit(5), 10),
	}
	p.snapshot.Store(&initial)
	p.router = mux.NewRouter()
	p.registerRoutes()
	return p
}

// HashPassword bcrypt-hashes a plaintext admin password for storage in
// configuration, e.g. MOCKFORGE_ADMIN_PASSWORD_HASH.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// SetRateLimit reconfigures the token bucket guarding mutating admin
// routes, in requests per second with the given burst allowance.
func (p *Plane) SetRateLimit(perSecond float64, burst int) {
	p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// rateLimited rejects h with 429 once the admin token bucket is
// exhausted, so a misbehaving client can't starve config updates or
// flood the audit log.
func (p *Plane) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !p.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		h(w, r)
	}
}

// SetAdminCredentials configures HTTP Basic Auth for mutating admin
// routes. An empty passwordHash disables auth entirely (the default,
// matching local/dev usage where the admin API is not exposed).
func (p *Plane) SetAdminCredentials(user, passwordHash string) {
	p.adminUser = user
	p.adminPasswordHash = passwordHash
}

// requireAdmin wraps h with HTTP Basic Auth, verified against the
// configured bcrypt password hash. It is a no-op passthrough when no
// hash has been configured.
func (p *Plane) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p.adminPasswordHash == "" {
			h(w, r)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != p.adminUser {
			w.Header().Set("WWW-Authenticate", `Basic realm="mockforge-control"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(p.adminPasswordHash), []byte(pass)); err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="mockforge-control"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		h(w, r)
	}
}

// Router returns the mux.Router serving the admin API, for mounting
// under a parent server.
func (p *Plane) Router() *mux.Router { return p.router }

// Config returns the current configuration snapshot.
func (p *Plane) Config() Snapshot { return *p.snapshot.Load() }

// UpdateConfig atomically publishes a new snapshot and records an audit
// entry.
func (p *Plane) UpdateConfig(s Snapshot) {
	p.snapshot.Store(&s)
	p.recordAudit("config.updated", "control plane configuration replaced")
}

func (p *Plane) registerRoutes() {
	p.router.HandleFunc("/health", p.handleHealth).Methods("GET")
	p.router.HandleFunc("/config", p.handleGetConfig).Methods("GET")
	p.router.HandleFunc("/config", p.rateLimited(p.requireAdmin(p.handlePutConfig))).Methods("PUT")
	p.router.HandleFunc("/audit", p.handleListAudit).Methods("GET")
	p.router.HandleFunc("/audit/tail", p.handleAuditTail)
}

// healthReport is the /health response body, including host resource
// usage sampled via shirou/gopsutil so an operator can tell a degraded
// mock server from a degraded host.
type healthReport struct {
	Status      string  `json:"status"`
	CPUPercent  float64 `json:"cpu_percent,omitempty"`
	MemPercent  float64 `json:"mem_percent,omitempty"`
	MemUsedMB   uint64  `json:"mem_used_mb,omitempty"`
}

func (p *Plane) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := healthReport{Status: "ok"}

	if pcts, err := cpu.PercentWithContext(r.Context(), 0, false); err == nil && len(pcts) > 0 {
		report.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		report.MemPercent = vm.UsedPercent
		report.MemUsedMB = vm.Used / (1024 * 1024)
	}

	writeJSON(w, http.StatusOK, report)
}

func (p *Plane) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.Config())
}

func (p *Plane) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var s Snapshot
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	p.UpdateConfig(s)
	writeJSON(w, http.StatusOK, s)
}

func (p *Plane) handleListAudit(w http.ResponseWriter, r *http.Request) {
	p.auditMu.Lock()
	out := append([]AuditEntry(nil), p.audit...)
	p.auditMu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

// handleAuditTail upgrades to a WebSocket connection and streams every
// subsequent audit entry to the client until it disconnects.
func (p *Plane) handleAuditTail(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := make(chan AuditEntry, 64)
	p.subMu.Lock()
	p.subs[ch] = struct{}{}
	p.subMu.Unlock()
	defer func() {
		p.subMu.Lock()
		delete(p.subs, ch)
		p.subMu.Unlock()
		close(ch)
	}()

	for entry := range ch {
		if err := conn.WriteJSON(entry); err != nil {
			return
		}
	}
}

// RecordAudit appends an audit entry, trimming the ring buffer and
// fanning it out to live tail subscribers.
func (p *Plane) RecordAudit(kind, message string) { p.recordAudit(kind, message) }

func (p *Plane) recordAudit(kind, message string) {
	entry := AuditEntry{At: time.Now(), Kind: kind, Message: message}

	p.auditMu.Lock()
	p.audit = append(p.audit, entry)
	if len(p.audit) > p.auditCap {
		p.audit = p.audit[len(p.audit)-p.auditCap:]
	}
	p.auditMu.Unlock()

	p.subMu.Lock()
	for ch := range p.subs {
		select {
		case ch <- entry:
		default:
			// slow subscriber: drop rather than block the audit writer
		}
	}
	p.subMu.Unlock()

	if p.logger != nil {
		p.logger.WithContext(context.Background()).WithField("kind", kind).Info(message)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
