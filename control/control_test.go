package control

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleHealthReturnsOK(t *testing.T) {
	p := New(Snapshot{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	p.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandlePutConfigRequiresAdminAuthWhenConfigured(t *testing.T) {
	p := New(Snapshot{}, nil)
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	p.SetAdminCredentials("admin", hash)

	payload, err := json.Marshal(Snapshot{DefaultSeed: 9})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/config", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	p.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/config", bytes.NewReader(payload))
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	p.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 9, p.Config().DefaultSeed)
}

func TestHandlePutConfigRejectsWrongPassword(t *testing.T) {
	p := New(Snapshot{}, nil)
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	p.SetAdminCredentials("admin", hash)

	payload, err := json.Marshal(Snapshot{DefaultSeed: 9})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/config", bytes.NewReader(payload))
	req.SetBasicAuth("admin", "wrong")
	rec := httptest.NewRecorder()
	p.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlePutConfigRejectsRequestsOverRateLimit(t *testing.T) {
	p := New(Snapshot{}, nil)
	p.SetRateLimit(1, 1)

	payload, err := json.Marshal(Snapshot{DefaultSeed: 1})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/config", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	p.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/config", bytes.NewReader(payload))
	rec = httptest.NewRecorder()
	p.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestHandleGetConfigReturnsCurrentSnapshot(t *testing.T) {
	p := New(Snapshot{StrictValidation: true, DefaultSeed: 7}, nil)
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	rec := httptest.NewRecorder()
	p.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.StrictValidation)
	assert.EqualValues(t, 7, snap.DefaultSeed)
}

func TestHandlePutConfigUpdatesSnapshotAndRecordsAudit(t *testing.T) {
	p := New(Snapshot{}, nil)
	newSnap := Snapshot{StrictValidation: true, ProxyEnabled: true, ProxyBaseURL: "http://upstream", DefaultSeed: 42}
	payload, err := json.Marshal(newSnap)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/config", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	p.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, newSnap, p.Config())

	p.auditMu.Lock()
	defer p.auditMu.Unlock()
	require.Len(t, p.audit, 1)
	assert.Equal(t, "config.updated", p.audit[0].Kind)
}

func TestHandlePutConfigRejectsMalformedJSON(t *testing.T) {
	p := New(Snapshot{}, nil)
	req := httptest.NewRequest(http.MethodPut, "/config", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	p.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListAuditReturnsRecordedEntries(t *testing.T) {
	p := New(Snapshot{}, nil)
	p.RecordAudit("config.updated", "first")
	p.RecordAudit("config.updated", "second")

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	rec := httptest.NewRecorder()
	p.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var entries []AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Message)
	assert.Equal(t, "second", entries[1].Message)
}

func TestAuditRingBufferTrimsToCapacity(t *testing.T) {
	p := New(Snapshot{}, nil)
	p.auditCap = 2
	p.RecordAudit("k", "one")
	p.RecordAudit("k", "two")
	p.RecordAudit("k", "three")

	p.auditMu.Lock()
	entries := append([]AuditEntry(nil), p.audit...)
	p.auditMu.Unlock()

	require.Len(t, entries, 2)
	assert.Equal(t, "two", entries[0].Message)
	assert.Equal(t, "three", entries[1].Message)
}

func TestAuditTailStreamsNewEntriesToSubscriber(t *testing.T) {
	p := New(Snapshot{}, nil)
	srv := httptest.NewServer(p.Router())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/audit/tail"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutine a moment to register the subscriber
	// channel before the audit entry is recorded.
	time.Sleep(20 * time.Millisecond)
	p.RecordAudit("scheduler.fired", "tick")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got AuditEntry
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "scheduler.fired", got.Kind)
	assert.Equal(t, "tick", got.Message)
}
