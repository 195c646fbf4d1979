// Package request defines the canonical Request/Response shapes that flow
// through the MockForge core pipeline, independent of wire protocol. Every
// protocol adapter (HTTP, gRPC, GraphQL, WebSocket, SMTP, FTP, broker) is
// expected to translate its native message into a Request before entering
// the core, and translate the resulting Response back out; the core itself
// never depends on a specific wire format.
package request

import (
	"strings"
	"time"
)

// Protocol tags which wire protocol produced a Request.
type Protocol string

const (
	ProtocolHTTP    Protocol = "HTTP"
	ProtocolGRPC    Protocol = "GRPC"
	ProtocolGraphQL Protocol = "GRAPHQL"
	ProtocolWS      Protocol = "WS"
	ProtocolFTP     Protocol = "FTP"
	ProtocolSMTP    Protocol = "SMTP"
	ProtocolBroker  Protocol = "BROKER"
)

// Header is a case-insensitive string-to-strings map, modeled on
// net/http.Header but kept protocol-agnostic.
type Header map[string][]string

// Get returns the first value for key, matched case-insensitively.
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	if v, ok := h[key]; ok && len(v) > 0 {
		return v[0]
	}
	for k, v := range h {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Set replaces all values for key.
func (h Header) Set(key, value string) { h[canonicalKey(h, key)] = []string{value} }

// Add appends value to key's list.
func (h Header) Add(key, value string) {
	ck := canonicalKey(h, key)
	h[ck] = append(h[ck], value)
}

func canonicalKey(h Header, key string) string {
	for k := range h {
		if strings.EqualFold(k, key) {
			return k
		}
	}
	return key
}

// Peer identifies the caller of a Request.
type Peer struct {
	Address   string
	Principal string // optional auth principal, e.g. a JWT subject
}

// Request is the canonical, immutable inbound request. Construct with New;
// fields are unexported to enforce immutability after construction.
type Request struct {
	protocol    Protocol
	method      string
	path        string
	headers     Header
	query       map[string][]string
	bodyBytes   []byte
	bodyJSON    any
	hasJSON     bool
	peer        Peer
	receivedAt  time.Time
	fingerprint string
}

// Params holds the fields needed to construct a Request.
type Params struct {
	Protocol  Protocol
	Method    string
	Path      string
	Headers   Header
	Query     map[string][]string
	Body      []byte
	BodyJSON  any
	HasJSON   bool
	Peer      Peer
	Clock     func() time.Time
}

// New constructs an immutable Request. If Params.Clock is nil, time.Now is
// used; callers integrating with the virtual clock should always supply
// Clock so ReceivedAt reflects virtual time.
func New(p Params) *Request {
	now := time.Now
	if p.Clock != nil {
		now = p.Clock
	}
	h := p.Headers
	if h == nil {
		h = Header{}
	}
	q := p.Query
	if q == nil {
		q = map[string][]string{}
	}
	return &Request{
		protocol:   p.Protocol,
		method:     strings.ToUpper(p.Method),
		path:       p.Path,
		headers:    h,
		query:      q,
		bodyBytes:  p.Body,
		bodyJSON:   p.BodyJSON,
		hasJSON:    p.HasJSON,
		peer:       p.Peer,
		receivedAt: now(),
	}
}

func (r *Request) Protocol() Protocol            { return r.protocol }
func (r *Request) Method() string                { return r.method }
func (r *Request) Path() string                  { return r.path }
func (r *Request) Headers() Header               { return r.headers }
func (r *Request) Query() map[string][]string    { return r.query }
func (r *Request) Body() []byte                  { return r.bodyBytes }
func (r *Request) JSON() (any, bool)             { return r.bodyJSON, r.hasJSON }
func (r *Request) Peer() Peer                    { return r.peer }
func (r *Request) ReceivedAt() time.Time         { return r.receivedAt }
func (r *Request) QueryValue(key string) string {
	if v, ok := r.query[key]; ok && len(v) > 0 {
		return v[0]
	}
	return ""
}

// Response is the canonical outbound response. Unlike Request it is built
// incrementally by the pipeline stages that compose it.
type Response struct {
	Status      int
	Headers     Header
	BodyBytes   []byte
	BodyJSON    any
	HasJSON     bool
	ExecutedAt  time.Time
}

// NewResponse builds a Response stamped with the supplied virtual-clock
// instant, per the invariant that every Response carries a virtual-clock
// stamp rather than a wall-clock one.
func NewResponse(status int, headers Header, bodyJSON any, executedAt time.Time) *Response {
	if headers == nil {
		headers = Header{}
	}
	return &Response{Status: status, Headers: headers, BodyJSON: bodyJSON, HasJSON: bodyJSON != nil, ExecutedAt: executedAt}
}
