// Package chainexec implements the Chain Executor: dependency-ordered
// execution of a chain.Definition's links, dispatching independent
// links within the same dependency level concurrently.
//
// The dependency-graph construction and topological sort follow the
// original Rust core's chain_execution.rs (build_dependency_graph /
// topological_sort / topo_sort_util); level grouping differs from its
// collect_dependency_level, as described in levels.go. Dispatch itself (HTTP
// call construction, gjson extraction, per-link timeout) follows a
// services/requests/marble/dispatcher.go-style event dispatch shape.
package chainexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/mockforge/core/domain/chain"
	"github.com/mockforge/core/template"
)

// Dispatcher performs the actual outbound HTTP call for a Link. Chains
// normally dispatch back into the pipeline's own router (for virtualized
// targets) but may also proxy to a real upstream; both are modeled as a
// Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, method, url string, headers map[string]string, body []byte) (status int, respHeaders map[string]string, respBody []byte, err error)
}

// HTTPDispatcher issues real outbound HTTP requests.
type HTTPDispatcher struct {
	Client *http.Client
}

// Dispatch implements Dispatcher using net/http.
func (d HTTPDispatcher) Dispatch(ctx context.Context, method, url string, headers map[string]string, body []byte) (int, map[string]string, []byte, error) {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	respHeaders := map[string]string{}
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}
	return resp.StatusCode, respHeaders, respBody, nil
}

// Executor runs chain.Definitions against a Dispatcher and template
// Engine.
type Executor struct {
	dispatcher Dispatcher
	engine     *template.Engine
}

// New builds an Executor.
func New(d Dispatcher, engine *template.Engine) *Executor {
	return &Executor{dispatcher: d, engine: engine}
}

// Execute runs def one dependency level at a time, dispatching the links
// within a level concurrently, and returns the aggregated result.
func (e *Executor) Execute(ctx context.Context, def chain.Definition, initialVars map[string]any) (*chain.ExecutionResult, error) {
	started := time.Now()

	levels, err := levelGroups(def.Links)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]chain.Link, len(def.Links))
	for _, l := range def.Links {
		byID[l.ID] = l
	}

	vars := map[string]any{}
	for k, v := range initialVars {
		vars[k] = v
	}

	chainCtx := &template.ChainContext{
		Variables: vars,
		Responses: map[string]template.ChainResponse{},
	}

	var stateMu sync.Mutex
	var results []chain.LinkResult
	var resultsMu sync.Mutex

	for _, level := range levels {
		if len(level) == 1 {
			lr := e.executeLink(ctx, byID[level[0]], &stateMu, vars, chainCtx)
			results = append(results, lr)
			continue
		}

		var wg sync.WaitGroup
		levelResults := make([]chain.LinkResult, len(level))
		for i, id := range level {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				lr := e.executeLink(ctx, byID[id], &stateMu, vars, chainCtx)
				resultsMu.Lock()
				levelResults[i] = lr
				resultsMu.Unlock()
			}(i, id)
		}
		wg.Wait()
		results = append(results, levelResults...)
	}

	status := aggregateStatus(results)
	return &chain.ExecutionResult{
		ChainID:    def.ID,
		Status:     status,
		Links:      results,
		Variables:  vars,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}, nil
}

func (e *Executor) executeLink(ctx context.Context, link chain.Link, stateMu *sync.Mutex, vars map[string]any, chainCtx *template.ChainContext) chain.LinkResult {
	start := time.Now()
	res := chain.LinkResult{LinkID: link.ID, StoreAs: link.StoreAs, StartedAt: start}

	linkCtx := ctx
	var cancel context.CancelFunc
	if link.Timeout > 0 {
		linkCtx, cancel = context.WithTimeout(ctx, link.Timeout)
		defer cancel()
	}

	stateMu.Lock()
	tplCtx := template.Context{
		Vars: cloneMap(vars),
		Chain: &template.ChainContext{
			Variables: cloneMap(chainCtx.Variables),
			Responses: cloneResponses(chainCtx.Responses),
		},
	}
	stateMu.Unlock()

	url, err := e.engine.Expand(link.URLTemplate, tplCtx)
	if err != nil {
		res.Error = err.Error()
		res.FinishedAt = time.Now()
		res.Duration = res.FinishedAt.Sub(start)
		return res
	}

	headers := map[string]string{}
	for k, v := range link.Headers {
		hv, err := e.engine.Expand(v, tplCtx)
		if err != nil {
			hv = v
		}
		headers[k] = hv
	}

	var body []byte
	if link.BodyTemplate != "" {
		expanded, err := e.engine.Expand(link.BodyTemplate, tplCtx)
		if err == nil {
			body = []byte(expanded)
		} else {
			body = []byte(link.BodyTemplate)
		}
	}

	status, respHeaders, respBody, err := e.dispatcher.Dispatch(linkCtx, link.Method, url, headers, body)
	res.FinishedAt = time.Now()
	res.Duration = res.FinishedAt.Sub(start)
	res.Status = status

	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Succeeded = statusAcceptable(status, link.ExpectStatus)
	if !res.Succeeded {
		res.Error = fmt.Sprintf("unexpected status %d", status)
	}
	res.Headers = respHeaders

	var decodedBody any
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &decodedBody); err != nil {
			decodedBody = string(respBody)
		}
	}
	res.Body = decodedBody

	extracted := map[string]any{}
	for _, ext := range link.Extract {
		if v, ok := extractPath(respBody, ext.Path); ok {
			extracted[ext.Variable] = v
		}
	}
	res.Extracted = extracted

	stateMu.Lock()
	for k, v := range extracted {
		vars[k] = v
	}
	chainResp := template.ChainResponse{Status: status, Headers: respHeaders, Body: decodedBody}
	chainCtx.Responses[link.ID] = chainResp
	if link.StoreAs != "" {
		chainCtx.Responses[link.StoreAs] = chainResp
	}
	stateMu.Unlock()

	return res
}

func statusAcceptable(status int, expected []int) bool {
	if len(expected) == 0 {
		return status >= 200 && status < 300
	}
	for _, e := range expected {
		if e == status {
			return true
		}
	}
	return false
}

// extractPath resolves a link's extraction path against the response
// body, supporting two syntaxes: a dotted gjson path under a "body."
// prefix convention inherited from the original core's
// extract_from_response, and a "$."-prefixed JSONPath expression
// evaluated with PaesslerAG/jsonpath for the RFC 9535-style queries
// some fixture authors already know from other tooling.
func extractPath(body []byte, path string) (any, bool) {
	switch {
	case strings.HasPrefix(path, "body."):
		sub := path[len("body."):]
		res := gjson.GetBytes(body, sub)
		if !res.Exists() {
			return nil, false
		}
		return res.Value(), true
	case strings.HasPrefix(path, "$."):
		return extractJSONPath(body, path)
	default:
		return nil, false
	}
}

// extractJSONPath evaluates a "$."-rooted JSONPath expression against
// the response body, decoded generically so jsonpath can walk it.
func extractJSONPath(body []byte, path string) (any, bool) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, false
	}
	v, err := jsonpath.Get(path, decoded)
	if err != nil {
		return nil, false
	}
	return v, true
}

func aggregateStatus(results []chain.LinkResult) chain.Status {
	if len(results) == 0 {
		return chain.StatusSuccessful
	}
	succeeded, failed := 0, 0
	for _, r := range results {
		if r.Succeeded {
			succeeded++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		return chain.StatusSuccessful
	case succeeded == 0:
		return chain.StatusFailed
	default:
		return chain.StatusPartialSuccess
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneResponses(m map[string]template.ChainResponse) map[string]template.ChainResponse {
	out := make(map[string]template.ChainResponse, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

