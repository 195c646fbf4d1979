package scripting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReturnsScriptOutput(t *testing.T) {
	s := New(0)
	req := Request{
		Script: `function handle(input, variables) { return {greeting: "hi " + input.name}; }`,
		Input:  map[string]any{"name": "Ada"},
	}
	res, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	out, ok := res.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi Ada", out["greeting"])
}

func TestRunMergesSetVariableCalls(t *testing.T) {
	s := New(0)
	req := Request{
		Script: `function handle(input, variables) { setVariable("user_id", "u-1"); return null; }`,
	}
	res, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "u-1", res.ModifiedVariables["user_id"])
}

func TestRunMergesSetHeaderCalls(t *testing.T) {
	s := New(0)
	req := Request{
		Script: `function handle(input, variables) { setHeader("X-Trace", "abc"); return null; }`,
	}
	res, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "abc", res.SetHeaders["X-Trace"])
}

func TestRunExposesInjectedVariablesToScript(t *testing.T) {
	s := New(0)
	req := Request{
		Script:    `function handle(input, variables) { return {seen: variables.existing}; }`,
		Variables: map[string]any{"existing": "already-there"},
	}
	res, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	out, ok := res.Output.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "already-there", out["seen"])
}

func TestRunCapturesConsoleLog(t *testing.T) {
	s := New(0)
	req := Request{
		Script: `function handle(input, variables) { console.log("hello", "world"); return null; }`,
	}
	res, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, res.Logs)
}

func TestRunRespectsCustomEntryPoint(t *testing.T) {
	s := New(0)
	req := Request{
		Script:     `function preScript(input, variables) { return "ran"; }`,
		EntryPoint: "preScript",
	}
	res, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ran", res.Output)
}

func TestRunReturnsErrNotAFunctionWhenEntryMissing(t *testing.T) {
	s := New(0)
	req := Request{Script: `var handle = 42;`}
	_, err := s.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrNotAFunction)
}

func TestRunTimesOutOnInfiniteLoop(t *testing.T) {
	s := New(20 * time.Millisecond)
	req := Request{Script: `function handle(input, variables) { while (true) {} }`}
	_, err := s.Run(context.Background(), req)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRunUsesBuiltinCryptoAndBase64Helpers(t *testing.T) {
	s := New(0)
	req := Request{
		Script: `function handle(input, variables) {
			var id = crypto.randomUUID();
			var encoded = base64.encode("hi");
			return {idLen: id.length, encoded: encoded, decoded: base64.decode(encoded)};
		}`,
	}
	res, err := s.Run(context.Background(), req)
	require.NoError(t, err)
	out, ok := res.Output.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 36, out["idLen"])
	assert.Equal(t, "hi", out["decoded"])
}
