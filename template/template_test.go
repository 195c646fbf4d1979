package template

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockforge/core/vclock"
)

func TestExpandResolvesVariablePath(t *testing.T) {
	e := New(1, false, vclock.New())
	ctx := Context{Vars: map[string]any{"request": map[string]any{"body": map[string]any{"id": "abc123"}}}}
	out, err := e.Expand("id is {{request.body.id}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "id is abc123", out)
}

func TestExpandFakerTokensAreDeterministicForSameSeed(t *testing.T) {
	e1 := New(42, false, vclock.New())
	e2 := New(42, false, vclock.New())
	out1, err := e1.Expand("{{faker.uuid}}", Context{})
	require.NoError(t, err)
	out2, err := e2.Expand("{{faker.uuid}}", Context{})
	require.NoError(t, err)
	assert.Equal(t, out1, out2)
}

func TestExpandStrictModeRejectsUnknownToken(t *testing.T) {
	e := New(1, true, vclock.New())
	_, err := e.Expand("{{nope.nothere}}", Context{})
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestExpandNonStrictLeavesUnknownTokenVerbatim(t *testing.T) {
	e := New(1, false, vclock.New())
	out, err := e.Expand("{{nope.nothere}}", Context{})
	require.NoError(t, err)
	assert.Equal(t, "{{nope.nothere}}", out)
}

func TestExpandJSONWalksNestedStructure(t *testing.T) {
	e := New(1, false, vclock.New())
	ctx := Context{Vars: map[string]any{"user": map[string]any{"id": "u1"}}}
	v, err := e.ExpandJSON(map[string]any{
		"id":    "{{user.id}}",
		"items": []any{"{{user.id}}", "literal"},
	}, ctx)
	require.NoError(t, err)
	m := v.(map[string]any)
	assert.Equal(t, "u1", m["id"])
	items := m["items"].([]any)
	assert.Equal(t, "u1", items[0])
	assert.Equal(t, "literal", items[1])
}

func TestNowReadsFromVirtualClockNotWallTime(t *testing.T) {
	clock := vclock.New()
	frozen := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	clock.EnableAt(frozen)

	e := New(1, false, clock)
	out, err := e.Expand("{{now}}", Context{})
	require.NoError(t, err)
	assert.Equal(t, "2020-01-01T00:00:00Z", out)

	clock.Advance(24 * time.Hour)
	out, err = e.Expand("{{now}}", Context{})
	require.NoError(t, err)
	assert.Equal(t, "2020-01-02T00:00:00Z", out)
}

func TestFakerNowAlsoReadsVirtualClock(t *testing.T) {
	clock := vclock.New()
	frozen := time.Date(2021, 6, 15, 12, 0, 0, 0, time.UTC)
	clock.EnableAt(frozen)

	e := New(1, false, clock)
	out, err := e.Expand("{{faker.now}}", Context{})
	require.NoError(t, err)
	assert.Equal(t, "2021-06-15T12:00:00Z", out)
}

func TestChainTokenResolvesStoredLinkResponse(t *testing.T) {
	e := New(1, false, vclock.New())
	ctx := Context{
		Chain: &ChainContext{
			Responses: map[string]ChainResponse{
				"login": {Status: 200, Body: map[string]any{"token": "tkn_X"}},
			},
		},
	}
	out, err := e.Expand("Bearer {{chain.login.body.token}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tkn_X", out)
}

func TestChainTokenUnresolvedWithoutChainContext(t *testing.T) {
	e := New(1, true, vclock.New())
	_, err := e.Expand("{{chain.login.body.token}}", Context{})
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestEnvTokenReadsEnvironment(t *testing.T) {
	require.NoError(t, os.Setenv("MOCKFORGE_TEMPLATE_TEST_VAR", "hello"))
	defer os.Unsetenv("MOCKFORGE_TEMPLATE_TEST_VAR")

	e := New(1, false, vclock.New())
	out, err := e.Expand("{{env.MOCKFORGE_TEMPLATE_TEST_VAR}}", Context{})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}
