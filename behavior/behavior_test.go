package behavior

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/mockforge/core/domain/behavior"
)

func TestClassifyMutation(t *testing.T) {
	cases := []struct {
		method string
		exists bool
		want   domain.MutationType
	}{
		{"POST", false, domain.MutationCreate},
		{"PUT", false, domain.MutationCreate},
		{"PUT", true, domain.MutationUpdate},
		{"PATCH", true, domain.MutationPartialUpdate},
		{"DELETE", true, domain.MutationDelete},
		{"GET", true, domain.MutationNone},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyMutation(c.method, c.exists))
	}
}

func TestEngineApplyCreateThenGetDefers(t *testing.T) {
	sess := domain.NewSession("s1")
	e := New()

	out, err := e.Apply(sess, "/users", "u1", "POST", map[string]any{"name": "Ada"}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, domain.MutationCreate, out.Mutation)
	assert.False(t, out.Defer)
	body, ok := out.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u1", body["id"])
	assert.Equal(t, "created", body["status"])
	assert.Equal(t, map[string]any{"name": "Ada"}, body["data"])

	out, err = e.Apply(sess, "/users", "u1", "GET", nil, nil, false)
	require.NoError(t, err)
	assert.Equal(t, domain.MutationNone, out.Mutation)
	assert.True(t, out.Defer)
}

func TestEngineApplyPartialUpdateMergesFields(t *testing.T) {
	sess := domain.NewSession("s1")
	e := New()

	_, err := e.Apply(sess, "/users", "u1", "POST", map[string]any{"name": "Ada", "age": float64(30)}, nil, false)
	require.NoError(t, err)

	out, err := e.Apply(sess, "/users", "u1", "PATCH", map[string]any{"age": float64(31)}, nil, false)
	require.NoError(t, err)
	body, ok := out.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u1", body["id"])
	assert.Equal(t, "updated", body["status"])
	data, ok := body["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Ada", data["name"])
	assert.Equal(t, float64(31), data["age"])
}

func TestInvariantViolationRecordedAsIssue(t *testing.T) {
	sess := domain.NewSession("s1")
	e := New()

	rules := domain.Rules{
		Invariants: []domain.Invariant{
			{Name: "age_non_negative", Expression: "body.age >= 0", Severity: domain.SeverityError, Message: "age must be non-negative"},
		},
	}
	compiled, err := CompileRules(rules)
	require.NoError(t, err)

	out, err := e.Apply(sess, "/users", "u1", "POST", map[string]any{"age": float64(-1)}, compiled, false)
	require.NoError(t, err)
	require.Len(t, out.Issues, 1)
	assert.Equal(t, "age_non_negative", out.Issues[0].Rule)
}

func TestComputeDiff(t *testing.T) {
	before := map[string]any{"a": 1, "b": 2}
	after := map[string]any{"a": 1, "b": 3, "c": 4}
	d := ComputeDiff(before, after)
	assert.Equal(t, []string{"b"}, d.ChangedFields)
	assert.Equal(t, []string{"c"}, d.AddedFields)
	assert.Empty(t, d.RemovedFields)
}
