package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockforge/core/domain/fixture"
)

func TestMatchPath(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"/pets/1", "/pets/1", true},
		{"/pets/{id}", "/pets/42", true},
		{"/pets/{id}", "/pets/42/owner", false},
		{"/pets/**", "/pets/42/owner", true},
		{"/pets/**", "/pets", true},
		{"/pets/{id}", "/other/42", false},
		{"/pets/*", "/pets/42", true},
		{"/pets/*", "/pets/42/owner", false},
		{"/pets/*/owner", "/pets/42/owner", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, MatchPath(c.pattern, c.path), "%s vs %s", c.pattern, c.path)
	}
}

func TestPathParams(t *testing.T) {
	params := PathParams("/users/{userId}/orders/{orderId}", "/users/u1/orders/o9")
	assert.Equal(t, "u1", params["userId"])
	assert.Equal(t, "o9", params["orderId"])
}

func TestResolveFixturePrefersMostSpecific(t *testing.T) {
	r := New()
	r.Load(nil, []fixture.Fixture{
		{ID: "wild", Method: "GET", PathPattern: "/pets/**", Status: 200},
		{ID: "star", Method: "GET", PathPattern: "/pets/*", Status: 201},
		{ID: "param", Method: "GET", PathPattern: "/pets/{id}", Status: 201},
		{ID: "exact", Method: "GET", PathPattern: "/pets/42", Status: 202},
	})

	f, ok := r.ResolveFixture("GET", "/pets/42")
	require.True(t, ok)
	assert.Equal(t, "exact", f.ID)

	f, ok = r.ResolveFixture("GET", "/pets/7")
	require.True(t, ok)
	assert.Equal(t, "param", f.ID)

	f, ok = r.ResolveFixture("GET", "/pets/7/owner")
	require.True(t, ok)
	assert.Equal(t, "wild", f.ID)
}

func TestResolveFixtureStarWildcardMatchesSingleSegmentOnly(t *testing.T) {
	r := New()
	r.Load(nil, []fixture.Fixture{
		{ID: "star", Method: "GET", PathPattern: "/pets/*", Status: 200},
	})

	_, ok := r.ResolveFixture("GET", "/pets/7")
	require.True(t, ok)

	_, ok = r.ResolveFixture("GET", "/pets/7/owner")
	assert.False(t, ok)
}

func TestResolveFixtureNoMatch(t *testing.T) {
	r := New()
	r.Load(nil, []fixture.Fixture{{ID: "only", Method: "GET", PathPattern: "/pets/{id}", Status: 200}})
	_, ok := r.ResolveFixture("POST", "/pets/1")
	assert.False(t, ok)
}
