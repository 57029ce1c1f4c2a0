package manifest

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/orchestra/internal/domain"
	"github.com/felixgeelhaar/orchestra/internal/errors"
)

func comp(id string, deps ...string) Component {
	c := Component{ID: domain.ComponentID(id), File: id + ".go", Complexity: domain.ComplexityMedium}
	for _, d := range deps {
		c.DependsOn = append(c.DependsOn, domain.ComponentID(d))
	}
	return c
}

func ids(components []Component) []string {
	out := make([]string, len(components))
	for i, c := range components {
		out[i] = string(c.ID)
	}
	return out
}

func TestResolve_Diamond(t *testing.T) {
	order, err := Resolve([]Component{
		comp("d", "b", "c"),
		comp("c", "a"),
		comp("b", "a"),
		comp("a"),
	})
	require.NoError(t, err)

	got := ids(order)
	require.Len(t, got, 4)
	assert.Equal(t, "a", got[0])
	assert.Equal(t, "d", got[3])
	assert.ElementsMatch(t, []string{"b", "c"}, got[1:3])
	// ready ties break lexicographically
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestResolve_NoEdgesIsSorted(t *testing.T) {
	order, err := Resolve([]Component{comp("zeta"), comp("alpha"), comp("mid"), comp("beta")})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "mid", "zeta"}, ids(order))
}

func TestResolve_Cycle(t *testing.T) {
	_, err := Resolve([]Component{
		comp("a", "b"),
		comp("b", "c"),
		comp("c", "a"),
		comp("root"),
	})
	require.Error(t, err)

	var cycle *CycleDetectedError
	require.True(t, stderrors.As(err, &cycle))
	assert.Equal(t, []string{"a", "b", "c"}, cycle.Unresolved)

	code, ok := errors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeDependencyCycle, code)
}

func TestResolve_SelfDependencyIsCycle(t *testing.T) {
	_, err := Resolve([]Component{comp("a", "a")})

	var cycle *CycleDetectedError
	require.True(t, stderrors.As(err, &cycle))
	assert.Equal(t, []string{"a"}, cycle.Unresolved)
}

func TestResolve_UnknownDependency(t *testing.T) {
	_, err := Resolve([]Component{comp("a"), comp("b", "a", "ghost")})
	require.Error(t, err)

	var unknown *UnknownDependencyError
	require.True(t, stderrors.As(err, &unknown))
	assert.Equal(t, "b", unknown.Component)
	assert.Equal(t, "ghost", unknown.Missing)

	code, ok := errors.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeUnknownDependency, code)
}

func TestResolve_DuplicateDependencyListedTwice(t *testing.T) {
	order, err := Resolve([]Component{comp("b", "a", "a"), comp("a")})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(order))
}

func TestDependents(t *testing.T) {
	components := []Component{comp("a"), comp("b", "a"), comp("c", "b"), comp("d")}
	assert.Equal(t, []domain.ComponentID{"b", "c"}, Dependents(components, "a"))
	assert.Empty(t, Dependents(components, "d"))
}
