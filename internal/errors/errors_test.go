package errors

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_Defaults(t *testing.T) {
	ee := Newf("something broke").Build()

	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.Equal(t, "something broke", ee.Error())
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuild_WithMetadata(t *testing.T) {
	base := stderrors.New("connection refused")
	ee := New(base).
		Component("inference").
		Category(CategoryNetwork).
		NetworkContext("http://localhost:5001/api/classify", 3*time.Second).
		Build()

	assert.Equal(t, "inference", ee.Component)
	assert.Equal(t, CategoryNetwork, ee.Category)

	ctx := ee.GetContext()
	assert.Equal(t, "http://localhost:5001/api/classify", ctx["url"])
	assert.InDelta(t, 3.0, ctx["timeout_seconds"], 0.001)

	// Unwrap reaches the original error
	require.ErrorIs(t, ee, base)
}

func TestGetContext_ReturnsCopy(t *testing.T) {
	ee := Newf("x").Context("key", "value").Build()

	ctx := ee.GetContext()
	ctx["key"] = "mutated"

	assert.Equal(t, "value", ee.GetContext()["key"])
}

func TestHasCategory(t *testing.T) {
	ee := Newf("no such batch").Category(CategoryNotFound).Build()
	wrapped := stderrors.Join(stderrors.New("outer"), ee)

	assert.True(t, HasCategory(ee, CategoryNotFound))
	assert.False(t, HasCategory(ee, CategoryDatabase))
	assert.False(t, HasCategory(wrapped, CategoryDatabase))
}

func TestIs_MatchesByCategory(t *testing.T) {
	a := Newf("a").Category(CategoryTimeout).Build()
	b := Newf("b").Category(CategoryTimeout).Build()

	assert.True(t, a.Is(b))
}
