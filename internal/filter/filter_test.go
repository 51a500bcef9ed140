package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Update(t *testing.T) {
	f := MustNew(0.5)

	var got []float64
	for _, x := range []float64{1, 2, 3} {
		got = append(got, f.Update(x))
	}

	require.Len(t, got, 3)
	assert.InDelta(t, 1.0, got[0], 1e-12, "first input MUST initialize directly")
	assert.InDelta(t, 1.5, got[1], 1e-12)
	assert.InDelta(t, 2.25, got[2], 1e-12)
}

func TestFilter_AlphaOnePassesThrough(t *testing.T) {
	f := MustNew(1)
	f.Update(10)
	assert.Equal(t, 3.0, f.Update(3), "alpha 1 MUST track the input exactly")
}

func TestFilter_Reset(t *testing.T) {
	f := MustNew(0.25)
	f.Update(8)
	f.Update(0)

	f.Reset()
	_, ok := f.Value()
	assert.False(t, ok, "Reset MUST clear the initialized state")
	assert.Equal(t, 4.0, f.Update(4), "first input after Reset MUST initialize directly")
}

func TestNew_InvalidAlpha(t *testing.T) {
	for _, alpha := range []float64{0, -0.1, 1.01} {
		_, err := New(alpha)
		assert.Error(t, err, "alpha %v MUST be rejected", alpha)
	}
}
