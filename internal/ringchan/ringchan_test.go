package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_SendDropsOldest(t *testing.T) {
	rc := New[int](3)

	for i := 1; i <= 5; i++ {
		rc.Send(i)
	}

	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got, "Send MUST keep the newest values")

	m := rc.Metrics()
	assert.Equal(t, int64(5), m.Written)
	assert.Equal(t, int64(2), m.Overwritten)
	assert.Equal(t, int64(3), m.Received)
}

func TestRingChannel_TrySendRejectsWhenFull(t *testing.T) {
	rc := New[string](1)

	require.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"), "TrySend MUST refuse when full")
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 1, rc.Cap())
	assert.Equal(t, int64(1), rc.Metrics().Rejected)

	v := <-rc.C()
	assert.Equal(t, "a", v, "rejected value MUST NOT replace the buffered one")
}

func TestRingChannel_ClosedReceive(t *testing.T) {
	rc := New[int](1)
	rc.Close()
	_, ok := rc.TryReceive()
	assert.False(t, ok)
}

func TestNew_InvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
