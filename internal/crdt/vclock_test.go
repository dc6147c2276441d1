package crdt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVClockHappensBefore(t *testing.T) {
	a := VClock{"1": 1, "2": 0}
	b := VClock{"1": 1, "2": 1}
	assert.True(t, a.HappensBefore(b))
	assert.False(t, b.HappensBefore(a))
	assert.False(t, a.HappensBefore(a))
}

func TestVClockConcurrent(t *testing.T) {
	a := VClock{"1": 1, "2": 0}
	b := VClock{"1": 0, "2": 1}
	assert.True(t, a.Concurrent(b))
	assert.True(t, b.Concurrent(a))
	assert.False(t, a.Concurrent(a))
}

func TestVClockMergeIsComponentwiseMax(t *testing.T) {
	a := VClock{"1": 3, "2": 1}
	b := VClock{"1": 1, "2": 5, "3": 2}
	m := a.Merge(b)
	assert.Equal(t, uint64(3), m.Get("1"))
	assert.Equal(t, uint64(5), m.Get("2"))
	assert.Equal(t, uint64(2), m.Get("3"))
	// operands untouched
	assert.Equal(t, uint64(3), a.Get("1"))
}

func TestVClockIncrementDoesNotMutateReceiver(t *testing.T) {
	a := VClock{"1": 1}
	b := a.Increment("1")
	assert.Equal(t, uint64(1), a.Get("1"))
	assert.Equal(t, uint64(2), b.Get("1"))
}

func TestVClockJSONRoundTrip(t *testing.T) {
	a := VClock{"1": 3, "2": 7}
	b, err := json.Marshal(a)
	require.NoError(t, err)

	var out VClock
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, a.Equal(out))
}

func TestVClockMissingKeyReadsZero(t *testing.T) {
	var v VClock
	assert.Equal(t, uint64(0), v.Get("anything"))
}
