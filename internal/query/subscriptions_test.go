package query

import (
	"testing"

	"geoquery/internal/domain/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	rangeA = entity.RangeKey{Start: "s000", End: "s001"}
	rangeB = entity.RangeKey{Start: "s001", End: "s002"}
	rangeC = entity.RangeKey{Start: "s00c", End: "s00d"}
)

func TestRangeTable_Reconcile(t *testing.T) {
	rt := newRangeTable()

	toOpen := rt.reconcile([]entity.RangeKey{rangeA, rangeB})
	require.Len(t, toOpen, 2)
	assert.Equal(t, rangeOpening, toOpen[0].state)
	assert.Equal(t, 2, rt.size())

	toOpen = rt.reconcile([]entity.RangeKey{rangeB, rangeC})
	require.Len(t, toOpen, 1, "overlapping ranges are reused")
	assert.Equal(t, rangeC, toOpen[0].key)

	assert.Equal(t, []entity.RangeKey{rangeB, rangeC}, rt.activeKeys())
	assert.Equal(t, 3, rt.size(), "inactive ranges stay until cleanup")
	assert.True(t, rt.covers("s000x"), "inactive ranges still cover")

	removed := rt.removeInactive()
	require.Len(t, removed, 1)
	assert.Equal(t, rangeA, removed[0].key)
	assert.False(t, rt.covers("s000x"))
	assert.True(t, rt.covers("s001"), "range ends are inclusive")
}

func TestRangeTable_ReactivatesInactiveRange(t *testing.T) {
	rt := newRangeTable()
	rt.reconcile([]entity.RangeKey{rangeA})
	rt.reconcile([]entity.RangeKey{rangeB})

	toOpen := rt.reconcile([]entity.RangeKey{rangeA})
	assert.Len(t, toOpen, 0, "an inactive range that is wanted again is not reopened")
	assert.Equal(t, []entity.RangeKey{rangeA}, rt.activeKeys())
}

func TestRangeTable_FailedRangesAreRetried(t *testing.T) {
	rt := newRangeTable()
	entries := rt.reconcile([]entity.RangeKey{rangeA, rangeB})
	entries[0].state = rangeFailed
	entries[1].state = rangeOpen

	retry := rt.failed()
	require.Len(t, retry, 1)
	assert.Equal(t, rangeA, retry[0].key)
	assert.Equal(t, rangeOpening, retry[0].state)

	entries[0].state = rangeFailed
	toOpen := rt.reconcile([]entity.RangeKey{rangeA, rangeB})
	require.Len(t, toOpen, 1)
	assert.Equal(t, rangeA, toOpen[0].key)
}

func TestRangeTable_CurrentAndPending(t *testing.T) {
	rt := newRangeTable()
	entries := rt.reconcile([]entity.RangeKey{rangeA, rangeB})
	entries[0].loaded = true

	assert.Equal(t, map[entity.RangeKey]struct{}{rangeB: {}}, rt.pending())
	assert.True(t, rt.current(entries[0]))

	rt.removeAll()
	assert.False(t, rt.current(entries[0]))
	assert.Equal(t, 0, rt.size())
}

func TestDesiredRanges_DeduplicatesAndSorts(t *testing.T) {
	decompose := func(entity.Location, float64) []entity.RangeKey {
		return []entity.RangeKey{rangeC, rangeA, rangeC, rangeA, rangeB}
	}

	assert.Equal(t, []entity.RangeKey{rangeA, rangeB, rangeC}, desiredRanges(decompose, origin, 1))
}
