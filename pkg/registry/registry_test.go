package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherview/scadabridge/pkg/errors"
)

func ids(defs []Definition) []string {
	out := make([]string, 0, len(defs))
	for _, d := range defs {
		out = append(out, d.ID)
	}
	return out
}

func seeded() *Registry {
	return New([]Definition{
		{ID: "pt1", Tag: "DP_1"},
		{ID: "pt2", Tag: "DP_2"},
		{ID: "pt3", Tag: "DP_3"},
		{ID: "pt4", Tag: "DP_4"},
	})
}

func TestAddAndGet(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Add(Definition{ID: "pt1", Tag: "DP_1", Name: "Pressure"}))

	def, ok := r.Get("pt1")
	require.True(t, ok)
	assert.Equal(t, "Pressure", def.Name)
	assert.Equal(t, 1, r.Snapshot().Len())
}

func TestAddDuplicate(t *testing.T) {
	r := seeded()
	err := r.Add(Definition{ID: "pt1", Tag: "DP_9"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeDuplicateIdentifier))
	assert.Equal(t, 4, r.Snapshot().Len())
}

func TestAddRequiresIDAndTag(t *testing.T) {
	r := New(nil)
	assert.True(t, errors.IsCode(r.Add(Definition{Tag: "DP_1"}), errors.ErrCodeInvalidInput))
	assert.True(t, errors.IsCode(r.Add(Definition{ID: "pt1"}), errors.ErrCodeInvalidInput))
}

func TestUpdate(t *testing.T) {
	r := seeded()
	require.NoError(t, r.Update("pt2", Definition{ID: "pt2", Tag: "DP_2b", Unit: "bar"}))

	def, ok := r.Get("pt2")
	require.True(t, ok)
	assert.Equal(t, "DP_2b", def.Tag)

	// Order is preserved across an update.
	assert.Equal(t, []string{"pt1", "pt2", "pt3", "pt4"}, ids(r.Snapshot().Points()))

	err := r.Update("ghost", Definition{Tag: "DP_9"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownIdentifier))
}

func TestRemove(t *testing.T) {
	r := seeded()
	r.Remove("pt2")
	assert.Equal(t, []string{"pt1", "pt3", "pt4"}, ids(r.Snapshot().Points()))

	// Unknown removal is a no-op.
	r.Remove("ghost")
	assert.Equal(t, 3, r.Snapshot().Len())
}

func TestReorderFullList(t *testing.T) {
	r := seeded()
	require.NoError(t, r.Reorder([]string{"pt4", "pt2", "pt1", "pt3"}))
	assert.Equal(t, []string{"pt4", "pt2", "pt1", "pt3"}, ids(r.Snapshot().Points()))
}

func TestReorderPartialKeepsRestAtEnd(t *testing.T) {
	r := seeded()
	require.NoError(t, r.Reorder([]string{"pt3", "pt1"}))
	assert.Equal(t, []string{"pt3", "pt1", "pt2", "pt4"}, ids(r.Snapshot().Points()))
}

func TestReorderUnknownIDLeavesOrderUnchanged(t *testing.T) {
	r := seeded()
	err := r.Reorder([]string{"pt2", "ghost"})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownIdentifier))
	assert.Equal(t, []string{"pt1", "pt2", "pt3", "pt4"}, ids(r.Snapshot().Points()))
}

func TestReorderDeduplicates(t *testing.T) {
	r := seeded()
	require.NoError(t, r.Reorder([]string{"pt2", "pt2", "pt1"}))
	assert.Equal(t, []string{"pt2", "pt1", "pt3", "pt4"}, ids(r.Snapshot().Points()))
}

func TestSnapshotIsStable(t *testing.T) {
	r := seeded()
	snap := r.Snapshot()
	r.Remove("pt1")

	// The old snapshot still sees the removed point; readers holding it are
	// not disturbed by the mutation.
	_, ok := snap.Get("pt1")
	assert.True(t, ok)
	_, ok = r.Snapshot().Get("pt1")
	assert.False(t, ok)
}

func TestResolveByIDOrTag(t *testing.T) {
	r := seeded()
	snap := r.Snapshot()

	byID, ok := snap.Resolve("pt2")
	require.True(t, ok)
	byTag, ok2 := snap.Resolve("DP_2")
	require.True(t, ok2)
	assert.Equal(t, byID, byTag)

	_, ok = snap.Resolve("nope")
	assert.False(t, ok)
}

func TestInRange(t *testing.T) {
	minV, maxV := 0.0, 100.0
	def := Definition{ID: "cv", Tag: "valve", SafetyMin: &minV, SafetyMax: &maxV}
	assert.True(t, def.HasRange())
	assert.True(t, def.InRange(0))
	assert.True(t, def.InRange(100))
	assert.False(t, def.InRange(-0.1))
	assert.False(t, def.InRange(100.1))

	unbounded := Definition{ID: "t", Tag: "temp"}
	assert.False(t, unbounded.HasRange())
	assert.True(t, unbounded.InRange(1e12))
}

func TestReplace(t *testing.T) {
	r := seeded()
	r.Replace([]Definition{{ID: "new", Tag: "DP_NEW"}})
	assert.Equal(t, []string{"new"}, ids(r.Snapshot().Points()))
}
