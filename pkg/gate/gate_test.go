package gate

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherview/scadabridge/pkg/errors"
	"github.com/tetherview/scadabridge/pkg/registry"
	"github.com/tetherview/scadabridge/pkg/upstream"
)

type recordedWrite struct {
	Tag      string
	DataType upstream.DataType
	Value    float64
}

type fakeWriter struct {
	mu     sync.Mutex
	writes []recordedWrite
	err    error
}

func (f *fakeWriter) WritePoint(_ context.Context, tag string, dataType upstream.DataType, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, recordedWrite{Tag: tag, DataType: dataType, Value: value})
	return nil
}

func (f *fakeWriter) recorded() []recordedWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedWrite(nil), f.writes...)
}

func floatPtr(v float64) *float64 { return &v }

func testGate(t *testing.T) (*Gate, *fakeWriter) {
	t.Helper()
	reg := registry.New([]registry.Definition{
		{ID: "cv", Tag: "control_valve", Name: "Control Valve", Unit: "%",
			SafetyMin: floatPtr(0), SafetyMax: floatPtr(100), Writable: true},
		{ID: "turbidity", Tag: "ml_turb", Name: "Turbidity", Unit: "NTU"},
	})
	writer := &fakeWriter{}
	return New(writer, reg, nil), writer
}

func TestProposeUnknownPoint(t *testing.T) {
	g, _ := testGate(t)
	_, err := g.Propose(Proposal{Point: "nope", Value: 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownPoint))
}

func TestProposeNotWritable(t *testing.T) {
	g, _ := testGate(t)
	_, err := g.Propose(Proposal{Point: "turbidity", Value: 1})
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnknownPoint))
}

func TestProposeOutOfRange(t *testing.T) {
	g, _ := testGate(t)
	_, err := g.Propose(Proposal{Point: "cv", Value: 150})
	assert.True(t, errors.IsCode(err, errors.ErrCodeOutOfRange))
	assert.Empty(t, g.Pending())
}

func TestProposeResolvesByTag(t *testing.T) {
	g, _ := testGate(t)
	a, err := g.Propose(Proposal{Point: "control_valve", Value: 50})
	require.NoError(t, err)
	assert.Equal(t, "cv", a.PointID)
}

func TestApproveExecutesWrite(t *testing.T) {
	g, writer := testGate(t)
	a, err := g.Propose(Proposal{Point: "cv", Value: 50, Rationale: "flush line"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingApproval, a.State)

	resolved, err := g.Approve(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExecuted, resolved.State)
	assert.False(t, resolved.ResolvedAt.IsZero())

	writes := writer.recorded()
	require.Len(t, writes, 1)
	assert.Equal(t, recordedWrite{Tag: "control_valve", DataType: upstream.DataTypeNumeric, Value: 50}, writes[0])
	assert.Empty(t, g.Pending())
}

func TestApproveWriteFailure(t *testing.T) {
	g, writer := testGate(t)
	writer.err = errors.New(errors.ErrCodeWriteFailed, "upstream said no")

	a, err := g.Propose(Proposal{Point: "cv", Value: 50})
	require.NoError(t, err)

	resolved, err := g.Approve(context.Background(), a.ID)
	require.Error(t, err)
	assert.Equal(t, StateExecutionFailed, resolved.State)
	assert.Contains(t, resolved.Error, "upstream said no")
	assert.Empty(t, g.Pending())
}

func TestRejectDoesNotWrite(t *testing.T) {
	g, writer := testGate(t)
	a, err := g.Propose(Proposal{Point: "cv", Value: 50})
	require.NoError(t, err)

	resolved, err := g.Reject(a.ID, "not during peak demand")
	require.NoError(t, err)
	assert.Equal(t, StateRejected, resolved.State)
	assert.Equal(t, "not during peak demand", resolved.Reason)
	assert.Empty(t, writer.recorded())
}

func TestNewerProposalSupersedes(t *testing.T) {
	g, _ := testGate(t)
	first, err := g.Propose(Proposal{Point: "cv", Value: 40})
	require.NoError(t, err)
	second, err := g.Propose(Proposal{Point: "cv", Value: 60})
	require.NoError(t, err)

	pending := g.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	old, ok := g.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, StateSuperseded, old.State)

	_, err = g.Approve(context.Background(), first.ID)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNoPendingAction))
}

func TestApproveRejectRaceFirstWins(t *testing.T) {
	g, writer := testGate(t)
	a, err := g.Propose(Proposal{Point: "cv", Value: 50})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := g.Approve(context.Background(), a.ID)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := g.Reject(a.ID, "race")
		results <- err
	}()
	wg.Wait()
	close(results)

	var winners, losers int
	for err := range results {
		if err == nil {
			winners++
		} else {
			assert.True(t, errors.IsCode(err, errors.ErrCodeNoPendingAction))
			losers++
		}
	}
	assert.Equal(t, 1, winners)
	assert.Equal(t, 1, losers)
	assert.LessOrEqual(t, len(writer.recorded()), 1)
}

func TestPendingOrderedOldestFirst(t *testing.T) {
	reg := registry.New([]registry.Definition{
		{ID: "a", Tag: "t_a", Writable: true},
		{ID: "b", Tag: "t_b", Writable: true},
	})
	g := New(&fakeWriter{}, reg, nil)

	first, err := g.Propose(Proposal{Point: "a", Value: 1})
	require.NoError(t, err)
	second, err := g.Propose(Proposal{Point: "b", Value: 2})
	require.NoError(t, err)

	pending := g.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestProposeExplicitDataType(t *testing.T) {
	g, writer := testGate(t)
	a, err := g.Propose(Proposal{Point: "cv", Value: 1, DataType: "binary"})
	require.NoError(t, err)

	_, err = g.Approve(context.Background(), a.ID)
	require.NoError(t, err)
	writes := writer.recorded()
	require.Len(t, writes, 1)
	assert.Equal(t, upstream.DataTypeBinary, writes[0].DataType)
}
