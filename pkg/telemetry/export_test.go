package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/tetherview/scadabridge/pkg/errors"
	"github.com/tetherview/scadabridge/pkg/registry"
)

func exportDefs() []registry.Definition {
	return []registry.Definition{
		{ID: "pt1", Tag: "DP_1", Name: "Boiler Pressure", Unit: "bar"},
		{ID: "pt2", Tag: "DP_2"},
	}
}

func TestExportWorkbookEmpty(t *testing.T) {
	_, err := ExportWorkbook(exportDefs(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
}

func TestExportWorkbookRowsAndHeaders(t *testing.T) {
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	samples := []Sample{
		{
			Timestamp: base,
			Values:    map[string]float64{"pt1": 4.2, "pt2": 17},
		},
		{
			Timestamp: base.Add(time.Second),
			Values:    map[string]float64{"pt2": 18},
			Missing:   []string{"pt1"},
		},
	}

	buf, err := ExportWorkbook(exportDefs(), samples)
	require.NoError(t, err)

	f, err := excelize.OpenReader(buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"timestamp", "Boiler Pressure (bar)", "pt2"}, rows[0])
	assert.Equal(t, []string{"2026-08-31T12:00:00Z", "4.2", "17"}, rows[1])

	// The missing point leaves a blank cell, not a zero.
	assert.Equal(t, "2026-08-31T12:00:01Z", rows[2][0])
	blank, err := f.GetCellValue(exportSheet, "B3")
	require.NoError(t, err)
	assert.Empty(t, blank)
	assert.Equal(t, "18", rows[2][2])
}
