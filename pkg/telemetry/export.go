package telemetry

import (
	"bytes"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/tetherview/scadabridge/pkg/errors"
	"github.com/tetherview/scadabridge/pkg/registry"
)

const exportSheet = "Telemetry"

// ExportWorkbook renders samples as an xlsx workbook with one row per tick:
// a timestamp column followed by one column per configured point, in display
// order. A point that was missing for a tick leaves its cell blank. Exporting
// an empty sample set is an error rather than an empty workbook.
func ExportWorkbook(defs []registry.Definition, samples []Sample) (*bytes.Buffer, error) {
	if len(samples) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidState, "no samples to export")
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to prepare workbook")
	}

	if err := setCell(f, 1, 1, "timestamp"); err != nil {
		return nil, err
	}
	for i, def := range defs {
		if err := setCell(f, i+2, 1, columnTitle(def)); err != nil {
			return nil, err
		}
	}

	for r, s := range samples {
		row := r + 2
		if err := setCell(f, 1, row, s.Timestamp.Format(time.RFC3339)); err != nil {
			return nil, err
		}
		for i, def := range defs {
			v, ok := s.Values[def.ID]
			if !ok {
				continue
			}
			if err := setCell(f, i+2, row, v); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to serialize workbook")
	}
	return buf, nil
}

func columnTitle(def registry.Definition) string {
	title := def.ID
	if def.Name != "" {
		title = def.Name
	}
	if def.Unit != "" {
		title += " (" + def.Unit + ")"
	}
	return title
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to address workbook cell")
	}
	if err := f.SetCellValue(exportSheet, cell, value); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to write workbook cell")
	}
	return nil
}
