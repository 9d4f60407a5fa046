package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
)

// LicenseSheet is the sheet name of a license workbook
const LicenseSheet = "Licenses"

// WriteLicensesXLSX writes recs as a single-sheet workbook. Active is
// written as a boolean cell.
func WriteLicensesXLSX(w io.Writer, recs []authority.LicenseRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	f.SetSheetName(f.GetSheetName(0), LicenseSheet)

	headers := make([]interface{}, len(LicenseHeaders))
	for i, h := range LicenseHeaders {
		headers[i] = h
	}
	if err := f.SetSheetRow(LicenseSheet, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, rec := range recs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{
			rec.DeviceID,
			rec.ProductID,
			string(rec.Type),
			rec.Active,
			formatTime(rec.ExpiresAt),
			formatTime(rec.LastSeenAt),
		}
		if err := f.SetSheetRow(LicenseSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
