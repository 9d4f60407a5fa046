package exporter

import (
	"fmt"
	"io"
	"strings"

	"github.com/luiggiberaldi/preciosaldia-bodega-sub000/internal/authority"
)

// Format is an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat accepts "csv" or "xlsx" in any case
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format: %q", s)
	}
}

// ContentType returns the MIME type of f
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// LicenseHeaders are the column titles of a license export
var LicenseHeaders = []string{"Device ID", "Product", "Type", "Active", "Expires At", "Last Seen"}

// LicenseRow flattens rec into export columns
func LicenseRow(rec authority.LicenseRecord) []string {
	return []string{
		rec.DeviceID,
		rec.ProductID,
		string(rec.Type),
		formatBool(rec.Active),
		formatTime(rec.ExpiresAt),
		formatTime(rec.LastSeenAt),
	}
}

// WriteLicenses writes recs to w in format f
func WriteLicenses(w io.Writer, f Format, recs []authority.LicenseRecord) error {
	switch f {
	case FormatXLSX:
		return WriteLicensesXLSX(w, recs)
	case FormatCSV:
		stream, err := NewStreamWriter(w, LicenseHeaders)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := stream.WriteRecord(LicenseRow(rec)); err != nil {
				return err
			}
		}
		return stream.Close()
	default:
		return fmt.Errorf("unsupported export format: %q", f)
	}
}
