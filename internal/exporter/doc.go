// Package exporter writes license records as CSV or XLSX for operators.
//
// CSV output starts with a UTF-8 BOM so spreadsheet tools detect the
// encoding. Large exports go through StreamWriter row by row:
//
//	err := exporter.WriteLicenses(w, exporter.FormatCSV, recs)
package exporter
