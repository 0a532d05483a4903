package report

import (
	"fmt"
	"strings"
)

// Format selects an export encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ParseFormat accepts "csv" (the default when empty) or "parquet".
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	}
	return "", fmt.Errorf("unsupported format %q (want csv or parquet)", s)
}

// ContentType is the HTTP media type for f.
func (f Format) ContentType() string {
	if f == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv; charset=utf-8"
}

// Extension is the file suffix for f, without the dot.
func (f Format) Extension() string {
	return string(f)
}
