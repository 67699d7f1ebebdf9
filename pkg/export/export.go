package export

// Dataset defines tabular export content. Rows are keyed by header name so
// renderers stay independent of column order in the source query.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// Format identifies a supported export encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv"
}

// Valid reports whether the format is supported.
func (f Format) Valid() bool {
	return f == FormatCSV || f == FormatPDF
}
