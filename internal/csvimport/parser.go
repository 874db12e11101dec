package csvimport

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

const utf8BOM = "\ufeff"

// Row is one data record keyed by header name.
type Row struct {
	// Index is the 1-based data row number; the header is row 0.
	Index  int
	Values map[string]string
	Fields int
	width  int
}

// Mismatched reports whether the record had a different column count than the header.
func (r Row) Mismatched() bool {
	return r.Fields != r.width
}

func (r Row) Get(header string) string {
	return r.Values[header]
}

type File struct {
	Name    string
	Headers []string
	Rows    []Row
}

// HasHeader reports whether the header row contains name.
func (f *File) HasHeader(name string) bool {
	for _, h := range f.Headers {
		if h == name {
			return true
		}
	}
	return false
}

type parseOptions struct {
	delimiter  rune
	lazyQuotes bool
	maxRows    int
}

type Option func(*parseOptions)

func WithDelimiter(d rune) Option {
	return func(o *parseOptions) { o.delimiter = d }
}

func WithLazyQuotes() Option {
	return func(o *parseOptions) { o.lazyQuotes = true }
}

// WithMaxRows rejects files with more than n data rows.
func WithMaxRows(n int) Option {
	return func(o *parseOptions) { o.maxRows = n }
}

// Parse reads a headed CSV document. Blank lines never produce rows and rows with
// a wrong column count are kept and flagged rather than padded.
func Parse(name string, r io.Reader, opts ...Option) (*File, error) {
	o := parseOptions{delimiter: ','}
	for _, opt := range opts {
		opt(&o)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Kind: KindParse, File: name, Message: "failed to read file", Err: err}
	}
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return nil, &Error{Kind: KindParse, File: name, Message: "file is not UTF-8 text"}
	}

	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte(utf8BOM))))
	reader.Comma = o.delimiter
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = o.lazyQuotes

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &Error{Kind: KindParse, File: name, Message: "file is empty"}
	}
	if err != nil {
		return nil, &Error{Kind: KindParse, File: name, Message: "CSV parsing failed", Err: err}
	}

	file := &File{Name: name, Headers: normalizeHeaderRow(header)}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &Error{Kind: KindParse, File: name, Message: "CSV parsing failed", Err: err}
		}
		if blankRecord(record) {
			continue
		}
		if o.maxRows > 0 && len(file.Rows) >= o.maxRows {
			return nil, &Error{Kind: KindParse, File: name, Message: "CSV row limit exceeded"}
		}
		file.Rows = append(file.Rows, file.buildRow(len(file.Rows)+1, record))
	}
	return file, nil
}

func (f *File) buildRow(index int, record []string) Row {
	values := make(map[string]string, len(f.Headers))
	for i, h := range f.Headers {
		if h == "" || i >= len(record) {
			continue
		}
		values[h] = cleanValue(record[i])
	}
	return Row{Index: index, Values: values, Fields: len(record), width: len(f.Headers)}
}

func normalizeHeaderRow(row []string) []string {
	headers := make([]string, len(row))
	for i, col := range row {
		headers[i] = cleanValue(strings.TrimPrefix(col, utf8BOM))
	}
	return headers
}

// cleanValue trims whitespace and one level of stray surrounding quotes left by
// spreadsheet exports that double-quote already quoted cells.
func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	return v
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
