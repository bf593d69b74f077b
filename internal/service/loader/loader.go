package loader

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	apperrors "github.com/jwalitptl/reschedule-agent/pkg/errors"
)

// Format of an uploaded table.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// MaxUploadBytes bounds a single upload.
const MaxUploadBytes = 10 << 20

// Table is a parsed upload: its column set and rows in file order.
type Table struct {
	Columns []string
	Rows    []model.JSONMap
}

// DetectFormat picks the parser from the file name, then the content type,
// and finally the first non-blank byte of the body.
func DetectFormat(filename, contentType string, head []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case "":
	default:
		return "", apperrors.Validation("Unsupported file format. Use CSV or JSON")
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return FormatJSON, nil
	case strings.Contains(ct, "csv"):
		return FormatCSV, nil
	}

	trimmed := bytes.TrimLeft(head, " \t\r\n\ufeff")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return FormatJSON, nil
	}
	return FormatCSV, nil
}

// Parse reads a whole upload. Rows must all be objects (JSON) or share the
// header row (CSV). An upload with no rows is rejected.
func Parse(r io.Reader, filename, contentType string) (*Table, error) {
	cr := &countingReader{r: io.LimitReader(r, MaxUploadBytes+1)}
	br := bufio.NewReader(cr)
	head, _ := br.Peek(512)

	format, err := DetectFormat(filename, contentType, head)
	if err != nil {
		return nil, err
	}

	var t *Table
	switch format {
	case FormatJSON:
		t, err = parseJSON(br)
	default:
		t, err = parseCSV(br)
	}
	if cr.n > MaxUploadBytes {
		return nil, apperrors.Validation(fmt.Sprintf("uploaded file exceeds %d bytes", MaxUploadBytes))
	}
	if err != nil {
		return nil, err
	}
	if len(t.Rows) == 0 {
		return nil, apperrors.Validation("uploaded file has no rows")
	}
	return t, nil
}

func parseJSON(r io.Reader) (*Table, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw []interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, apperrors.BadRequest("invalid JSON upload", err)
	}

	seen := make(map[string]struct{})
	rows := make([]model.JSONMap, 0, len(raw))
	for i, item := range raw {
		obj, ok := item.(map[string]interface{})
		if !ok {
			return nil, apperrors.Validation(fmt.Sprintf("row %d is not an object", i+1))
		}
		for k := range obj {
			seen[k] = struct{}{}
		}
		rows = append(rows, model.JSONMap(obj))
	}

	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return &Table{Columns: cols, Rows: rows}, nil
}

func parseCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return &Table{}, nil
	}
	if err != nil {
		return nil, apperrors.BadRequest("invalid CSV upload", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
		if header[i] == "" {
			return nil, apperrors.Validation(fmt.Sprintf("column %d has no name", i+1))
		}
	}

	var rows []model.JSONMap
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.BadRequest("invalid CSV upload", err)
		}
		row := make(model.JSONMap, len(header))
		for i, col := range header {
			row[col] = rec[i]
		}
		rows = append(rows, row)
	}

	cols := append([]string(nil), header...)
	sort.Strings(cols)
	return &Table{Columns: cols, Rows: rows}, nil
}

// People converts table rows into call list entries.
func (t *Table) People() []model.Person {
	out := make([]model.Person, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = model.Person(r)
	}
	return out
}

// Slots converts table rows into appointment slots.
func (t *Table) Slots() []model.AppointmentSlot {
	out := make([]model.AppointmentSlot, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = model.AppointmentSlot(r)
	}
	return out
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
