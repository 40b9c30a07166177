// Package intake turns submitted payloads into probe records and writes
// outcomes back out as CSV.
package intake

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/JakeFAU/urlhealth/internal/probe"
)

var (
	// ErrMalformed marks a payload that cannot be decoded at all.
	ErrMalformed = errors.New("malformed records payload")
	// ErrNoRecords marks a CSV upload with no usable rows.
	ErrNoRecords = errors.New("no valid records")
)

// wireRecord distinguishes a missing field from an empty one.
type wireRecord struct {
	ID  *string `json:"id"`
	URL *string `json:"url"`
}

// DecodeJSON reads a JSON array of {"id", "url"} objects. Both fields must be
// present strings; an empty url is accepted and later reported as invalid.
// An empty array yields an empty batch.
func DecodeJSON(r io.Reader) ([]probe.Record, error) {
	var wire []wireRecord
	dec := json.NewDecoder(r)
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after array", ErrMalformed)
	}
	records := make([]probe.Record, 0, len(wire))
	for i, w := range wire {
		switch {
		case w.ID == nil:
			return nil, fmt.Errorf("%w: record %d: missing id", ErrMalformed, i)
		case w.URL == nil:
			return nil, fmt.Errorf("%w: record %d: missing url", ErrMalformed, i)
		}
		records = append(records, probe.Record{ID: *w.ID, URL: *w.URL})
	}
	return records, nil
}

// CSVStats reports how a CSV upload was cleaned.
type CSVStats struct {
	// Rows counts data rows read, excluding the header.
	Rows int
	// DroppedEmpty counts rows whose id or url was missing or blank.
	DroppedEmpty int
	// DroppedDuplicate counts repeats of an (id, url) pair already kept.
	DroppedDuplicate int
}

type pairKey struct {
	id, url string
}

// ParseCSV reads a CSV upload whose first row is a header. The first column
// is the record id and the second the url; other columns are ignored. Rows
// with a blank id or url are dropped, as are repeated (id, url) pairs.
// ErrNoRecords is returned when nothing is left.
func ParseCSV(r io.Reader) ([]probe.Record, CSVStats, error) {
	var stats CSVStats
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, stats, ErrNoRecords
		}
		return nil, stats, fmt.Errorf("%w: header: %w", ErrMalformed, err)
	}

	var records []probe.Record
	seen := make(map[pairKey]struct{})
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		stats.Rows++
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" || strings.TrimSpace(row[1]) == "" {
			stats.DroppedEmpty++
			continue
		}
		key := pairKey{id: row[0], url: row[1]}
		if _, dup := seen[key]; dup {
			stats.DroppedDuplicate++
			continue
		}
		seen[key] = struct{}{}
		records = append(records, probe.Record{ID: row[0], URL: row[1]})
	}
	if len(records) == 0 {
		return nil, stats, ErrNoRecords
	}
	return records, stats, nil
}

// ResultHeader is the column layout written by ResultWriter.
var ResultHeader = []string{"id", "domain", "protocol", "response_code", "response_time", "full_response"}

// ResultWriter streams outcomes as CSV rows under ResultHeader.
type ResultWriter struct {
	w      *csv.Writer
	header bool
}

// NewResultWriter wraps w. The header is written with the first row.
func NewResultWriter(w io.Writer) *ResultWriter {
	return &ResultWriter{w: csv.NewWriter(w)}
}

// Write appends one outcome.
func (rw *ResultWriter) Write(o probe.Outcome) error {
	if !rw.header {
		if err := rw.w.Write(ResultHeader); err != nil {
			return fmt.Errorf("write results header: %w", err)
		}
		rw.header = true
	}
	row := []string{
		o.ID,
		o.Domain,
		o.Protocol,
		strconv.Itoa(o.StatusCode),
		strconv.FormatInt(o.LatencyMillis, 10),
		o.Summary,
	}
	if err := rw.w.Write(row); err != nil {
		return fmt.Errorf("write result %q: %w", o.ID, err)
	}
	return nil
}

// Flush writes buffered rows and writes the header if no row was written.
func (rw *ResultWriter) Flush() error {
	if !rw.header {
		if err := rw.w.Write(ResultHeader); err != nil {
			return fmt.Errorf("write results header: %w", err)
		}
		rw.header = true
	}
	rw.w.Flush()
	if err := rw.w.Error(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}
	return nil
}
