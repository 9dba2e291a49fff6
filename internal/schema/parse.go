package schema

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

const commentChar = '#'

// ParseFile opens path and parses it with Parse.
func ParseFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening schema: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads comma-separated schema rows from r.
//
// Lines starting with '#' and blank lines are skipped. Every data row must
// have exactly ColumnCount columns. Rows with an unrecognized (method, kind)
// pair are returned as-is so the caller can report them; they are never an
// error. A resource key may appear at most once per method among recognized
// rows.
func Parse(r io.Reader) ([]Entry, error) {
	reader := csv.NewReader(r)
	reader.Comment = commentChar
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var entries []Entry
	seen := map[Method]map[string]int{
		MethodGet: {},
		MethodSet: {},
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				return nil, &Error{Line: parseErr.Line, Reason: parseErr.Err.Error()}
			}
			return nil, fmt.Errorf("reading schema: %w", err)
		}

		line, _ := reader.FieldPos(0)

		entry, err := parseRecord(record, line)
		if err != nil {
			return nil, err
		}

		if entry.Recognized() {
			if prev, dup := seen[entry.Method][entry.ResourceKey]; dup {
				return nil, &Error{
					Line:   line,
					Key:    entry.ResourceKey,
					Reason: fmt.Sprintf("duplicate resource key for method %q (first defined on line %d)", entry.Method, prev),
				}
			}
			seen[entry.Method][entry.ResourceKey] = line
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func parseRecord(record []string, line int) (Entry, error) {
	if len(record) != ColumnCount {
		return Entry{}, &Error{
			Line:   line,
			Reason: fmt.Sprintf("expected %d columns, got %d", ColumnCount, len(record)),
		}
	}

	for i := range record {
		record[i] = strings.TrimSpace(record[i])
	}

	e := Entry{
		ResourceKey: record[colResource],
		Method:      Method(strings.ToLower(record[colMethod])),
		Kind:        Kind(strings.ToLower(record[colKind])),
		Name:        record[colName],
		Icon:        record[colIcon],
		Unit:        record[colUnit],
		Line:        line,
	}

	if e.ResourceKey == "" {
		return Entry{}, &Error{Line: line, Reason: "resource key is empty"}
	}

	switch e.Kind {
	case KindClimate:
		e.CurrentTemp = record[colStateClassOrCurrentTemp]
		e.MinTemp = DefaultClimateMinTemp
		e.MaxTemp = DefaultClimateMaxTemp
		// Unrecognized rows are dropped later, so their bounds are not checked.
		if raw := record[colDeviceClassOrMaxTemp]; raw != "" && e.Recognized() {
			maxTemp, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return Entry{}, &Error{Line: line, Key: e.ResourceKey, Reason: fmt.Sprintf("max temperature %q is not a number", raw)}
			}
			if maxTemp <= e.MinTemp {
				return Entry{}, &Error{Line: line, Key: e.ResourceKey, Reason: fmt.Sprintf("max temperature %v must exceed %v", maxTemp, e.MinTemp)}
			}
			e.MaxTemp = maxTemp
		}
	default:
		e.StateClass = record[colStateClassOrCurrentTemp]
		e.DeviceClass = record[colDeviceClassOrMaxTemp]
	}

	return e, nil
}
