package core

// convert.go turns delimited-file fields into values for COPY.
//
// Each converter returns a pgtype value with Valid=false for blank input so
// the column is loaded as NULL.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// ToPgInt4 parses an integer field.
func ToPgInt4(s string) (pgtype.Int4, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Int4{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return pgtype.Int4{}, fmt.Errorf("parse integer %q: %w", s, err)
	}
	return pgtype.Int4{Int32: int32(n), Valid: true}, nil
}

// ToPgFloat8 parses a float field. A comma decimal separator is accepted.
func ToPgFloat8(s string) (pgtype.Float8, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Float8{}, nil
	}
	f, err := parseDecimal(s)
	if err != nil {
		return pgtype.Float8{}, err
	}
	return pgtype.Float8{Float64: f, Valid: true}, nil
}

// ToPgText keeps a field verbatim. Only blank fields become NULL.
func ToPgText(s string) pgtype.Text {
	if isBlank(s) {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

func parseDecimal(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float %q: %w", s, err)
	}
	return f, nil
}

// convertField converts one field according to the inferred column type.
func convertField(s string, t ColumnType) (any, error) {
	switch t {
	case TypeInteger:
		return ToPgInt4(s)
	case TypeFloat:
		return ToPgFloat8(s)
	default:
		return ToPgText(s), nil
	}
}

// csvRowSource feeds the data rows of a delimited file to pgx's COPY.
// It implements pgx.CopyFromSource.
type csvRowSource struct {
	reader *csv.Reader
	schema ColumnSchema
	values []any
	line   int
	err    error

	// ragged counts rows longer than the header; the extra fields are
	// dropped.
	ragged int
}

func newCSVRowSource(r *csv.Reader, schema ColumnSchema) *csvRowSource {
	return &csvRowSource{reader: r, schema: schema, values: make([]any, len(schema))}
}

// skipHeader consumes the header record.
func (s *csvRowSource) skipHeader() error {
	_, err := s.reader.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read csv header: %w", err)
	}
	s.line = 1
	return nil
}

func (s *csvRowSource) Next() bool {
	if s.err != nil {
		return false
	}

	record, err := s.reader.Read()
	if errors.Is(err, io.EOF) {
		return false
	}
	if err != nil {
		s.err = fmt.Errorf("read csv row: %w", err)
		return false
	}
	s.line++

	if len(record) > len(s.schema) {
		s.ragged++
	}
	for i, col := range s.schema {
		if i >= len(record) {
			s.values[i] = nil
			continue
		}
		v, err := convertField(record[i], col.Type)
		if err != nil {
			s.err = fmt.Errorf("line %d, column %s: %w", s.line, col.Name, err)
			return false
		}
		s.values[i] = v
	}
	return true
}

func (s *csvRowSource) Values() ([]any, error) { return s.values, s.err }

func (s *csvRowSource) Err() error { return s.err }
