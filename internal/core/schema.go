package core

// schema.go infers the dialect and column types of a delimited text file.
//
// The whole file is scanned once. Column types only widen while scanning:
//
//	unset -> integer -> float -> varchar
//
// Blank fields leave a column's type untouched; a column that never sees a
// value ends up varchar.

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// ColumnType is an inferred column type. Values are ordered by width.
type ColumnType int

const (
	TypeUnset ColumnType = iota
	TypeInteger
	TypeFloat
	TypeVarchar
)

func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "float"
	case TypeVarchar:
		return "varchar"
	default:
		return "unset"
	}
}

// SQLType returns the PostgreSQL type used to store the column.
func (t ColumnType) SQLType() string {
	switch t {
	case TypeInteger:
		return "integer"
	case TypeFloat:
		return "double precision"
	default:
		return "varchar"
	}
}

// widen returns the wider of t and other.
func (t ColumnType) widen(other ColumnType) ColumnType {
	if other > t {
		return other
	}
	return t
}

// Column is one inferred column.
type Column struct {
	Name string
	Type ColumnType
}

// ColumnSchema is the ordered list of columns of a delimited file.
type ColumnSchema []Column

// Names returns the column names in order.
func (s ColumnSchema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// reservedColumns are physical or loader-owned column names that cannot be
// used for user data.
var reservedColumns = toSet([]string{
	"oid", "tableoid", "xmin", "cmin", "xmax", "cmax", "ctid", "ogc_fid", "gid",
})

var (
	integerPattern = regexp.MustCompile(`^-?[0-9]+$`)
	floatPattern   = regexp.MustCompile(`^-?[0-9]+[.,][0-9]+$`)
)

// classify returns the narrowest type that can hold v. v must not be blank.
func classify(v string) ColumnType {
	switch {
	case integerPattern.MatchString(v):
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n > math.MaxInt32 || n < math.MinInt32 {
			return TypeFloat
		}
		return TypeInteger
	case floatPattern.MatchString(v):
		return TypeFloat
	default:
		return TypeVarchar
	}
}

const defaultDelimiter = ','

// InferSchema detects the delimiter of the file at path and infers its
// column schema from the header and every data row. A file without a header
// line fails with ErrEmptyResult.
func InferSchema(path string) (rune, ColumnSchema, error) {
	header, err := readHeaderLine(path)
	if err != nil {
		return 0, nil, err
	}
	delim := detectDelimiter(header)

	r, closer, err := openDelimited(path, delim)
	if err != nil {
		return 0, nil, err
	}
	defer closer.Close()

	record, err := r.Read()
	if errors.Is(err, io.EOF) {
		return 0, nil, newError(ErrEmptyResult, "infer schema", path, nil)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("read csv header: %w", err)
	}
	schema := columnsFromHeader(record)

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, nil, fmt.Errorf("read csv row: %w", err)
		}
		for i := 0; i < len(record) && i < len(schema); i++ {
			v := strings.TrimSpace(record[i])
			if v == "" {
				continue
			}
			schema[i].Type = schema[i].Type.widen(classify(v))
		}
	}

	for i := range schema {
		if schema[i].Type == TypeUnset {
			schema[i].Type = TypeVarchar
		}
	}
	return delim, schema, nil
}

// columnsFromHeader turns raw header fields into unique column identifiers.
func columnsFromHeader(header []string) ColumnSchema {
	schema := make(ColumnSchema, 0, len(header))
	used := make(map[string]bool, len(header))
	blanks := 0

	for _, h := range header {
		name := SanitizeIdentifier(h)
		if name == "" {
			blanks++
			name = fmt.Sprintf("unknow_name_%d", blanks)
		}
		if reservedColumns[name] {
			name = "_" + name
		}
		if used[name] {
			base := name
			for n := 1; used[name]; n++ {
				name = fmt.Sprintf("%s_%d", base, n)
			}
		}
		used[name] = true
		schema = append(schema, Column{Name: name, Type: TypeUnset})
	}
	return schema
}

// detectDelimiter picks the delimiter for a header line. When the line holds
// more than one comma-separated field the delimiter is ','. Otherwise every
// punctuation or symbol character in the line is tried, and the one splitting
// it into the most fields wins; ties go to the candidate seen first.
func detectDelimiter(line string) rune {
	if countFields(line, defaultDelimiter) != 1 {
		return defaultDelimiter
	}

	best, bestFields := rune(defaultDelimiter), 1
	for _, c := range delimiterCandidates(line) {
		if n := countFields(line, c); n > bestFields {
			best, bestFields = c, n
		}
	}
	return best
}

// delimiterCandidates returns the distinct characters of line that could
// act as a delimiter, in first-seen order.
func delimiterCandidates(line string) []rune {
	var out []rune
	seen := make(map[rune]bool)
	for _, c := range line {
		if seen[c] || !validDelimiter(c) {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func validDelimiter(c rune) bool {
	if c == '"' || c == '_' || c == '\r' || c == '\n' || c == unicode.ReplacementChar {
		return false
	}
	return !unicode.IsLetter(c) && !unicode.IsDigit(c) && !unicode.IsSpace(c) && unicode.IsPrint(c)
}

// countFields returns how many fields line splits into with delim, or 0 if
// the line cannot be parsed.
func countFields(line string, delim rune) int {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return 0
	}
	return len(record)
}
