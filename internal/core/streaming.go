package core

// streaming.go provides the readers used to scan delimited files without
// loading them into memory:
//
//   - newTextReader: strips a UTF-8 BOM and replaces invalid UTF-8 on the fly
//   - openDelimited: a csv.Reader over a file with a known delimiter
//   - sizeLimitReader: fails once more than a fixed number of bytes is read

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrFileTooLarge is returned when a source exceeds the configured size.
var ErrFileTooLarge = errors.New("file exceeds maximum size")

// newTextReader wraps r so that a leading byte order mark is dropped and
// ill-formed UTF-8 sequences are replaced with U+FFFD.
//
// Windows programs commonly prefix CSV exports with a BOM, which would
// otherwise end up in the first column name.
func newTextReader(r io.Reader) io.Reader {
	return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
}

// readHeaderLine returns the first line of the file at path without its
// line terminator. An empty file yields ErrEmptyResult.
func readHeaderLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	line, err := bufio.NewReader(newTextReader(f)).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" && errors.Is(err, io.EOF) {
		return "", newError(ErrEmptyResult, "infer schema", path, nil)
	}
	return line, nil
}

// openDelimited opens path as a delimited file. Quotes are parsed leniently
// and rows may have any number of fields; callers pad or truncate.
func openDelimited(path string, delim rune) (*csv.Reader, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	r := csv.NewReader(newTextReader(f))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	return r, f, nil
}

// sizeLimitReader counts the bytes read through it and fails with
// ErrFileTooLarge once more than Limit bytes have been read. A Limit of
// zero or less disables the check.
type sizeLimitReader struct {
	reader    io.Reader
	Limit     int64
	BytesRead int64
}

func newSizeLimitReader(r io.Reader, limit int64) *sizeLimitReader {
	return &sizeLimitReader{reader: r, Limit: limit}
}

func (r *sizeLimitReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	if r.Limit > 0 && r.BytesRead > r.Limit {
		return n, ErrFileTooLarge
	}
	return n, err
}
