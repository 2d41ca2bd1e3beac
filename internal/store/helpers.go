package store

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/geoimport/internal/core"
)

// maxIdentifierLen is PostgreSQL's NAMEDATALEN-1.
const maxIdentifierLen = 63

// quoteIdentifier quotes a SQL identifier to prevent injection.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// escapeLike escapes the LIKE metacharacters of s for use with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// indexName builds "<table>_<column>_idx". A table name too long to fit is
// shortened and tagged with a hash of the full name, so tables sharing a
// long prefix still get distinct index names.
func indexName(table, column string) string {
	suffix := "_" + column + "_idx"
	if len(table)+len(suffix) <= maxIdentifierLen {
		return table + suffix
	}
	h := fnv.New32a()
	h.Write([]byte(table))
	suffix = fmt.Sprintf("_%08x", h.Sum32()) + suffix
	keep := maxIdentifierLen - len(suffix)
	if keep < 1 {
		keep = 1
	}
	for keep > 0 && keep < len(table) && !isRuneStart(table[keep]) {
		keep--
	}
	return table[:keep] + suffix
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// pgCode returns the SQLSTATE of err, or "" when err is not a server error.
func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// classify wraps a database error. duplicate_table also matches
// core.ErrTableExists.
func classify(op, target string, err error) error {
	switch pgCode(err) {
	case duplicateTable:
		return fmt.Errorf("%s %s: %w: %w", op, target, core.ErrTableExists, err)
	case undefinedTable:
		return fmt.Errorf("%s %s: table does not exist: %w", op, target, err)
	default:
		return fmt.Errorf("%s %s: %w", op, target, err)
	}
}
