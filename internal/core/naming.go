package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// maxIdentifierLen is PostgreSQL's NAMEDATALEN-1. Longer names are silently
// truncated by the server, which would defeat collision checks.
const maxIdentifierLen = 63

// TableLister lists existing table names by prefix.
type TableLister interface {
	TableNames(ctx context.Context, prefix string) ([]string, error)
}

// Resolve returns a table name based on desired that is not in existing.
// Names are compared case-insensitively. If desired is free it is returned
// unchanged; otherwise the first free "<desired>_<n>" for n = 1, 2, ... is
// returned. A desired name starting with a digit is prefixed with an
// underscore first, and names are kept within PostgreSQL's identifier
// length.
func Resolve(desired string, existing []string) string {
	desired = truncateIdentifier(leadingDigitSafe(desired), maxIdentifierLen)

	taken := make(map[string]bool, len(existing))
	for _, name := range existing {
		taken[strings.ToLower(name)] = true
	}
	if !taken[strings.ToLower(desired)] {
		return desired
	}

	for n := 1; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		candidate := truncateIdentifier(desired, maxIdentifierLen-len(suffix)) + suffix
		if !taken[strings.ToLower(candidate)] {
			return candidate
		}
	}
}

// ResolveName resolves desired against the tables currently in the store.
//
// The result is only free at the time of the check: a concurrent import may
// claim it before this request creates it. Callers must treat ErrTableExists
// on creation as ErrNameCollision.
func ResolveName(ctx context.Context, lister TableLister, desired string) (string, error) {
	desired = leadingDigitSafe(desired)
	if desired == "" {
		return "", newError(ErrInvalidRequest, "resolve table name", "", fmt.Errorf("empty table name"))
	}

	prefix := truncateIdentifier(desired, maxIdentifierLen-2)
	existing, err := lister.TableNames(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("list tables with prefix %q: %w", prefix, err)
	}
	return Resolve(desired, existing), nil
}

func leadingDigitSafe(name string) string {
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		return "_" + name
	}
	return name
}

// truncateIdentifier shortens name to at most n bytes without splitting a
// multi-byte character.
func truncateIdentifier(name string, n int) string {
	if len(name) <= n {
		return name
	}
	cut := n
	for cut > 0 && !isRuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
