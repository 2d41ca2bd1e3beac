package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/geoimport/internal/core"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"cities", `"cities"`},
		{"Mixed Case", `"Mixed Case"`},
		{`a"b`, `"a""b"`},
		{"", `""`},
	}
	for _, tt := range tests {
		if got := quoteIdentifier(tt.input); got != tt.want {
			t.Errorf("quoteIdentifier(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"cities", "cities"},
		{"world_cities", `world\_cities`},
		{"100%", `100\%`},
		{`a\b`, `a\\b`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.input); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestIndexName(t *testing.T) {
	if got := indexName("roads", "the_geom"); got != "roads_the_geom_idx" {
		t.Errorf("indexName = %q", got)
	}

	long := strings.Repeat("t", 63)
	got := indexName(long, "the_geom")
	if len(got) > maxIdentifierLen {
		t.Errorf("len(indexName) = %d, want <= %d", len(got), maxIdentifierLen)
	}
	if !strings.HasSuffix(got, "_the_geom_idx") {
		t.Errorf("indexName lost suffix: %q", got)
	}

	prefix := strings.Repeat("p", 55)
	first, second := indexName(prefix+"_1", "the_geom"), indexName(prefix+"_2", "the_geom")
	if first == second {
		t.Errorf("tables sharing a long prefix got the same index name %q", first)
	}
	for _, name := range []string{first, second} {
		if len(name) > maxIdentifierLen {
			t.Errorf("len(%q) = %d, want <= %d", name, len(name), maxIdentifierLen)
		}
	}
	if again := indexName(prefix+"_1", "the_geom"); again != first {
		t.Errorf("indexName not stable: %q then %q", first, again)
	}

	multibyte := strings.Repeat("é", 30)
	got = indexName(multibyte, "the_geom")
	if len(got) > maxIdentifierLen || !strings.HasSuffix(got, "_the_geom_idx") {
		t.Errorf("indexName(multibyte) = %q", got)
	}
	for i := 0; i < len(got); {
		if !isRuneStart(got[i]) {
			t.Fatalf("indexName split a character: %q", got)
		}
		if got[i] < 0x80 {
			i++
		} else {
			i += 2
		}
	}
}

func TestClassify(t *testing.T) {
	dup := &pgconn.PgError{Code: "42P07", Message: `relation "cities" already exists`}
	err := classify("create table", "cities", dup)
	if !errors.Is(err, core.ErrTableExists) {
		t.Errorf("duplicate_table should match ErrTableExists: %v", err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "42P07" {
		t.Errorf("classified error lost the server error: %v", err)
	}

	missing := &pgconn.PgError{Code: "42P01"}
	err = classify("count rows", "nope", missing)
	if errors.Is(err, core.ErrTableExists) {
		t.Error("undefined_table matched ErrTableExists")
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("err = %v", err)
	}

	other := errors.New("connection reset by peer")
	err = classify("drop table", "x", other)
	if !errors.Is(err, other) || errors.Is(err, core.ErrTableExists) {
		t.Errorf("err = %v", err)
	}
}

func TestPgCode(t *testing.T) {
	if got := pgCode(errors.New("plain")); got != "" {
		t.Errorf("pgCode(plain) = %q", got)
	}
	if got := pgCode(&pgconn.PgError{Code: "40P01"}); got != "40P01" {
		t.Errorf("pgCode = %q", got)
	}
}

func TestSchemaOrDefault(t *testing.T) {
	if got := schemaOrDefault(""); got != DefaultSchema {
		t.Errorf("schemaOrDefault(\"\") = %q", got)
	}
	if got := schemaOrDefault("gis"); got != "gis" {
		t.Errorf("schemaOrDefault(gis) = %q", got)
	}
}
