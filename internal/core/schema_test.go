package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInferSchema_ColumnTypes(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   ColumnType
	}{
		{"mixed integer and decimal", []string{"1", "2", "3.5"}, TypeFloat},
		{"all integers", []string{"1", "2", "3"}, TypeInteger},
		{"max int32", []string{"2147483647"}, TypeInteger},
		{"above int32", []string{"2147483648"}, TypeFloat},
		{"below int32", []string{"-2147483649"}, TypeFloat},
		{"integer then text", []string{"1", "abc"}, TypeVarchar},
		{"negative integers", []string{"-4", "12"}, TypeInteger},
		{"comma decimal", []string{"3,25"}, TypeFloat},
		{"float never narrows", []string{"1.5", "2"}, TypeFloat},
		{"float then text", []string{"1.5", "n/a"}, TypeVarchar},
		{"text then number", []string{"abc", "1"}, TypeVarchar},
		{"blanks ignored", []string{"", "7", "  "}, TypeInteger},
		{"only blanks", []string{"", ""}, TypeVarchar},
		{"huge integer", []string{"99999999999999999999999"}, TypeFloat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Blank lines are skipped by the reader, so a second column keeps
			// blank values in place.
			content := "value,pad\n"
			for _, v := range tt.values {
				content += v + ",x\n"
			}
			path := writeFile(t, "types.csv", content)

			delim, schema, err := InferSchema(path)
			require.NoError(t, err)
			assert.Equal(t, ',', delim)
			require.Len(t, schema, 2)
			assert.Equal(t, tt.want, schema[0].Type, "values %q", tt.values)
		})
	}
}

func TestInferSchema_DetectsDelimiter(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantDelim rune
		wantCols  []string
	}{
		{"semicolon", "a;b;c\n1;2;3\n", ';', []string{"a", "b", "c"}},
		{"colon", "a:b\n1:2\n", ':', []string{"a", "b"}},
		{"pipe beats dot", "x.y|z|w\n1|2|3\n", '|', []string{"x_y", "z", "w"}},
		{"comma wins when it splits", "a,b;c\n1,2\n", ',', []string{"a", "b_c"}},
		{"single column", "name\nfoo\n", ',', []string{"name"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "delim.csv", tt.content)

			delim, schema, err := InferSchema(path)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDelim, delim)
			assert.Equal(t, tt.wantCols, schema.Names())
		})
	}
}

func TestInferSchema_HeaderNames(t *testing.T) {
	path := writeFile(t, "headers.csv",
		"\ufeffName,,Select,2020 Total,ctid,gid,name,  ,Straße\n"+
			"a,b,c,1,2,3,d,e,f\n")

	_, schema, err := InferSchema(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"name",
		"unknow_name_1",
		"_select",
		"_2020_total",
		"_ctid",
		"_gid",
		"name_1",
		"unknow_name_2",
		"strasse",
	}, schema.Names())
}

func TestInferSchema_RaggedRows(t *testing.T) {
	path := writeFile(t, "ragged.csv", "a,b\n1\n2,3,4\n")

	_, schema, err := InferSchema(path)
	require.NoError(t, err)
	assert.Equal(t, TypeInteger, schema[0].Type)
	assert.Equal(t, TypeInteger, schema[1].Type)
}

func TestInferSchema_QuotedFields(t *testing.T) {
	path := writeFile(t, "quoted.csv", "\"city\",\"pop\"\n\"Madrid, ES\",\"3223000\"\n")

	_, schema, err := InferSchema(path)
	require.NoError(t, err)
	assert.Equal(t, ColumnSchema{{"city", TypeVarchar}, {"pop", TypeInteger}}, schema)
}

func TestInferSchema_Empty(t *testing.T) {
	path := writeFile(t, "empty.csv", "")

	_, _, err := InferSchema(path)
	assert.True(t, errors.Is(err, ErrEmptyResult), "got %v", err)
}

func TestInferSchema_HeaderOnly(t *testing.T) {
	path := writeFile(t, "header.csv", "a,b\n")

	_, schema, err := InferSchema(path)
	require.NoError(t, err)
	assert.Equal(t, ColumnSchema{{"a", TypeVarchar}, {"b", TypeVarchar}}, schema)
}

func TestColumnType_SQLType(t *testing.T) {
	assert.Equal(t, "integer", TypeInteger.SQLType())
	assert.Equal(t, "double precision", TypeFloat.SQLType())
	assert.Equal(t, "varchar", TypeVarchar.SQLType())
	assert.Equal(t, "varchar", TypeUnset.SQLType())
}

func TestDelimiterCandidates(t *testing.T) {
	got := delimiterCandidates(`a;b|c;"d"_e f`)
	assert.Equal(t, []rune{';', '|'}, got)
}
