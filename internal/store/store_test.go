package store

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/geoimport/internal/core"
)

// testStore connects to GEOIMPORT_TEST_DATABASE_URL, which must point at a
// database with the postgis extension, and works in a throwaway schema.
func testStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("GEOIMPORT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("GEOIMPORT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	schema := "geoimport_test_" + uuid.NewString()[:8]
	admin, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	_, err = admin.Exec(ctx, "CREATE SCHEMA "+quoteIdentifier(schema))
	require.NoError(t, err)
	t.Cleanup(func() {
		admin.Exec(context.Background(), "DROP SCHEMA "+quoteIdentifier(schema)+" CASCADE")
		admin.Close(context.Background())
	})

	s, err := Connect(ctx, url, schema)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestStore_TablesAndCopy(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	schema := core.ColumnSchema{
		{Name: "name", Type: core.TypeVarchar},
		{Name: "pop", Type: core.TypeInteger},
		{Name: "area", Type: core.TypeFloat},
	}
	require.NoError(t, s.CreateTable(ctx, "Cities", schema))
	require.NoError(t, s.CreateTable(ctx, "cities_1", schema))
	require.NoError(t, s.CreateTable(ctx, "towns", schema))

	err := s.CreateTable(ctx, "towns", schema)
	assert.ErrorIs(t, err, core.ErrTableExists)

	names, err := s.TableNames(ctx, "cit")
	require.NoError(t, err)
	assert.Equal(t, []string{"Cities", "cities_1"}, names)

	all, err := s.TableNames(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	rows := [][]any{
		{pgtype.Text{String: "Oslo", Valid: true}, pgtype.Int4{Int32: 700000, Valid: true}, pgtype.Float8{Float64: 454, Valid: true}},
		{pgtype.Text{String: "Bergen", Valid: true}, pgtype.Int4{}, pgtype.Float8{}},
	}
	n, err := s.CopyRows(ctx, "Cities", schema.Names(), pgx.CopyFromRows(rows))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, s.CopyTable(ctx, "Cities", "cities_copy"))
	count, err := s.CountRows(ctx, "cities_copy")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.ErrorIs(t, s.CopyTable(ctx, "Cities", "towns"), core.ErrTableExists)

	cols, err := s.Columns(ctx, "cities_copy")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "pop", "area"}, cols)

	v, ok, err := s.SampleValue(ctx, "Cities", "pop")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "700000", v)

	require.NoError(t, s.DropTable(ctx, "cities_copy"))
	require.NoError(t, s.DropTable(ctx, "cities_copy"), "dropping a missing table is not an error")
}

func TestStore_Geometry(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateTable(ctx, "pts", core.ColumnSchema{
		{Name: "lat", Type: core.TypeFloat},
		{Name: "lon", Type: core.TypeFloat},
	}))
	_, err := s.CopyRows(ctx, "pts", []string{"lat", "lon"}, pgx.CopyFromRows([][]any{
		{pgtype.Float8{Float64: 59.9, Valid: true}, pgtype.Float8{Float64: 10.7, Valid: true}},
		{pgtype.Float8{}, pgtype.Float8{Float64: 5.3, Valid: true}},
	}))
	require.NoError(t, err)

	require.NoError(t, s.AddGeometryColumn(ctx, "pts", "the_geom", 4326, "POINT"))
	err = s.UpdateGeometry(ctx, "pts", "the_geom", 4326, []string{"lat", "lon"}, func(r core.Row) ([]byte, error) {
		if r.Values[0] == nil {
			return nil, nil
		}
		return wkb.Marshal(orb.Point{10.7, 59.9})
	})
	require.NoError(t, err)
	require.NoError(t, s.CreateSpatialIndex(ctx, "pts", "the_geom"))

	var wkt string
	err = s.conn.QueryRow(ctx, "SELECT ST_AsText(the_geom) FROM "+s.qualified("pts")+" WHERE the_geom IS NOT NULL").Scan(&wkt)
	require.NoError(t, err)
	assert.Equal(t, "POINT(10.7 59.9)", wkt)

	require.NoError(t, s.RenameColumn(ctx, "pts", "lat", "latitude"))
	require.NoError(t, s.DropColumn(ctx, "pts", "lon"))
	cols, err := s.Columns(ctx, "pts")
	require.NoError(t, err)
	assert.Equal(t, []string{"latitude", "the_geom"}, cols)

	_, ok, err := s.SampleValue(ctx, "pts", "latitude")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStore_UpdateGeometryPages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := geometryBatchSize
	geometryBatchSize = 2
	t.Cleanup(func() { geometryBatchSize = old })

	require.NoError(t, s.CreateTable(ctx, "grid", core.ColumnSchema{{Name: "x", Type: core.TypeInteger}}))
	var src [][]any
	for i := 0; i < 5; i++ {
		src = append(src, []any{pgtype.Int4{Int32: int32(i), Valid: true}})
	}
	_, err := s.CopyRows(ctx, "grid", []string{"x"}, pgx.CopyFromRows(src))
	require.NoError(t, err)
	require.NoError(t, s.AddGeometryColumn(ctx, "grid", "the_geom", 4326, "POINT"))

	countGeoms := func() int {
		var n int
		err := s.conn.QueryRow(ctx, "SELECT count(the_geom) FROM "+s.qualified("grid")).Scan(&n)
		require.NoError(t, err)
		return n
	}

	// A failure part way through leaves no geometry behind.
	seen := 0
	err = s.UpdateGeometry(ctx, "grid", "the_geom", 4326, []string{"x"}, func(core.Row) ([]byte, error) {
		if seen++; seen == 4 {
			return nil, assert.AnError
		}
		return wkb.Marshal(orb.Point{1, 1})
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 0, countGeoms())

	seen = 0
	err = s.UpdateGeometry(ctx, "grid", "the_geom", 4326, []string{"x"}, func(r core.Row) ([]byte, error) {
		seen++
		return wkb.Marshal(orb.Point{float64(seen), 0})
	})
	require.NoError(t, err)
	assert.Equal(t, 5, seen, "every row visited once across pages")
	assert.Equal(t, 5, countGeoms())
}

func TestStore_CopyTableKeepsIndexes(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.conn.Exec(ctx, fmt.Sprintf(
		"CREATE TABLE %[1]s (gid serial PRIMARY KEY, the_geom geometry(POINT,4326)); CREATE INDEX ON %[1]s USING gist (the_geom); INSERT INTO %[1]s (the_geom) VALUES (ST_SetSRID(ST_MakePoint(1, 2), 4326))",
		s.qualified("staging_roads")))
	require.NoError(t, err)

	require.NoError(t, s.CopyTable(ctx, "staging_roads", "roads"))
	require.NoError(t, s.DropTable(ctx, "staging_roads"))

	count, err := s.CountRows(ctx, "roads")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var gist int
	err = s.conn.QueryRow(ctx,
		"SELECT count(*) FROM pg_indexes WHERE schemaname = $1 AND tablename = $2 AND indexdef ILIKE '%USING gist%'",
		s.schema, "roads").Scan(&gist)
	require.NoError(t, err)
	assert.Equal(t, 1, gist, "spatial index survives the copy")
}

func TestStore_SpatialIndexLongNames(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	prefix := strings.Repeat("p", 55)
	for _, table := range []string{prefix + "_1", prefix + "_2"} {
		require.NoError(t, s.CreateTable(ctx, table, core.ColumnSchema{{Name: "a", Type: core.TypeVarchar}}))
		require.NoError(t, s.AddGeometryColumn(ctx, table, "the_geom", 4326, "POINT"))
		require.NoError(t, s.CreateSpatialIndex(ctx, table, "the_geom"), "index on %s", table)
	}
}
