// Package store implements the import pipeline's relational and spatial
// store on PostgreSQL with PostGIS, using pgx.
//
// Every Store wraps one dedicated connection. Imported tables live in a
// single target schema; all names are quoted so mixed-case or reserved
// names round-trip unchanged.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/geoimport/internal/core"
)

// DefaultSchema is used when no schema is configured.
const DefaultSchema = "public"

// SQLSTATE codes the store classifies.
const (
	duplicateTable = "42P07"
	undefinedTable = "42P01"
)

// conn is the subset of *pgx.Conn and *pgxpool.Conn the store uses.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a core.Store over one PostgreSQL connection.
type Store struct {
	conn    conn
	schema  string
	release func(ctx context.Context) error
}

var _ core.Store = (*Store)(nil)

// Connect opens a dedicated connection. The CLI uses it for its single import.
func Connect(ctx context.Context, connString, schema string) (*Store, error) {
	c, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &Store{conn: c, schema: schemaOrDefault(schema), release: c.Close}, nil
}

// DirectConnector opens a new connection per import.
type DirectConnector struct {
	ConnString string
	Schema     string
}

// Connect implements core.Connector.
func (d DirectConnector) Connect(ctx context.Context) (core.Store, error) {
	return Connect(ctx, d.ConnString, d.Schema)
}

// PoolConnector hands each import a connection acquired from a pool.
type PoolConnector struct {
	Pool   *pgxpool.Pool
	Schema string
}

// Connect implements core.Connector. Closing the store returns the
// connection to the pool.
func (p PoolConnector) Connect(ctx context.Context) (core.Store, error) {
	c, err := p.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	release := func(context.Context) error {
		c.Release()
		return nil
	}
	return &Store{conn: c, schema: schemaOrDefault(p.Schema), release: release}, nil
}

// Schema returns the target schema.
func (s *Store) Schema() string { return s.schema }

// Close releases the connection. It is safe to call more than once.
func (s *Store) Close(ctx context.Context) error {
	if s.release == nil {
		return nil
	}
	release := s.release
	s.release = nil
	return release(ctx)
}

// TableNames lists tables whose name starts with prefix, ignoring case.
func (s *Store) TableNames(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		  AND lower(table_name) LIKE $2 ESCAPE '\'
		ORDER BY table_name`,
		s.schema, escapeLike(strings.ToLower(prefix))+"%")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return names, nil
}

// CreateTable creates table with one column per schema entry.
func (s *Store) CreateTable(ctx context.Context, table string, schema core.ColumnSchema) error {
	if len(schema) == 0 {
		return fmt.Errorf("create table %s: no columns", table)
	}
	defs := make([]string, len(schema))
	for i, col := range schema {
		defs[i] = quoteIdentifier(col.Name) + " " + col.Type.SQLType()
	}
	sql := fmt.Sprintf("CREATE TABLE %s (%s)", s.qualified(table), strings.Join(defs, ", "))
	if _, err := s.conn.Exec(ctx, sql); err != nil {
		return classify("create table", table, err)
	}
	return nil
}

// CopyRows bulk-loads rows with COPY FROM STDIN.
func (s *Store) CopyRows(ctx context.Context, table string, columns []string, src pgx.CopyFromSource) (int64, error) {
	n, err := s.conn.CopyFrom(ctx, pgx.Identifier{s.schema, table}, columns, src)
	if err != nil {
		return n, fmt.Errorf("copy into %s: %w", table, err)
	}
	return n, nil
}

// CopyTable creates dst with the rows and columns of src.
func (s *Store) CopyTable(ctx context.Context, src, dst string) error {
	// Both statements run in one implicit transaction. INCLUDING INDEXES
	// keeps the loader's spatial index; defaults are left out so dst does
	// not depend on src's sequences.
	sql := fmt.Sprintf("CREATE TABLE %[1]s (LIKE %[2]s INCLUDING INDEXES); INSERT INTO %[1]s SELECT * FROM %[2]s",
		s.qualified(dst), s.qualified(src))
	if _, err := s.conn.Exec(ctx, sql); err != nil {
		return classify("copy table", dst, err)
	}
	return nil
}

// CountRows returns the number of rows in table.
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.conn.QueryRow(ctx, "SELECT count(*) FROM "+s.qualified(table)).Scan(&n); err != nil {
		return 0, classify("count rows", table, err)
	}
	return n, nil
}

// DropTable drops table if it exists.
func (s *Store) DropTable(ctx context.Context, table string) error {
	if _, err := s.conn.Exec(ctx, "DROP TABLE IF EXISTS "+s.qualified(table)); err != nil {
		return classify("drop table", table, err)
	}
	return nil
}

// Columns lists the columns of table in ordinal order.
func (s *Store) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`,
		s.schema, table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	return cols, nil
}

// SampleValue returns the first non-NULL value of column as text.
func (s *Store) SampleValue(ctx context.Context, table, column string) (string, bool, error) {
	col := quoteIdentifier(column)
	sql := fmt.Sprintf("SELECT %s::text FROM %s WHERE %s IS NOT NULL LIMIT 1", col, s.qualified(table), col)

	var v string
	err := s.conn.QueryRow(ctx, sql).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("sample column", table+"."+column, err)
	}
	return v, true, nil
}

// RenameColumn renames a column of table.
func (s *Store) RenameColumn(ctx context.Context, table, from, to string) error {
	sql := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", s.qualified(table), quoteIdentifier(from), quoteIdentifier(to))
	if _, err := s.conn.Exec(ctx, sql); err != nil {
		return classify("rename column", table+"."+from, err)
	}
	return nil
}

// AddGeometryColumn registers a two-dimensional geometry column with PostGIS.
func (s *Store) AddGeometryColumn(ctx context.Context, table, column string, srid int, geomType string) error {
	_, err := s.conn.Exec(ctx,
		"SELECT AddGeometryColumn($1::varchar, $2::varchar, $3::varchar, $4::integer, $5::varchar, 2)",
		s.schema, table, column, srid, geomType)
	if err != nil {
		return classify("add geometry column", table+"."+column, err)
	}
	return nil
}

// CreateSpatialIndex creates a GiST index on column.
func (s *Store) CreateSpatialIndex(ctx context.Context, table, column string) error {
	sql := fmt.Sprintf("CREATE INDEX %s ON %s USING gist (%s)",
		quoteIdentifier(indexName(table, column)), s.qualified(table), quoteIdentifier(column))
	if _, err := s.conn.Exec(ctx, sql); err != nil {
		return classify("create spatial index", table+"."+column, err)
	}
	return nil
}

// geometryBatchSize is the number of rows fetched, and geometries written,
// per round trip.
var geometryBatchSize = 1000

// geometryCursor is declared inside a transaction, so one name serves every
// connection.
const geometryCursor = "geoimport_rows"

// UpdateGeometry implements core.GeometryStore. Rows are read through a
// cursor one page at a time, keyed by ctid, and each page's geometries are
// sent as one batch. Everything runs in a single transaction.
func (s *Store) UpdateGeometry(ctx context.Context, table, column string, srid int, columns []string, fn core.GeometryFunc) error {
	selects := make([]string, 0, len(columns)+1)
	selects = append(selects, "ctid::text")
	for _, c := range columns {
		selects = append(selects, quoteIdentifier(c)+"::text")
	}
	declare := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR SELECT %s FROM %s",
		geometryCursor, strings.Join(selects, ", "), s.qualified(table))
	fetch := fmt.Sprintf("FETCH FORWARD %d FROM %s", geometryBatchSize, geometryCursor)
	update := fmt.Sprintf("UPDATE %s SET %s = ST_SetSRID(ST_GeomFromWKB($1), $2) WHERE ctid = $3::tid",
		s.qualified(table), quoteIdentifier(column))

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin geometry update of %s: %w", table, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, declare); err != nil {
		return classify("scan rows", table, err)
	}
	for {
		page, err := fetchRows(ctx, tx, fetch, len(columns))
		if err != nil {
			return fmt.Errorf("scan rows of %s: %w", table, err)
		}
		batch := &pgx.Batch{}
		for _, row := range page {
			data, err := fn(row)
			if err != nil {
				return err
			}
			if data != nil {
				batch.Queue(update, data, srid, row.ID)
			}
		}
		if batch.Len() > 0 {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return fmt.Errorf("write geometries of %s: %w", table, err)
			}
		}
		if len(page) < geometryBatchSize {
			break
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit geometry update of %s: %w", table, err)
	}
	return nil
}

// fetchRows reads one cursor page. Each row is its ctid followed by width
// text values.
func fetchRows(ctx context.Context, tx pgx.Tx, fetch string, width int) ([]core.Row, error) {
	rows, err := tx.Query(ctx, fetch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Row
	for rows.Next() {
		row := core.Row{Values: make([]*string, width)}
		dest := make([]any, 0, width+1)
		dest = append(dest, &row.ID)
		for i := range row.Values {
			dest = append(dest, &row.Values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DropColumn drops column from table if it exists.
func (s *Store) DropColumn(ctx context.Context, table, column string) error {
	sql := fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", s.qualified(table), quoteIdentifier(column))
	if _, err := s.conn.Exec(ctx, sql); err != nil {
		return classify("drop column", table+"."+column, err)
	}
	return nil
}

func (s *Store) qualified(table string) string {
	return pgx.Identifier{s.schema, table}.Sanitize()
}

func schemaOrDefault(schema string) string {
	if schema == "" {
		return DefaultSchema
	}
	return schema
}
