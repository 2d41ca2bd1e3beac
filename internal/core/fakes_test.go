package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// memTable is an in-memory table. Values are stored as text, nil is NULL.
type memTable struct {
	columns []string
	types   map[string]string
	rows    [][]*string
	geoms   map[string][]byte // rowID -> WKB, for the geometry column
}

func (t *memTable) index(column string) int {
	for i, c := range t.columns {
		if c == column {
			return i
		}
	}
	return -1
}

// memStore is a Store backed by maps. All connections share one database.
type memStore struct {
	mu     sync.Mutex
	tables map[string]*memTable

	closes  int
	created []string
	dropped []string

	// geometryUpdates counts UpdateGeometry calls.
	geometryUpdates int

	// createErr, when set, is returned by CreateTable and CopyTable for
	// the named table.
	createErr map[string]error
}

func newMemStore() *memStore {
	return &memStore{tables: make(map[string]*memTable), createErr: make(map[string]error)}
}

func (s *memStore) connector() Connector {
	return ConnectorFunc(func(context.Context) (Store, error) { return s, nil })
}

func (s *memStore) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *memStore) table(name string) (*memTable, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("relation %q does not exist", name)
	}
	return t, nil
}

// addTable creates a table with rows of text values.
func (s *memStore) addTable(name string, columns []string, rows ...[]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &memTable{columns: columns, types: map[string]string{}, geoms: map[string][]byte{}}
	for _, r := range rows {
		vals := make([]*string, len(r))
		for i := range r {
			v := r[i]
			vals[i] = &v
		}
		t.rows = append(t.rows, vals)
	}
	s.tables[name] = t
}

func (s *memStore) TableNames(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.tables {
		if strings.HasPrefix(strings.ToLower(name), strings.ToLower(prefix)) {
			out = append(out, name)
		}
	}
	return out, nil
}

func (s *memStore) CreateTable(_ context.Context, table string, schema ColumnSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErr[table]; err != nil {
		return err
	}
	if _, ok := s.tables[table]; ok {
		return ErrTableExists
	}
	t := &memTable{types: map[string]string{}, geoms: map[string][]byte{}}
	for _, c := range schema {
		t.columns = append(t.columns, c.Name)
		t.types[c.Name] = c.Type.SQLType()
	}
	s.tables[table] = t
	s.created = append(s.created, table)
	return nil
}

func (s *memStore) CopyRows(_ context.Context, table string, columns []string, src pgx.CopyFromSource) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	var n int64
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return n, err
		}
		row := make([]*string, len(t.columns))
		for i, v := range values {
			row[t.index(columns[i])] = textOf(v)
		}
		t.rows = append(t.rows, row)
		n++
	}
	return n, src.Err()
}

func textOf(v any) *string {
	var s string
	switch x := v.(type) {
	case nil:
		return nil
	case pgtype.Int4:
		if !x.Valid {
			return nil
		}
		s = strconv.Itoa(int(x.Int32))
	case pgtype.Float8:
		if !x.Valid {
			return nil
		}
		s = strconv.FormatFloat(x.Float64, 'f', -1, 64)
	case pgtype.Text:
		if !x.Valid {
			return nil
		}
		s = x.String
	default:
		s = fmt.Sprint(x)
	}
	return &s
}

func (s *memStore) CopyTable(_ context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createErr[dst]; err != nil {
		return err
	}
	from, err := s.table(src)
	if err != nil {
		return err
	}
	if _, ok := s.tables[dst]; ok {
		return ErrTableExists
	}
	cp := &memTable{
		columns: append([]string(nil), from.columns...),
		types:   from.types,
		rows:    append([][]*string(nil), from.rows...),
		geoms:   map[string][]byte{},
	}
	s.tables[dst] = cp
	s.created = append(s.created, dst)
	return nil
}

func (s *memStore) CountRows(_ context.Context, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(table)
	if err != nil {
		return 0, err
	}
	return int64(len(t.rows)), nil
}

func (s *memStore) DropTable(_ context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[table]; ok {
		delete(s.tables, table)
		s.dropped = append(s.dropped, table)
	}
	return nil
}

func (s *memStore) Close(context.Context) error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *memStore) Columns(_ context.Context, table string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(table)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), t.columns...), nil
}

func (s *memStore) SampleValue(_ context.Context, table, column string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(table)
	if err != nil {
		return "", false, err
	}
	i := t.index(column)
	if i < 0 {
		return "", false, fmt.Errorf("column %q does not exist", column)
	}
	for _, r := range t.rows {
		if r[i] != nil {
			return *r[i], true, nil
		}
	}
	return "", false, nil
}

func (s *memStore) RenameColumn(_ context.Context, table, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(table)
	if err != nil {
		return err
	}
	i := t.index(from)
	if i < 0 {
		return fmt.Errorf("column %q does not exist", from)
	}
	t.columns[i] = to
	return nil
}

func (s *memStore) AddGeometryColumn(_ context.Context, table, column string, srid int, geomType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(table)
	if err != nil {
		return err
	}
	if t.index(column) >= 0 {
		return fmt.Errorf("column %q already exists", column)
	}
	t.columns = append(t.columns, column)
	t.types[column] = fmt.Sprintf("geometry(%s,%d)", geomType, srid)
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], nil)
	}
	return nil
}

func (s *memStore) CreateSpatialIndex(_ context.Context, table, column string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(table)
	if err != nil {
		return err
	}
	t.types[column+"_idx"] = "gist"
	return nil
}

// UpdateGeometry applies the computed geometries only when fn succeeds for
// every row, like the store's single transaction.
func (s *memStore) UpdateGeometry(_ context.Context, table, column string, _ int, columns []string, fn GeometryFunc) error {
	s.mu.Lock()
	t, err := s.table(table)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if t.index(column) < 0 {
		s.mu.Unlock()
		return fmt.Errorf("column %q does not exist", column)
	}
	idx := make([]int, len(columns))
	for i, c := range columns {
		if idx[i] = t.index(c); idx[i] < 0 {
			s.mu.Unlock()
			return fmt.Errorf("column %q does not exist", c)
		}
	}
	rows := make([]Row, len(t.rows))
	for n, r := range t.rows {
		vals := make([]*string, len(columns))
		for i, j := range idx {
			vals[i] = r[j]
		}
		rows[n] = Row{ID: strconv.Itoa(n), Values: vals}
	}
	s.geometryUpdates++
	s.mu.Unlock()

	pending := map[string][]byte{}
	for _, row := range rows {
		data, err := fn(row)
		if err != nil {
			return err
		}
		if data != nil {
			pending[row.ID] = data
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, data := range pending {
		t.geoms[id] = data
	}
	return nil
}

func (s *memStore) DropColumn(_ context.Context, table, column string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.table(table)
	if err != nil {
		return err
	}
	i := t.index(column)
	if i < 0 {
		return fmt.Errorf("column %q does not exist", column)
	}
	t.columns = append(t.columns[:i], t.columns[i+1:]...)
	for n, r := range t.rows {
		t.rows[n] = append(r[:i], r[i+1:]...)
	}
	return nil
}

// fakeSpreadsheet writes a fixed CSV body for every conversion.
type fakeSpreadsheet struct {
	csv   string
	kinds []string
	err   error
}

func (f *fakeSpreadsheet) ToCSV(_ context.Context, _, kind, dst string, log *RunLog) error {
	f.kinds = append(f.kinds, kind)
	if f.err != nil {
		return f.err
	}
	log.AddStdout("converted " + kind)
	return os.WriteFile(dst, []byte(f.csv), 0o644)
}

// fakeVector writes an empty shapefile bundle next to dst.
type fakeVector struct{ err error }

func (f *fakeVector) ToShapefile(_ context.Context, _, dst string, _ *RunLog) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	base := strings.TrimSuffix(dst, filepath.Ext(dst))
	var files []string
	for _, ext := range []string{".shp", ".shx", ".dbf", ".prj"} {
		p := base + ext
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			return files, err
		}
		files = append(files, p)
	}
	return files, nil
}

// fakeLoader creates the target table with a fixed number of rows, acting
// like shp2pgsql or raster2pgsql piped into psql.
type fakeLoader struct {
	store *memStore
	rows  int
	err   error

	// partial makes a failing load leave its table behind, like psql
	// dying halfway through a dump.
	partial bool
	// before runs ahead of the load with the target table name.
	before func(table string) error

	paths []string
	srids []int
}

func (f *fakeLoader) load(path, table string, srid int) error {
	f.paths = append(f.paths, path)
	f.srids = append(f.srids, srid)
	if f.before != nil {
		if err := f.before(table); err != nil {
			return err
		}
	}
	if f.err != nil {
		if f.partial {
			f.store.addTable(table, []string{"gid"})
		}
		return f.err
	}
	var rows [][]string
	for i := 0; i < f.rows; i++ {
		rows = append(rows, []string{strconv.Itoa(i + 1)})
	}
	f.store.addTable(table, []string{"gid"}, rows...)
	return nil
}

func (f *fakeLoader) LoadVector(_ context.Context, path, table string, srid int, _ *RunLog) error {
	return f.load(path, table, srid)
}

func (f *fakeLoader) LoadRaster(_ context.Context, path, table string, srid int, _ *RunLog) error {
	return f.load(path, table, srid)
}

// fakeFetcher serves fixed content for every URL.
type fakeFetcher struct {
	body string
	err  error
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url, dst string) error {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(dst, []byte(f.body), 0o644)
}

var errBoom = errors.New("boom")
