package core

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5"
)

// SourceKind identifies where an import reads its input from.
type SourceKind int

const (
	SourceNone SourceKind = iota
	SourcePath
	SourceURL
	SourceUpload
)

// Source is the input of an import: a local path, a remote URL or an
// in-memory upload. Exactly one of the constructors below should be used.
type Source struct {
	Kind     SourceKind
	Path     string    // SourcePath
	URL      string    // SourceURL
	Reader   io.Reader // SourceUpload
	Filename string    // SourceUpload: original file name, decides the extension
}

// PathSource imports a file on the local filesystem. The file is copied into
// the working directory and never modified.
func PathSource(path string) Source {
	return Source{Kind: SourcePath, Path: path}
}

// URLSource imports a file fetched over http(s).
func URLSource(url string) Source {
	return Source{Kind: SourceURL, URL: url}
}

// UploadSource imports the content of r. filename supplies the extension
// and the suggested table name.
func UploadSource(r io.Reader, filename string) Source {
	return Source{Kind: SourceUpload, Reader: r, Filename: filename}
}

// ImportRequest describes one import.
type ImportRequest struct {
	Source Source

	// TableName, when non-blank, is used verbatim as the seed of name
	// resolution instead of a name derived from the file.
	TableName string

	// AppendToTable is accepted but advisory: the pipeline always creates a
	// new table and records a note in the run log.
	AppendToTable bool

	// Debug emits pipeline diagnostics at info level instead of debug.
	Debug bool
}

// ImportResult is the outcome of a successful import. It is never returned
// for a failed request.
type ImportResult struct {
	Name         string `json:"name"`
	RowsImported int64  `json:"rows_imported"`
	ImportType   string `json:"import_type"`
	RunLog       RunLog `json:"run_log"`
}

// Stage is a state of the import state machine.
type Stage string

const (
	StageInitializing     Stage = "initializing"
	StageResolvingSource  Stage = "resolving_source"
	StageDispatching      Stage = "dispatching"
	StageLoading          Stage = "loading"
	StageDerivingGeometry Stage = "deriving_geometry"
	StageFinalizing       Stage = "finalizing"
	StageSucceeded        Stage = "succeeded"
	StageFailed           Stage = "failed"
)

// Row is one table row read for geometry derivation. ID is an opaque row
// locator understood by the Store that produced it; a nil value is NULL.
type Row struct {
	ID     string
	Values []*string
}

// GeometryFunc computes the WKB geometry of one row, or nil for none.
type GeometryFunc func(row Row) ([]byte, error)

// Store is the relational/spatial store capability used by one import.
// A Store wraps a single connection owned by one request; it is never shared.
type Store interface {
	GeometryStore

	// TableNames lists tables in the target schema whose name starts with
	// prefix, compared case-insensitively. An empty prefix lists all tables.
	TableNames(ctx context.Context, prefix string) ([]string, error)

	// CreateTable creates table with the given columns. It returns an error
	// matching ErrTableExists when the name is already taken.
	CreateTable(ctx context.Context, table string, schema ColumnSchema) error

	// CopyRows bulk-loads rows into table and returns the number written.
	CopyRows(ctx context.Context, table string, columns []string, src pgx.CopyFromSource) (int64, error)

	// CopyTable creates dst as a copy of src. It returns an error matching
	// ErrTableExists when dst is already taken.
	CopyTable(ctx context.Context, src, dst string) error

	CountRows(ctx context.Context, table string) (int64, error)

	// DropTable drops table if it exists.
	DropTable(ctx context.Context, table string) error

	// Close releases the connection.
	Close(ctx context.Context) error
}

// GeometryStore is the subset of Store the Geometry Deriver needs.
type GeometryStore interface {
	Columns(ctx context.Context, table string) ([]string, error)
	SampleValue(ctx context.Context, table, column string) (value string, ok bool, err error)
	RenameColumn(ctx context.Context, table, from, to string) error
	AddGeometryColumn(ctx context.Context, table, column string, srid int, geomType string) error
	CreateSpatialIndex(ctx context.Context, table, column string) error

	// UpdateGeometry streams the given columns of every row of table to fn
	// and writes the WKB geometry fn returns into column. A nil geometry
	// leaves the row alone. The writes share one transaction; an error from
	// fn aborts all of them.
	UpdateGeometry(ctx context.Context, table, column string, srid int, columns []string, fn GeometryFunc) error

	DropColumn(ctx context.Context, table, column string) error
}

// Connector opens a dedicated Store for one import.
type Connector interface {
	Connect(ctx context.Context) (Store, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (Store, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context) (Store, error) { return f(ctx) }

// SpreadsheetConverter turns a spreadsheet into an equivalent CSV file.
// kind is the normalized extension (".xls", ".xlsx", ".ods").
type SpreadsheetConverter interface {
	ToCSV(ctx context.Context, src, kind, dst string, log *RunLog) error
}

// VectorConverter converts a KML/GeoJSON dataset to a shapefile at dst.
// It returns every file it wrote, dst included.
type VectorConverter interface {
	ToShapefile(ctx context.Context, src, dst string, log *RunLog) ([]string, error)
}

// VectorLoader loads a shapefile into a newly created table.
type VectorLoader interface {
	LoadVector(ctx context.Context, path, table string, srid int, log *RunLog) error
}

// RasterLoader loads a raster into a newly created table. defaultSRID is
// used when the raster does not declare its own reference system.
type RasterLoader interface {
	LoadRaster(ctx context.Context, path, table string, defaultSRID int, log *RunLog) error
}

// Fetcher downloads a remote source to dst.
type Fetcher interface {
	Fetch(ctx context.Context, url, dst string) error
}

// Toolset groups the external conversion capabilities.
type Toolset struct {
	Spreadsheet SpreadsheetConverter
	Vector      VectorConverter
	Shapefile   VectorLoader
	Raster      RasterLoader
}
