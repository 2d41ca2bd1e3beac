package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxDispatchSteps bounds the conversion chain. The longest legal chain is
// archive -> spreadsheet or vector conversion -> terminal load.
const maxDispatchSteps = 4

// defaultTableName seeds name resolution when a file name sanitizes to
// nothing.
const defaultTableName = "untitled_table"

// Options configures an Importer.
type Options struct {
	// WorkDir is the parent of the per-import working directories.
	// os.TempDir() is used when empty.
	WorkDir string

	// MaxFileSize caps local copies and uploads. Zero disables the cap.
	MaxFileSize int64

	// DefaultSRID is forwarded to loaders when a source declares none.
	DefaultSRID int
}

// Importer runs imports. It is safe for concurrent use; each call to Import
// gets its own Store, working directory and run log.
type Importer struct {
	connector Connector
	tools     Toolset
	fetcher   Fetcher
	logger    *slog.Logger
	opts      Options
	now       func() time.Time
}

// NewImporter creates an Importer. fetcher may be nil to disable remote
// sources; a nil logger discards diagnostics.
func NewImporter(connector Connector, tools Toolset, fetcher Fetcher, logger *slog.Logger, opts Options) *Importer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.DefaultSRID == 0 {
		opts.DefaultSRID = geometrySRID
	}
	return &Importer{
		connector: connector,
		tools:     tools,
		fetcher:   fetcher,
		logger:    logger,
		opts:      opts,
		now:       time.Now,
	}
}

// importContext is the mutable state of one import. It is owned by a single
// Import call and never shared.
type importContext struct {
	id     string
	req    ImportRequest
	stage  Stage
	dir    string
	store  Store
	logger *slog.Logger
	log    *RunLog

	path       string // current working file
	ext        string // extension of path
	importType string
	seed       string // suggested name before resolution
	forced     bool
	name       string // working table name

	created []string // tables created by this request, in order
	temps   []string // files to remove on teardown
}

// Import runs req through the pipeline and loads it into a new table.
//
// On failure the returned error is an *ImportError matching at most one of
// the Err* sentinels. Tables created by this request are dropped; tables
// that existed before are never touched. Temporary files and the store
// connection are released on every path.
func (im *Importer) Import(ctx context.Context, req ImportRequest) (result *ImportResult, err error) {
	ic := im.newContext(ctx, req)

	defer ic.teardown(ctx)
	defer func() {
		if r := recover(); r != nil {
			ic.logger.Error("panic in import", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic during import: %v", r)
		}
		if err != nil {
			ic.rollback(ctx)
			err = ic.fail(err)
			result = nil
		}
	}()

	if err := im.initialize(ctx, ic); err != nil {
		return nil, err
	}

	ic.enter(StageResolvingSource)
	if err := os.MkdirAll(ic.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	path, err := materialize(ctx, req.Source, ic.dir, im.fetcher, im.opts.MaxFileSize)
	ic.track(path)
	if err != nil {
		return nil, err
	}
	ic.setFile(path)
	ic.log.Logf("source materialized at %s", path)

	ic.enter(StageDispatching)
	terminal, err := im.dispatch(ctx, ic)
	if err != nil {
		return nil, err
	}

	ic.enter(StageLoading)
	switch terminal {
	case PathDelimited:
		err = im.loadDelimited(ctx, ic)
	case PathShapefile:
		err = im.loadStaged(ctx, ic, "load shapefile", func(staging string) error {
			if im.tools.Shapefile == nil {
				return newError(ErrUnsupportedFormat, "load shapefile", ic.path, errors.New("no shapefile loader configured"))
			}
			return im.tools.Shapefile.LoadVector(ctx, ic.path, staging, im.opts.DefaultSRID, ic.log)
		})
	case PathRaster:
		err = im.loadStaged(ctx, ic, "load raster", func(staging string) error {
			if im.tools.Raster == nil {
				return newError(ErrUnsupportedFormat, "load raster", ic.path, errors.New("no raster loader configured"))
			}
			return im.tools.Raster.LoadRaster(ctx, ic.path, staging, im.opts.DefaultSRID, ic.log)
		})
	}
	if err != nil {
		return nil, err
	}

	if terminal == PathDelimited {
		ic.enter(StageDerivingGeometry)
		src, err := DeriveGeometry(ctx, ic.store, ic.name, ic.log)
		if err != nil {
			return nil, err
		}
		ic.log.Logf("geometry source: %s", src)
	}

	ic.enter(StageFinalizing)
	rows, err := ic.store.CountRows(ctx, ic.name)
	if err != nil {
		return nil, fmt.Errorf("count rows of %s: %w", ic.name, err)
	}
	if rows == 0 {
		return nil, newError(ErrEmptyResult, "finalize", ic.name, nil)
	}

	ic.enter(StageSucceeded)
	ic.log.Logf("imported %d rows into %s", rows, ic.name)
	return &ImportResult{
		Name:         ic.name,
		RowsImported: rows,
		ImportType:   ic.importType,
		RunLog:       ic.log.Snapshot(),
	}, nil
}

func (im *Importer) newContext(ctx context.Context, req ImportRequest) *importContext {
	id := uuid.New().String()
	level := slog.LevelDebug
	if req.Debug {
		level = slog.LevelInfo
	}
	logger := im.logger.With("import_id", id)

	ic := &importContext{
		id:     id,
		req:    req,
		dir:    filepath.Join(im.opts.WorkDir, "geoimport-"+id),
		logger: logger,
	}
	ic.log = newRunLog(func(stream, line string) {
		logger.Log(ctx, level, line, "stream", stream, "stage", ic.stage)
	})
	return ic
}

// initialize validates the request, opens the store and resolves the first
// working table name.
func (im *Importer) initialize(ctx context.Context, ic *importContext) error {
	ic.enter(StageInitializing)

	req := ic.req
	if req.Source.Kind == SourceNone {
		return newError(ErrInvalidRequest, "validate request", "", errors.New("no source given"))
	}
	name := sourceName(req.Source)
	if name == "" {
		return newError(ErrInvalidRequest, "validate request", sourceLabel(req.Source), errors.New("source has no file name"))
	}
	if req.AppendToTable {
		ic.log.Logf("append_to_table is advisory; a new table is created")
	}

	if forced := strings.TrimSpace(req.TableName); forced != "" {
		ic.seed, ic.forced = forced, true
	} else {
		ic.seed = ic.nameFromFile(name)
	}

	store, err := im.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect to store: %w", err)
	}
	ic.store = store

	return ic.resolveName(ctx)
}

// dispatch runs archive expansion and pre-conversions until ic.path has a
// terminal format, which it returns.
func (im *Importer) dispatch(ctx context.Context, ic *importContext) (Path, error) {
	for step := 0; step < maxDispatchSteps; step++ {
		p, err := Dispatch(ic.ext)
		if err != nil {
			return p, err
		}
		ic.log.Logf("dispatch %s -> %s", ic.ext, p)

		if p != PathArchive && ic.importType == "" {
			ic.importType = ic.ext
		}

		switch p {
		case PathArchive:
			selected, extracted, err := ExpandArchive(ic.path, ic.dir, ic.log)
			ic.track(extracted...)
			if err != nil {
				return p, err
			}
			ic.log.Logf("selected %s from archive (%d files extracted)", filepath.Base(selected), len(extracted))
			ic.setFile(selected)
			if !ic.forced {
				ic.seed = ic.nameFromFile(filepath.Base(selected))
				if err := ic.resolveName(ctx); err != nil {
					return p, err
				}
			}

		case PathSpreadsheet:
			if im.tools.Spreadsheet == nil {
				return p, newError(ErrUnsupportedFormat, "convert spreadsheet", ic.ext, errors.New("no spreadsheet converter configured"))
			}
			dst := ic.tempPath(step, ".csv")
			ic.track(dst)
			if err := im.tools.Spreadsheet.ToCSV(ctx, ic.path, ic.ext, dst, ic.log); err != nil {
				return p, conversionError("convert spreadsheet", ic.path, err)
			}
			ic.setFile(dst)

		case PathVectorConvert:
			if im.tools.Vector == nil {
				return p, newError(ErrUnsupportedFormat, "convert vector", ic.ext, errors.New("no vector converter configured"))
			}
			dst := ic.tempPath(step, ".shp")
			files, err := im.tools.Vector.ToShapefile(ctx, ic.path, dst, ic.log)
			ic.track(dst)
			ic.track(files...)
			if err != nil {
				return p, conversionError("convert vector", ic.path, err)
			}
			ic.setFile(dst)

		default:
			return p, nil
		}
	}
	return PathUnsupported, newError(ErrUnsupportedFormat, "dispatch", ic.path, errors.New("too many conversion steps"))
}

// loadDelimited infers the schema of a delimited file, creates the table
// and bulk-loads the rows.
func (im *Importer) loadDelimited(ctx context.Context, ic *importContext) error {
	delim, schema, err := InferSchema(ic.path)
	if err != nil {
		return err
	}
	ic.log.Logf("delimiter %q, %d columns", delim, len(schema))
	for _, c := range schema {
		ic.log.Logf("column %s %s", c.Name, c.Type.SQLType())
	}

	if err := ic.store.CreateTable(ctx, ic.name, schema); err != nil {
		return tableError("create table", ic.name, err)
	}
	ic.created = append(ic.created, ic.name)

	r, closer, err := openDelimited(ic.path, delim)
	if err != nil {
		return err
	}
	defer closer.Close()

	src := newCSVRowSource(r, schema)
	if err := src.skipHeader(); err != nil {
		return err
	}
	n, err := ic.store.CopyRows(ctx, ic.name, schema.Names(), src)
	if err != nil {
		return fmt.Errorf("copy rows into %s: %w", ic.name, err)
	}
	if src.ragged > 0 {
		ic.log.Logf("%d rows had more fields than the header; extra fields dropped", src.ragged)
	}
	ic.log.Logf("copied %d rows", n)
	if n == 0 {
		return newError(ErrEmptyResult, "load delimited file", ic.path, nil)
	}
	return nil
}

// loadStaged runs an external loader into a staging table, then copies it
// to the final name, resolved again right before the copy.
func (im *Importer) loadStaged(ctx context.Context, ic *importContext, op string, load func(staging string) error) error {
	seed := truncateIdentifier(fmt.Sprintf("importing_%d_%s_%s", im.now().Unix(), ic.id[:8], ic.name), maxIdentifierLen-3)
	staging, err := ResolveName(ctx, ic.store, seed)
	if err != nil {
		return err
	}
	ic.log.Logf("loading into staging table %s", staging)

	loadErr := load(staging)
	if errors.Is(loadErr, ErrTableExists) {
		// Someone else owns the table; leave it alone.
		return newError(ErrNameCollision, op, staging, loadErr)
	}
	exists, err := ic.tableExists(ctx, staging)
	if err != nil {
		return fmt.Errorf("look up staging table %s: %w", staging, err)
	}
	if exists {
		ic.created = append(ic.created, staging)
	}
	if loadErr != nil {
		return conversionError(op, ic.path, loadErr)
	}
	if !exists {
		return newError(ErrConversionFailure, op, staging, errors.New("loader produced no table"))
	}

	rows, err := ic.store.CountRows(ctx, staging)
	if err != nil {
		return fmt.Errorf("count rows in %s: %w", staging, err)
	}
	if rows == 0 {
		return newError(ErrEmptyResult, op, staging, nil)
	}

	if err := ic.resolveName(ctx); err != nil {
		return err
	}
	if err := ic.store.CopyTable(ctx, staging, ic.name); err != nil {
		return tableError("copy staging table", ic.name, err)
	}
	ic.created = append(ic.created, ic.name)

	if err := ic.store.DropTable(ctx, staging); err != nil {
		return fmt.Errorf("drop staging table %s: %w", staging, err)
	}
	ic.created = removeString(ic.created, staging)
	return nil
}

func (ic *importContext) enter(stage Stage) {
	ic.stage = stage
	ic.logger.Debug("import stage", "stage", stage)
}

func (ic *importContext) tableExists(ctx context.Context, table string) (bool, error) {
	names, err := ic.store.TableNames(ctx, table)
	if err != nil {
		return false, err
	}
	for _, n := range names {
		if strings.EqualFold(n, table) {
			return true, nil
		}
	}
	return false, nil
}

func (ic *importContext) resolveName(ctx context.Context) error {
	name, err := ResolveName(ctx, ic.store, ic.seed)
	if err != nil {
		return err
	}
	if name != ic.name {
		ic.log.Logf("table name %s", name)
	}
	ic.name = name
	return nil
}

// nameFromFile derives a suggested table name from a file name.
func (ic *importContext) nameFromFile(file string) string {
	name := SanitizeIdentifier(strings.ReplaceAll(baseName(file), ".", "_"))
	if name == "" {
		ic.log.Logf("file name %q yields no usable table name; using %s", file, defaultTableName)
		return defaultTableName
	}
	return name
}

func (ic *importContext) setFile(path string) {
	ic.path = path
	ic.ext = extOf(path)
}

func (ic *importContext) tempPath(step int, ext string) string {
	return filepath.Join(ic.dir, fmt.Sprintf("converted_%d%s", step, ext))
}

func (ic *importContext) track(paths ...string) {
	for _, p := range paths {
		if p != "" {
			ic.temps = append(ic.temps, p)
		}
	}
}

// rollback drops the tables this request created, newest first.
func (ic *importContext) rollback(ctx context.Context) {
	if ic.store == nil || len(ic.created) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for i := len(ic.created) - 1; i >= 0; i-- {
		table := ic.created[i]
		if err := ic.store.DropTable(ctx, table); err != nil {
			ic.log.AddErr(fmt.Sprintf("rollback: drop %s: %v", table, err))
			continue
		}
		ic.log.Logf("rollback: dropped %s", table)
	}
	ic.created = nil
}

// teardown closes the store and removes every temporary file.
func (ic *importContext) teardown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if ic.store != nil {
		if err := ic.store.Close(ctx); err != nil {
			ic.logger.Warn("close store", "error", err)
		}
	}
	for _, p := range ic.temps {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			ic.logger.Warn("remove temp file", "path", p, "error", err)
		}
	}
	if err := os.RemoveAll(ic.dir); err != nil {
		ic.logger.Warn("remove work dir", "dir", ic.dir, "error", err)
	}
}

// fail turns err into the *ImportError returned to the caller.
func (ic *importContext) fail(err error) error {
	var ie *ImportError
	if !errors.As(err, &ie) {
		ie = &ImportError{Err: err}
	}
	if ie.Stage == "" {
		ie.Stage = ic.stage
	}
	ic.log.AddErr(ie.Error())
	ie.RunLog = ic.log.Snapshot()

	ic.logger.Warn("import failed", "stage", ie.Stage, "error", ie.Error())
	ic.stage = StageFailed
	return ie
}

// conversionError marks a failed external conversion, keeping a more
// specific kind when err already has one.
func conversionError(op, detail string, err error) error {
	if KindOf(err) != nil {
		return err
	}
	return newError(ErrConversionFailure, op, detail, err)
}

// tableError maps a name already taken at creation time to a collision.
func tableError(op, table string, err error) error {
	if errors.Is(err, ErrTableExists) {
		return newError(ErrNameCollision, op, table, err)
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

func removeString(items []string, s string) []string {
	out := items[:0]
	for _, it := range items {
		if it != s {
			out = append(out, it)
		}
	}
	return out
}
